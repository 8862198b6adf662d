package planfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uke16/Helix-sub002/internal/model"
)

func writePlan(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DeclarationFileName), []byte(content), 0o644))
}

func TestLoad_ValidPlan(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, `
phases:
  - id: design
    name: Design
    model: opus
  - id: implement
    input_from: design
    timeout_seconds: 600
    quality_gate:
      type: file_exists
      params:
        path: result.yaml
    on_rejection:
      action: retry
      target_phase: design
  - id: review
    input_from:
      - design: ["*.md"]
      - implement
`)

	decls, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, decls, 3)

	assert.Equal(t, "design", decls[0].ID)
	assert.Equal(t, "opus", decls[0].Model)
	assert.Equal(t, []string{"design"}, decls[1].InputFrom.PhaseIDs())
	assert.Equal(t, []string{"design", "implement"}, decls[2].InputFrom.PhaseIDs())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no phase declaration document")
}

func TestLoad_EmptyPlan(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, "phases: []\n")

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one phase")
}

func TestLoad_DuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, `
phases:
  - id: design
  - id: design
`)

	_, err := Load(dir)
	require.Error(t, err)

	var verrs *ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Contains(t, verrs.Error(), "duplicate phase id")
}

func TestLoad_ForwardInputReference(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, `
phases:
  - id: design
    input_from: implement
  - id: implement
`)

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an earlier phase")
}

func TestLoad_SelfInputReference(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, `
phases:
  - id: design
    input_from: design
`)

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot consume its own output")
}

func TestLoad_InvalidPhaseID(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, "phases:\n  - id: \"Bad Phase\"\n")

	_, err := Load(dir)
	require.Error(t, err)
}

func TestLoad_UnknownRetryTarget(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, `
phases:
  - id: design
  - id: implement
    on_rejection:
      action: retry
      target_phase: architecture
`)

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown phase")
}

func TestLoad_MissingRetryTargetLeftToPolicy(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, `
phases:
  - id: design
    on_rejection:
      action: retry
`)

	decls, err := Load(dir)
	require.NoError(t, err, "absent target is resolved by the rejection policy, not the loader")
	assert.Equal(t, model.ActionRetry, decls[0].OnRejection.Action)
	assert.Empty(t, decls[0].OnRejection.TargetPhase)
}

func TestLoad_UnknownRejectionActionLeftToPolicy(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, `
phases:
  - id: design
    on_rejection:
      action: panic
`)

	decls, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, model.RejectionAction("panic"), decls[0].OnRejection.Action)
}

func TestLoadSubPlan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SubPlanFileName)
	require.NoError(t, os.WriteFile(path, []byte(`
phases:
  - id: migrate
    input_from: design
  - id: verify
    input_from: migrate
`), 0o644))

	known := map[string]bool{"design": true, "plan": true}
	decls, err := LoadSubPlan(path, known)
	require.NoError(t, err)
	require.Len(t, decls, 2)
	assert.Equal(t, "migrate", decls[0].ID)
}

func TestLoadSubPlan_RedeclaresKnownPhase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SubPlanFileName)
	require.NoError(t, os.WriteFile(path, []byte("phases:\n  - id: design\n"), 0o644))

	_, err := LoadSubPlan(path, map[string]bool{"design": true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists in the running plan")
}

func TestLoadSubPlan_UnknownInputReference(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SubPlanFileName)
	require.NoError(t, os.WriteFile(path, []byte("phases:\n  - id: migrate\n    input_from: mystery\n"), 0o644))

	_, err := LoadSubPlan(path, map[string]bool{"design": true})
	require.Error(t, err)
}
