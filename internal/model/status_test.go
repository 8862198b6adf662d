package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func declProject() []PhaseDeclaration {
	return []PhaseDeclaration{
		{ID: "design"},
		{ID: "implement", InputFrom: InputFrom{{PhaseID: "design"}}},
		{ID: "review", InputFrom: InputFrom{{PhaseID: "implement"}}},
	}
}

func TestNewProjectStatus(t *testing.T) {
	st := NewProjectStatus("demo", declProject())

	assert.Equal(t, "demo", st.ProjectID)
	assert.Equal(t, ProjectStatePending, st.State)
	assert.Equal(t, 3, st.TotalPhases)
	assert.Equal(t, 0, st.CompletedPhases)
	require.Len(t, st.Phases, 3)
	for id, ph := range st.Phases {
		assert.Equal(t, PhaseStatePending, ph.State, "phase %s", id)
		assert.Nil(t, ph.StartedAt)
		assert.Nil(t, ph.Error)
	}
}

func TestProjectStatus_Recount(t *testing.T) {
	st := NewProjectStatus("demo", declProject())

	st.Phases["design"].State = PhaseStateCompleted
	st.Phases["implement"].State = PhaseStateSkipped
	st.Recount()

	assert.Equal(t, 3, st.TotalPhases)
	assert.Equal(t, 2, st.CompletedPhases)
	assert.LessOrEqual(t, st.CompletedPhases, st.TotalPhases)
}

func TestProjectStatus_AllPhasesDone(t *testing.T) {
	st := NewProjectStatus("demo", declProject())
	assert.False(t, st.AllPhasesDone())

	st.Phases["design"].State = PhaseStateCompleted
	st.Phases["implement"].State = PhaseStateCompleted
	assert.False(t, st.AllPhasesDone())

	st.Phases["review"].State = PhaseStateSkipped
	assert.True(t, st.AllPhasesDone())
}

func TestProjectStatus_EnsurePhase(t *testing.T) {
	st := NewProjectStatus("demo", declProject())

	existing := st.EnsurePhase("design")
	assert.Same(t, st.Phases["design"], existing)

	grown := st.EnsurePhase("deploy")
	assert.Equal(t, PhaseStatePending, grown.State)
	assert.Len(t, st.Phases, 4)
}

func TestPhaseStatus_ResetKeepsRetries(t *testing.T) {
	ph := &PhaseStatus{
		State:       PhaseStateFailed,
		StartedAt:   StringPtr("2026-01-02T03:04:05Z"),
		Error:       StringPtr("gate rejected output"),
		Retries:     2,
		OutputFiles: []string{"result.yaml"},
	}

	ph.Reset()

	assert.Equal(t, PhaseStatePending, ph.State)
	assert.Nil(t, ph.StartedAt)
	assert.Nil(t, ph.Error)
	assert.Empty(t, ph.OutputFiles)
	assert.Equal(t, 2, ph.Retries)
}
