package escalate

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uke16/Helix-sub002/internal/logging"
	"github.com/uke16/Helix-sub002/internal/model"
)

func testEscalation(phaseID string) *model.Escalation {
	return &model.Escalation{
		ProjectID: "proj-1",
		PhaseID:   phaseID,
		GateType:  "content_match",
		Message:   "output is ambiguous",
		Channel:   "desktop",
		RaisedAt:  model.NowUTC(),
	}
}

func TestStore_WriteAndLoad(t *testing.T) {
	s := NewStore(t.TempDir(), logging.NewNop())

	path, err := s.Write(testEscalation("review"))
	require.NoError(t, err)
	assert.FileExists(t, path)

	rec, err := s.Load(path)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, "review", rec.Escalation.PhaseID)
	assert.Equal(t, "output is ambiguous", rec.Escalation.Message)
	assert.Equal(t, path, rec.Path)
	assert.Empty(t, rec.Decision)
}

func TestStore_LoadRejectsWrongFileType(t *testing.T) {
	s := NewStore(t.TempDir(), logging.NewNop())
	require.NoError(t, os.MkdirAll(s.Dir(), 0o755))
	bad := s.Dir() + "/fake.yaml"
	require.NoError(t, os.WriteFile(bad, []byte("schema_version: 1\nfile_type: project_status\n"), 0o644))

	_, err := s.Load(bad)

	require.Error(t, err)
}

func TestStore_PendingFiltersResolved(t *testing.T) {
	s := NewStore(t.TempDir(), logging.NewNop())
	first, err := s.Write(testEscalation("design"))
	require.NoError(t, err)
	_, err = s.Write(testEscalation("review"))
	require.NoError(t, err)

	_, err = s.Resolve(first, DecisionSkip)
	require.NoError(t, err)

	pending, err := s.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "review", pending[0].Escalation.PhaseID)

	all, err := s.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_ResolveStampsDecision(t *testing.T) {
	s := NewStore(t.TempDir(), logging.NewNop())
	path, err := s.Write(testEscalation("review"))
	require.NoError(t, err)

	rec, err := s.Resolve(path, DecisionRetry)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, rec.Status)
	assert.Equal(t, DecisionRetry, rec.Decision)
	assert.NotEmpty(t, rec.DecidedAt)

	_, err = s.Resolve(path, DecisionFail)
	require.Error(t, err, "second resolve must be rejected")
	assert.Contains(t, err.Error(), "already resolved")
}

func TestStore_ResolveRejectsUnknownDecision(t *testing.T) {
	s := NewStore(t.TempDir(), logging.NewNop())
	path, err := s.Write(testEscalation("review"))
	require.NoError(t, err)

	_, err = s.Resolve(path, Decision("postpone"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid decision")
}

func TestStore_ListMissingDirIsEmpty(t *testing.T) {
	s := NewStore(t.TempDir(), logging.NewNop())

	records, err := s.List()

	require.NoError(t, err)
	assert.Empty(t, records)
}

func statusWithPhase(phaseID string, phaseState model.PhaseState) *model.ProjectStatus {
	st := model.NewProjectStatus("proj-1", []model.PhaseDeclaration{
		{ID: "design"}, {ID: phaseID},
	})
	st.State = model.ProjectStateRunning
	st.Phases["design"].State = model.PhaseStateCompleted
	st.Phases[phaseID].State = phaseState
	st.Phases[phaseID].Retries = 1
	st.Escalation = testEscalation(phaseID)
	st.Recount()
	return st
}

func resolvedRecord(phaseID string, d Decision) *Record {
	return &Record{
		Escalation: *testEscalation(phaseID),
		Status:     StatusResolved,
		Decision:   d,
		DecidedAt:  model.NowUTC(),
	}
}

func TestApplyDecision_RetryRequeuesPhase(t *testing.T) {
	st := statusWithPhase("review", model.PhaseStateFailed)

	err := ApplyDecision(st, resolvedRecord("review", DecisionRetry))

	require.NoError(t, err)
	assert.Equal(t, model.PhaseStatePending, st.Phases["review"].State)
	assert.Equal(t, 1, st.Phases["review"].Retries, "retry budget survives re-queue")
	assert.Nil(t, st.Escalation)
	assert.Equal(t, model.ProjectStateRunning, st.State)
}

func TestApplyDecision_SkipMarksPhaseSkipped(t *testing.T) {
	st := statusWithPhase("review", model.PhaseStateFailed)

	err := ApplyDecision(st, resolvedRecord("review", DecisionSkip))

	require.NoError(t, err)
	assert.Equal(t, model.PhaseStateSkipped, st.Phases["review"].State)
	assert.Nil(t, st.Escalation)
	assert.Equal(t, 2, st.CompletedPhases, "skipped counts as progressed")
}

func TestApplyDecision_FailEndsProject(t *testing.T) {
	st := statusWithPhase("review", model.PhaseStateFailed)

	err := ApplyDecision(st, resolvedRecord("review", DecisionFail))

	require.NoError(t, err)
	assert.Equal(t, model.ProjectStateFailed, st.State)
	require.NotNil(t, st.Error)
	assert.Contains(t, *st.Error, "review")
}

func TestApplyDecision_PendingRecordRejected(t *testing.T) {
	st := statusWithPhase("review", model.PhaseStateFailed)
	rec := resolvedRecord("review", DecisionRetry)
	rec.Status = StatusPending

	err := ApplyDecision(st, rec)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "still pending")
}

func TestApplyDecision_UnknownPhaseRejected(t *testing.T) {
	st := statusWithPhase("review", model.PhaseStateFailed)

	err := ApplyDecision(st, resolvedRecord("ghost", DecisionRetry))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestWaitForDecision(t *testing.T) {
	s := NewStore(t.TempDir(), logging.NewNop())
	path, err := s.Write(testEscalation("review"))
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		if _, err := s.Resolve(path, DecisionSkip); err != nil {
			t.Errorf("resolve: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := s.WaitForDecision(ctx, path)

	require.NoError(t, err)
	assert.Equal(t, DecisionSkip, rec.Decision)
}

func TestWaitForDecision_ContextCancelled(t *testing.T) {
	s := NewStore(t.TempDir(), logging.NewNop())
	path, err := s.Write(testEscalation("review"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.WaitForDecision(ctx, path)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
