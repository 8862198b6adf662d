// Package engine drives a project through its declared phases: staging
// inputs, invoking the agent, evaluating quality gates, and applying
// rejection decisions, with every transition persisted.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uke16/Helix-sub002/internal/agent"
	"github.com/uke16/Helix-sub002/internal/backoff"
	"github.com/uke16/Helix-sub002/internal/dataflow"
	"github.com/uke16/Helix-sub002/internal/escalate"
	"github.com/uke16/Helix-sub002/internal/events"
	"github.com/uke16/Helix-sub002/internal/gate"
	"github.com/uke16/Helix-sub002/internal/lock"
	"github.com/uke16/Helix-sub002/internal/logging"
	"github.com/uke16/Helix-sub002/internal/model"
	"github.com/uke16/Helix-sub002/internal/phase"
	"github.com/uke16/Helix-sub002/internal/planfile"
	"github.com/uke16/Helix-sub002/internal/reject"
	"github.com/uke16/Helix-sub002/internal/status"
)

// Notifier delivers an escalation alert to a human. nil disables
// notifications.
type Notifier func(channel, title, message string) error

// Deps are the engine's collaborators. Agent is required; everything
// else defaults sensibly.
type Deps struct {
	Agent    agent.Runner
	Phase    phase.Options
	Tracker  *status.Tracker
	Gates    *gate.Engine
	Bus      *events.Bus
	Flow     *dataflow.Manager
	Backoff  backoff.Config
	Notifier Notifier
	Log      *logging.Logger
}

// Runner orchestrates project runs. It is safe for reuse across runs;
// per-run state lives on the run struct.
type Runner struct {
	deps Deps
	log  *logging.Logger
}

func NewRunner(d Deps) *Runner {
	if d.Log == nil {
		d.Log = logging.NewNop()
	}
	if d.Tracker == nil {
		d.Tracker = status.NewTracker(d.Log)
	}
	if d.Gates == nil {
		d.Gates = gate.NewEngine()
	}
	if d.Bus == nil {
		d.Bus = events.NewBus(0)
	}
	if d.Flow == nil {
		d.Flow = dataflow.NewManager(d.Log)
	}
	if d.Backoff == (backoff.Config{}) {
		d.Backoff = backoff.DefaultConfig()
	}
	return &Runner{deps: d, log: d.Log.Named("engine")}
}

// Bus exposes the event bus for subscribers.
func (r *Runner) Bus() *events.Bus {
	return r.deps.Bus
}

// RunOptions parameterize one project run.
type RunOptions struct {
	ProjectDir string
	// ProjectID defaults to the project directory name.
	ProjectID string
	// Resume continues a previous run instead of starting over.
	Resume bool
	// DryRun walks the plan without invoking the agent or gates.
	DryRun bool
	// OnProgress receives every event synchronously, in order.
	OnProgress func(events.Event)
}

// run carries the state of one project run.
type run struct {
	r          *Runner
	opts       RunOptions
	projectDir string
	st         *model.ProjectStatus
	queue      []model.PhaseDeclaration
	feedback   map[string]string
	journal    *events.Journal
	executor   *phase.Executor
	escs       *escalate.Store
	log        *logging.Logger
}

// Run executes or resumes the project at opts.ProjectDir until it
// completes, fails, or suspends on an escalation. The returned status
// reflects the final persisted state. An error is returned only for
// faults outside the plan's control: bad declarations, lock or
// persistence failures, and context cancellation. A project failing
// its phases is a result, not an error.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*model.ProjectStatus, error) {
	projectDir, err := filepath.Abs(opts.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}

	decls, err := planfile.Load(projectDir)
	if err != nil {
		return nil, err
	}

	projectID := opts.ProjectID
	if projectID == "" {
		projectID = filepath.Base(projectDir)
	}
	if err := model.ValidateProjectID(projectID); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(status.LogsDir(projectDir), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	flock := lock.NewFileLock(status.LockPath(projectDir))
	if err := flock.TryLock(); err != nil {
		return nil, err
	}
	defer func() {
		if uerr := flock.Unlock(); uerr != nil {
			r.log.Warn("release lock", zap.Error(uerr))
		}
	}()

	existing, found, err := r.deps.Tracker.Load(projectDir)
	if err != nil {
		return nil, err
	}

	var st *model.ProjectStatus
	if opts.Resume {
		if !found {
			return nil, fmt.Errorf("nothing to resume: no status recorded in %s", projectDir)
		}
		if model.IsProjectTerminal(existing.State) {
			return nil, fmt.Errorf("project %s already %s; start a new run instead", existing.ProjectID, existing.State)
		}
		if existing.Escalation != nil {
			return nil, fmt.Errorf("project %s is waiting on an escalation for phase %s; resolve it first",
				existing.ProjectID, existing.Escalation.PhaseID)
		}
		st = existing
	} else {
		st = model.NewProjectStatus(projectID, decls)
	}

	runID := uuid.NewString()
	st.RunID = runID

	journal, err := events.NewJournal(status.JournalPath(projectDir), runID, 0)
	if err != nil {
		return nil, err
	}
	defer journal.Close()

	popts := r.deps.Phase
	popts.DryRun = opts.DryRun
	if popts.LogDir == "" {
		popts.LogDir = status.LogsDir(projectDir)
	}

	rn := &run{
		r:          r,
		opts:       opts,
		projectDir: projectDir,
		st:         st,
		queue:      append([]model.PhaseDeclaration(nil), decls...),
		feedback:   make(map[string]string),
		journal:    journal,
		executor:   phase.NewExecutor(r.deps.Agent, popts, r.deps.Log),
		escs:       escalate.NewStore(status.HelixDir(projectDir), r.deps.Log),
		log:        r.log.With(zap.String("project", st.ProjectID), zap.String("run", runID)),
	}
	return rn.execute(ctx)
}

func (rn *run) execute(ctx context.Context) (*model.ProjectStatus, error) {
	startMsg := "project started"
	if rn.st.State == model.ProjectStatePending {
		if err := rn.transitionProject(model.ProjectStateRunning); err != nil {
			return rn.st, err
		}
	} else {
		startMsg = "project resumed"
	}
	if err := rn.save(); err != nil {
		return rn.st, err
	}
	rn.emit(events.ProjectStarted, "", startMsg, map[string]any{
		"phases":  len(rn.queue),
		"dry_run": rn.opts.DryRun,
		"resume":  rn.opts.Resume,
	})
	rn.log.Info(startMsg, zap.Int("phases", len(rn.queue)), zap.Bool("dry_run", rn.opts.DryRun))

	for i := 0; i < len(rn.queue); i++ {
		decl := rn.queue[i]
		ph := rn.st.EnsurePhase(decl.ID)

		switch ph.State {
		case model.PhaseStateCompleted:
			if err := rn.transitionPhase(ph, decl.ID, model.PhaseStateSkipped); err != nil {
				return rn.st, err
			}
			rn.st.Recount()
			if err := rn.save(); err != nil {
				return rn.st, err
			}
			rn.emit(events.PhaseSkipped, decl.ID, "completed in a previous run", map[string]any{"reason": "resume"})
			// A planning phase that completed before the interruption
			// re-contributes its sub-plan to the queue.
			if !rn.opts.DryRun {
				planPath := filepath.Join(dataflow.OutputDir(rn.projectDir, decl.ID), planfile.SubPlanFileName)
				if _, err := os.Stat(planPath); err == nil {
					if err := rn.spliceSubPlan(i, planPath); err != nil {
						if _, ferr := rn.failProjectOnly(fmt.Sprintf("phase %s produced an invalid sub-plan: %v", decl.ID, err)); ferr != nil {
							return rn.st, ferr
						}
						return rn.st, nil
					}
				}
			}
			continue

		case model.PhaseStateSkipped:
			rn.emit(events.PhaseSkipped, decl.ID, "skipped in a previous run", map[string]any{"reason": "resume"})
			continue

		case model.PhaseStateRunning, model.PhaseStateFailed:
			// A crash or suspended escalation left this phase behind;
			// re-queue it.
			rn.log.Warn("re-queueing interrupted phase",
				zap.String("phase", decl.ID),
				zap.String("state", string(ph.State)))
			if err := rn.transitionPhase(ph, decl.ID, model.PhaseStatePending); err != nil {
				return rn.st, err
			}
			ph.Reset()
		}

		if err := rn.transitionPhase(ph, decl.ID, model.PhaseStateRunning); err != nil {
			return rn.st, err
		}
		ph.StartedAt = model.StringPtr(model.NowUTC())
		ph.Error = nil
		if err := rn.save(); err != nil {
			return rn.st, err
		}
		var startDetails map[string]any
		if decl.Kind != "" {
			startDetails = map[string]any{"kind": decl.Kind}
		}
		rn.emit(events.PhaseStarted, decl.ID, fmt.Sprintf("phase %s (%s) started", decl.ID, decl.DisplayName()), startDetails)

		// Inputs are staged after the start event; a staging failure
		// leaves the phase running so resume re-queues it.
		if err := rn.stageInputs(decl); err != nil {
			return rn.st, err
		}

		result, runErr := rn.runWithRetry(ctx, decl)
		if runErr != nil {
			if ctx.Err() != nil {
				// Leave the phase marked running; resume re-queues it.
				if err := rn.save(); err != nil {
					rn.log.Warn("persist interrupted state", zap.Error(err))
				}
				return rn.st, ctx.Err()
			}
			return rn.failProject(decl.ID, ph, result, runErr.Error())
		}

		gr, gateErr := rn.checkGate(ctx, decl, ph.Retries)
		if gateErr != nil {
			// A gate that cannot be evaluated is an operator fault.
			if _, err := rn.failProject(decl.ID, ph, result, gateErr.Error()); err != nil {
				return rn.st, err
			}
			return rn.st, gateErr
		}

		if gr.Passed {
			if err := rn.completePhase(decl, ph, result, gr); err != nil {
				return rn.st, err
			}
			if result.HasPlan && !rn.opts.DryRun {
				if err := rn.spliceSubPlan(i, result.PlanPath); err != nil {
					if _, ferr := rn.failProjectOnly(fmt.Sprintf("phase %s produced an invalid sub-plan: %v", decl.ID, err)); ferr != nil {
						return rn.st, ferr
					}
					return rn.st, nil
				}
			}
			continue
		}

		res := reject.Decide(decl.ID, gr, decl.OnRejection, ph.Retries)
		rn.log.Info("gate rejected phase",
			zap.String("phase", decl.ID),
			zap.String("action", string(res.Action)),
			zap.String("message", res.Message))

		switch res.Action {
		case model.ActionRetry:
			targetIdx, projectFailed, err := rn.rewindForRetry(i, decl, ph, res)
			if err != nil {
				return rn.st, err
			}
			if projectFailed {
				return rn.st, nil
			}
			i = targetIdx - 1

		case model.ActionSkip:
			if err := rn.transitionPhase(ph, decl.ID, model.PhaseStateSkipped); err != nil {
				return rn.st, err
			}
			ph.CompletedAt = model.StringPtr(model.NowUTC())
			rn.st.Recount()
			if err := rn.save(); err != nil {
				return rn.st, err
			}
			rn.emit(events.PhaseSkipped, decl.ID, res.Message, map[string]any{"gate": gr.GateType})

		case model.ActionEscalate:
			if err := rn.raiseEscalation(decl, ph, gr, res); err != nil {
				return rn.st, err
			}
			return rn.st, nil

		default:
			return rn.failProject(decl.ID, ph, result, res.Message)
		}
	}

	// Phases dropped from the plan between runs leave pending records
	// behind; they are no longer part of the project.
	inQueue := make(map[string]bool, len(rn.queue))
	for _, d := range rn.queue {
		inQueue[d.ID] = true
	}
	for id, p := range rn.st.Phases {
		if p.State == model.PhaseStatePending && !inQueue[id] {
			delete(rn.st.Phases, id)
		}
	}

	if err := rn.transitionProject(model.ProjectStateCompleted); err != nil {
		return rn.st, err
	}
	rn.st.Recount()
	if err := rn.save(); err != nil {
		return rn.st, err
	}
	rn.emit(events.ProjectCompleted, "", fmt.Sprintf("project %s completed", rn.st.ProjectID), map[string]any{
		"completed_phases": rn.st.CompletedPhases,
		"total_phases":     rn.st.TotalPhases,
	})
	rn.log.Info("project completed", zap.Int("phases", rn.st.TotalPhases))
	return rn.st, nil
}

// stageInputs rebuilds the phase input directory from its declared
// sources and drops in gate feedback when this run is a retry.
func (rn *run) stageInputs(decl model.PhaseDeclaration) error {
	if err := rn.r.deps.Flow.CleanupInputs(rn.projectDir, decl.ID); err != nil {
		return fmt.Errorf("clean inputs for phase %s: %w", decl.ID, err)
	}
	if _, err := rn.r.deps.Flow.PrepareInputs(rn.projectDir, decl); err != nil {
		return fmt.Errorf("prepare inputs for phase %s: %w", decl.ID, err)
	}
	if fb, ok := rn.feedback[decl.ID]; ok {
		path := filepath.Join(dataflow.InputDir(rn.projectDir, decl.ID), dataflow.FeedbackFileName)
		if err := os.WriteFile(path, []byte(fb), 0o644); err != nil {
			return fmt.Errorf("write feedback for phase %s: %w", decl.ID, err)
		}
		delete(rn.feedback, decl.ID)
	}
	return nil
}

// runWithRetry invokes the phase, retrying transient agent failures
// with exponential backoff. Validation failures never retry.
func (rn *run) runWithRetry(ctx context.Context, decl model.PhaseDeclaration) (*model.PhaseResult, error) {
	var result *model.PhaseResult
	op := func() error {
		res, err := rn.executor.Execute(ctx, rn.projectDir, &decl)
		if res != nil {
			result = res
		}
		if err != nil {
			var verr *phase.ValidationError
			if errors.As(err, &verr) {
				return backoff.Permanent(err)
			}
			// Cancellation is not a transient agent fault.
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}
	notify := func(err error, attempt int, class backoff.Class, delay time.Duration) {
		rn.emit(events.PhaseRetrying, decl.ID,
			fmt.Sprintf("transient failure, retrying in %s", delay),
			map[string]any{
				"reason":  "transient_error",
				"attempt": attempt + 1,
				"class":   string(class),
				"delay":   delay.String(),
				"error":   err.Error(),
			})
	}
	err := backoff.WithRetryNotify(ctx, rn.r.deps.Backoff, op, notify)
	return result, err
}

// checkGate evaluates the phase's quality gate. Dry runs produce no
// outputs, so gates are waved through.
func (rn *run) checkGate(ctx context.Context, decl model.PhaseDeclaration, attempt int) (*model.GateResult, error) {
	if rn.opts.DryRun {
		return &model.GateResult{Passed: true, Message: "dry run, gate not evaluated"}, nil
	}
	return rn.r.deps.Gates.Check(ctx, dataflow.OutputDir(rn.projectDir, decl.ID), decl.QualityGate, attempt)
}

func (rn *run) completePhase(decl model.PhaseDeclaration, ph *model.PhaseStatus, result *model.PhaseResult, gr *model.GateResult) error {
	if err := rn.transitionPhase(ph, decl.ID, model.PhaseStateCompleted); err != nil {
		return err
	}
	ph.CompletedAt = model.StringPtr(model.NowUTC())
	ph.DurationSeconds = result.Duration.Seconds()
	files, err := dataflow.ListOutputs(rn.projectDir, decl.ID)
	if err != nil {
		rn.log.Warn("list outputs", zap.String("phase", decl.ID), zap.Error(err))
	}
	ph.OutputFiles = files
	rn.st.Recount()
	if err := rn.save(); err != nil {
		return err
	}
	rn.emit(events.PhaseCompleted, decl.ID, fmt.Sprintf("phase %s completed", decl.ID), map[string]any{
		"duration_seconds": result.Duration.Seconds(),
		"output_files":     len(files),
		"gate":             gr.Message,
	})
	return nil
}

// spliceSubPlan inserts the phases a planning phase emitted right
// after it in the queue.
func (rn *run) spliceSubPlan(i int, planPath string) error {
	known := make(map[string]bool, len(rn.queue))
	for _, d := range rn.queue {
		known[d.ID] = true
	}
	added, err := planfile.LoadSubPlan(planPath, known)
	if err != nil {
		return err
	}
	if len(added) == 0 {
		return nil
	}

	rest := append([]model.PhaseDeclaration(nil), rn.queue[i+1:]...)
	rn.queue = append(rn.queue[:i+1], append(added, rest...)...)
	for _, d := range added {
		rn.st.EnsurePhase(d.ID)
	}
	rn.st.Recount()
	if err := rn.save(); err != nil {
		return err
	}

	ids := make([]string, 0, len(added))
	for _, d := range added {
		ids = append(ids, d.ID)
	}
	rn.log.Info("sub-plan expanded the queue",
		zap.String("plan", planPath),
		zap.Strings("added", ids))
	return nil
}

// rewindForRetry re-queues every phase from the retry target through
// the rejected phase and returns the target's queue index. A target
// not in the queue fails the project (projectFailed=true).
func (rn *run) rewindForRetry(i int, decl model.PhaseDeclaration, ph *model.PhaseStatus, res *model.RejectionResult) (targetIdx int, projectFailed bool, err error) {
	targetIdx = -1
	for j := 0; j <= i; j++ {
		if rn.queue[j].ID == res.TargetPhase {
			targetIdx = j
			break
		}
	}
	if targetIdx == -1 {
		if _, err := rn.failProject(decl.ID, ph, nil,
			fmt.Sprintf("on_rejection of phase %s targets unknown phase %q", decl.ID, res.TargetPhase)); err != nil {
			return 0, false, err
		}
		return 0, true, nil
	}

	ph.Retries++
	rn.feedback[res.TargetPhase] = res.Feedback
	for j := targetIdx; j <= i; j++ {
		qp := rn.st.EnsurePhase(rn.queue[j].ID)
		if err := rn.transitionPhase(qp, rn.queue[j].ID, model.PhaseStatePending); err != nil {
			return 0, false, err
		}
		qp.Reset()
	}
	rn.st.Recount()
	if err := rn.save(); err != nil {
		return 0, false, err
	}
	rn.emit(events.PhaseRetrying, decl.ID, res.Message, map[string]any{
		"reason":  "gate_rejection",
		"target":  res.TargetPhase,
		"attempt": ph.Retries,
	})
	return targetIdx, false, nil
}

// raiseEscalation suspends the run: the phase is failed, the project
// stays running, and a pending escalation record awaits a decision.
func (rn *run) raiseEscalation(decl model.PhaseDeclaration, ph *model.PhaseStatus, gr *model.GateResult, res *model.RejectionResult) error {
	if err := rn.transitionPhase(ph, decl.ID, model.PhaseStateFailed); err != nil {
		return err
	}
	ph.CompletedAt = model.StringPtr(model.NowUTC())
	ph.Error = model.StringPtr(gr.Message)

	esc := res.Escalation
	esc.ProjectID = rn.st.ProjectID
	rn.st.Escalation = esc
	path, err := rn.escs.Write(esc)
	if err != nil {
		return err
	}
	if err := rn.save(); err != nil {
		return err
	}

	rn.emit(events.PhaseFailed, decl.ID, gr.Message, map[string]any{"gate": gr.GateType})
	rn.emit(events.EscalationRaised, decl.ID, res.Message, map[string]any{
		"record":  path,
		"channel": esc.Channel,
	})

	if rn.r.deps.Notifier != nil {
		title := fmt.Sprintf("helix: %s needs review", rn.st.ProjectID)
		if err := rn.r.deps.Notifier(esc.Channel, title, res.Message); err != nil {
			rn.log.Warn("escalation notification failed", zap.Error(err))
		}
	}
	rn.log.Warn("run suspended on escalation",
		zap.String("phase", decl.ID),
		zap.String("record", path))
	return nil
}

// failProject marks the phase and the whole project failed. The run
// ends but the failure is a result, not an error.
func (rn *run) failProject(phaseID string, ph *model.PhaseStatus, result *model.PhaseResult, msg string) (*model.ProjectStatus, error) {
	if ph.State == model.PhaseStateRunning {
		if err := rn.transitionPhase(ph, phaseID, model.PhaseStateFailed); err != nil {
			return rn.st, err
		}
	}
	ph.CompletedAt = model.StringPtr(model.NowUTC())
	ph.Error = model.StringPtr(msg)
	if result != nil {
		ph.DurationSeconds = result.Duration.Seconds()
	}
	rn.emit(events.PhaseFailed, phaseID, msg, nil)
	return rn.failProjectOnly(fmt.Sprintf("phase %s failed: %s", phaseID, msg))
}

func (rn *run) failProjectOnly(msg string) (*model.ProjectStatus, error) {
	if err := rn.transitionProject(model.ProjectStateFailed); err != nil {
		return rn.st, err
	}
	rn.st.Error = model.StringPtr(msg)
	rn.st.Recount()
	if err := rn.save(); err != nil {
		return rn.st, err
	}
	rn.emit(events.ProjectFailed, "", msg, nil)
	rn.log.Warn("project failed", zap.String("error", msg))
	return rn.st, nil
}

func (rn *run) transitionProject(to model.ProjectState) error {
	if err := model.ValidateProjectTransition(rn.st.State, to); err != nil {
		return fmt.Errorf("project %s: %w", rn.st.ProjectID, err)
	}
	rn.st.State = to
	return nil
}

func (rn *run) transitionPhase(ph *model.PhaseStatus, phaseID string, to model.PhaseState) error {
	if err := model.ValidatePhaseTransition(ph.State, to); err != nil {
		return fmt.Errorf("phase %s: %w", phaseID, err)
	}
	ph.State = to
	return nil
}

func (rn *run) save() error {
	return rn.r.deps.Tracker.Save(rn.projectDir, rn.st)
}

// emit journals the event, publishes it on the bus, and invokes the
// progress callback. The journal write is synchronous so the on-disk
// record is complete even when subscribers lag.
func (rn *run) emit(t events.Type, phaseID, msg string, details map[string]any) {
	ev := events.Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		ProjectID: rn.st.ProjectID,
		PhaseID:   phaseID,
		Message:   msg,
		Details:   details,
	}
	if err := rn.journal.Append(ev); err != nil {
		rn.log.Warn("journal append failed", zap.Error(err))
	}
	rn.r.deps.Bus.Publish(ev)
	if rn.opts.OnProgress != nil {
		rn.opts.OnProgress(ev)
	}
}
