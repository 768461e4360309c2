package engine

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/loomci/loom/log"
	"github.com/loomci/loom/loom/db"
	"github.com/loomci/loom/loom/models"
	"github.com/loomci/loom/loom/secrets"
	"github.com/loomci/loom/notifier"
	"github.com/loomci/loom/workflow"
)

// Runner drives a models.Engine through a compiled pipeline: workflows
// in parallel, each workflow's steps in order, first non-zero exit
// short-circuiting the rest.
type Runner struct {
	eng    models.Engine
	db     *db.DB
	n      *notifier.Notifier
	sm     secrets.Manager
	l      *slog.Logger
	logDir string
}

func NewRunner(ctx context.Context, eng models.Engine, d *db.DB, n *notifier.Notifier, sm secrets.Manager, logDir string) *Runner {
	return &Runner{
		eng:    eng,
		db:     d,
		n:      n,
		sm:     sm,
		l:      log.FromContext(ctx).With("component", "runner"),
		logDir: logDir,
	}
}

// StartPipeline runs every workflow of the pipeline and records the
// overall verdict: success iff all workflows succeed.
func (r *Runner) StartPipeline(ctx context.Context, cp *workflow.Compiled, pid models.PipelineId) error {
	r.l.Info("starting all workflows in parallel", "pipeline", pid)

	if err := r.db.MarkPipelineRunning(pid.Id, r.n); err != nil {
		return err
	}

	g := errgroup.Group{}
	for _, cwf := range cp.Workflows {
		g.Go(func() error {
			return r.runWorkflow(ctx, cp, cwf, pid)
		})
	}

	err := g.Wait()

	switch {
	case ctx.Err() != nil:
		r.l.Info("pipeline cancelled", "id", pid)
		if dbErr := r.db.MarkPipelineCancelled(pid.Id, r.n); dbErr != nil {
			return dbErr
		}
		return context.Canceled

	case errors.Is(err, ErrTimedOut):
		r.l.Error("pipeline timed out!", "id", pid)
		return r.db.MarkPipelineTimeout(pid.Id, r.n)

	case err != nil:
		r.l.Error("pipeline failed!", "id", pid, "error", err.Error())
		exitCode := -1
		var stepErr *StepError
		if errors.As(err, &stepErr) {
			exitCode = int(stepErr.ExitCode)
		}
		return r.db.MarkPipelineFailed(pid.Id, exitCode, err.Error(), r.n)
	}

	r.l.Info("pipeline success!", "id", pid)
	return r.db.MarkPipelineSuccess(pid.Id, r.n)
}

func (r *Runner) runWorkflow(ctx context.Context, cp *workflow.Compiled, cwf workflow.CompiledWorkflow, pid models.PipelineId) error {
	wid := models.WorkflowId{PipelineId: pid, Name: cwf.Name}
	l := r.l.With("workflow", wid.String())

	wf, err := r.eng.InitWorkflow(cwf, cp)
	if err != nil {
		r.db.StatusFailed(wid, err.Error(), -1, r.n)
		return err
	}

	wfLogger, err := models.NewWorkflowLogger(r.logDir, wid)
	if err != nil {
		r.db.StatusFailed(wid, err.Error(), -1, r.n)
		return err
	}
	defer wfLogger.Close()

	wfCtx, cancel := context.WithTimeout(ctx, r.eng.WorkflowTimeout())
	defer cancel()

	if err := r.eng.SetupWorkflow(wfCtx, wid, wf); err != nil {
		r.db.StatusFailed(wid, err.Error(), -1, r.n)
		return err
	}
	// cleanup runs on a fresh context: the workflow's may be dead
	defer r.eng.DestroyWorkflow(context.WithoutCancel(ctx), wid)

	if err := r.db.StatusRunning(wid, r.n); err != nil {
		return err
	}

	var unlocked []secrets.UnlockedSecret
	if r.sm != nil && cp.Trigger.Repo != nil {
		unlocked, err = r.sm.GetSecretsUnlocked(wfCtx, secrets.Repo(cp.Trigger.Repo.Name))
		if err != nil {
			l.Error("failed to fetch secrets", "error", err)
		}
	}

	for idx, step := range wf.Steps {
		wfLogger.Control(idx, step, models.StatusKindRunning)

		err := r.eng.RunStep(wfCtx, wid, wf, idx, unlocked, wfLogger)
		if err == nil {
			wfLogger.Control(idx, step, models.StatusKindSuccess)
			continue
		}

		wfLogger.Control(idx, step, models.StatusKindFailed)

		switch {
		case ctx.Err() != nil:
			l.Info("workflow cancelled", "step", step.Name)
			r.db.StatusCancelled(wid, r.n)
			return context.Canceled

		case errors.Is(err, ErrTimedOut) || errors.Is(err, context.DeadlineExceeded):
			l.Error("workflow timed out", "step", step.Name)
			r.db.StatusTimeout(wid, r.n)
			return ErrTimedOut

		default:
			// a failing step is terminal; remaining steps never run
			exitCode := int64(-1)
			var stepErr *StepError
			if errors.As(err, &stepErr) {
				exitCode = stepErr.ExitCode
			}
			l.Error("workflow failed!", "step", step.Name, "error", err.Error(), "exit_code", exitCode)
			r.db.StatusFailed(wid, err.Error(), exitCode, r.n)
			return err
		}
	}

	return r.db.StatusSuccess(wid, r.n)
}
