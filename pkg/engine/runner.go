package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-snap/pkg/buildinfo"
	"github.com/paulschiretz/pgl-snap/pkg/hints"
	"github.com/paulschiretz/pgl-snap/pkg/hook"
	"github.com/paulschiretz/pgl-snap/pkg/inventory"
	"github.com/paulschiretz/pgl-snap/pkg/lockfile"
	"github.com/paulschiretz/pgl-snap/pkg/plog"
	"github.com/paulschiretz/pgl-snap/pkg/report"
	"github.com/paulschiretz/pgl-snap/pkg/taskerr"
)

// Result is the outcome of one task.
type Result struct {
	Task   string
	Status string
	Report *report.Task
	Err    error
}

// Runner dispatches task plans to their engines. Tasks are independent: a
// failing task never stops the others.
type Runner struct {
	lockDir string
	workers int
	hooks   *hook.HookExecutor
}

// NewRunner creates a Runner. Tasks run with at most workers in parallel.
// A nil hooks executor disables hooks.
func NewRunner(lockDir string, workers int, hooks *hook.HookExecutor) *Runner {
	return &Runner{lockDir: lockDir, workers: max(workers, 1), hooks: hooks}
}

// Execute runs op for every plan and returns one result per plan, in plan
// order. The error joins the errors of all failed tasks; busy tasks are
// reported as skipped and do not count as failures.
func (r *Runner) Execute(ctx context.Context, plans []*TaskPlan, op Op, opts Options) ([]Result, error) {
	results := make([]Result, len(plans))

	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, p := range plans {
		g.Go(func() error {
			results[i] = r.runTask(ctx, p, op, opts)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, res := range results {
		if res.Status == report.StatusFailed {
			errs = append(errs, fmt.Errorf("task %s: %w", res.Task, res.Err))
		}
	}
	return results, errors.Join(errs...)
}

func (r *Runner) runTask(ctx context.Context, p *TaskPlan, op Op, opts Options) (res Result) {
	name := p.Task.Name
	res.Task = name

	if err := ctx.Err(); err != nil {
		return r.finish(res, p, nil, err)
	}

	// Only a mutating run needs exclusive access to the series.
	mutating := op != OpInspect && !opts.DryRun
	if mutating {
		lock, err := lockfile.Acquire(ctx, r.lockDir, name, fmt.Sprintf("%s:%s", buildinfo.Name, name))
		if err != nil {
			var lockErr *lockfile.ErrLockActive
			if errors.As(err, &lockErr) {
				plog.Warn("Task is already running, skipping", "task", name, "details", lockErr.Error())
				res.Status = report.StatusSkipped
				res.Err = fmt.Errorf("%w: %s", taskerr.ErrTaskBusy, lockErr.Error())
				res.Report = skeleton(p, report.StatusSkipped, res.Err)
				return res
			}
			return r.finish(res, p, nil, fmt.Errorf("failed to acquire lock: %w", err))
		}
		defer lock.Release()
	}

	env := hook.Env{
		Task:         name,
		Source:       p.Task.Source,
		Destination:  p.Task.Destination,
		TimestampUTC: time.Now().UTC().Format(inventory.TimestampLayout),
	}

	if op == OpCreate && r.hooks != nil {
		if err := r.hooks.RunPreHook(ctx, &p.Task.Hooks, env); err != nil && !hints.IsHint(err) {
			msg := "pre-snapshot hook failed"
			if errors.Is(err, context.Canceled) {
				msg = "pre-snapshot hook canceled"
			}
			return r.finish(res, p, nil, fmt.Errorf("%s: %w", msg, err))
		}
		// Post hooks run even if the task fails.
		defer func() {
			if err := r.hooks.RunPostHook(ctx, &p.Task.Hooks, env); err != nil && !hints.IsHint(err) {
				if errors.Is(err, context.Canceled) {
					plog.Info("Post-snapshot hooks skipped due to cancellation", "task", name)
				} else {
					plog.Warn("Post-snapshot hook failed", "task", name, "error", err)
				}
			}
		}()
	}

	plog.Info("Starting task", "task", name, "operation", op, "engine", p.Task.Engine)
	start := time.Now()
	rep, err := dispatch(ctx, op, p, opts)
	res = r.finish(res, p, rep, err)
	if err != nil {
		plog.Error("Task failed", "task", name, "operation", op, "error", err)
	} else {
		plog.Info("Task completed", "task", name, "operation", op, "duration", time.Since(start).Round(time.Millisecond))
	}
	return res
}

func (r *Runner) finish(res Result, p *TaskPlan, rep *report.Task, err error) Result {
	status := report.StatusOK
	if err != nil {
		status = report.StatusFailed
		if hints.IsHint(err) {
			status = report.StatusSkipped
		}
	}
	if rep == nil {
		rep = skeleton(p, status, err)
	}
	rep.Status = status
	if err != nil {
		rep.Error = err.Error()
	}
	res.Status = status
	res.Report = rep
	res.Err = err
	return res
}

func skeleton(p *TaskPlan, status string, err error) *report.Task {
	t := &report.Task{
		Name:        p.Task.Name,
		Engine:      p.Task.Engine,
		Source:      p.Task.Source,
		Destination: p.Task.Destination,
		Staging:     p.Task.StagingDir,
		Policy:      p.Task.Policy,
		Status:      status,
	}
	if err != nil {
		t.Error = err.Error()
	}
	return t
}
