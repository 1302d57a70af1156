package hook

import (
	"context"
	"fmt"
	"os"

	"github.com/paulschiretz/pgl-snap/pkg/command"
	"github.com/paulschiretz/pgl-snap/pkg/hints"
	"github.com/paulschiretz/pgl-snap/pkg/plog"
)

var ErrNothingToExecute = hints.New("nothing to execute")
var ErrDisabled = hints.New("hook execution is disabled")

// Stage selects the command list of a Plan.
type Stage string

const (
	Pre  Stage = "pre"
	Post Stage = "post"
)

type HookExecutor struct {
	runner *command.Runner
}

func NewHookExecutor(runner *command.Runner) *HookExecutor {
	return &HookExecutor{runner: runner}
}

func (e *HookExecutor) RunPreHook(ctx context.Context, p *Plan, env Env) error {
	return e.run(ctx, Pre, p.PreCommands, p, env)
}

func (e *HookExecutor) RunPostHook(ctx context.Context, p *Plan, env Env) error {
	return e.run(ctx, Post, p.PostCommands, p, env)
}

func (e *HookExecutor) run(ctx context.Context, stage Stage, commands []string, p *Plan, env Env) error {
	if !p.Enabled {
		return ErrDisabled
	}
	if len(commands) == 0 {
		return ErrNothingToExecute
	}

	plog.Info(fmt.Sprintf("Running %s-snapshot hook commands", stage), "task", env.Task)

	for _, hookCommand := range commands {
		if err := ctx.Err(); err != nil {
			return err
		}

		if p.DryRun {
			plog.Info("[DRY RUN] Executing command", "task", env.Task, "command", hookCommand)
			continue
		}
		plog.Info("Executing command", "task", env.Task, "command", hookCommand)

		cmd := e.runner.Shell(ctx, hookCommand)
		cmd.Env = append(cmd.Environ(),
			"PGL_SNAP_STAGE="+string(stage),
			"PGL_SNAP_TASK="+env.Task,
			"PGL_SNAP_SOURCE="+env.Source,
			"PGL_SNAP_DESTINATION="+env.Destination,
			"PGL_SNAP_TIMESTAMP="+env.TimestampUTC,
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			// A canceled context kills the command; report the cancellation instead.
			if ctx.Err() == context.Canceled {
				return context.Canceled
			}
			if p.FailFast {
				return fmt.Errorf("command '%s' failed: %w", hookCommand, err)
			}
			plog.Warn("Hook command failed", "task", env.Task, "command", hookCommand, "error", err)
		}
	}
	return nil
}
