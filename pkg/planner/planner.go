// Package planner turns a validated configuration into task plans bound to
// their engines.
package planner

import (
	"time"

	"github.com/paulschiretz/pgl-snap/pkg/btrfs"
	"github.com/paulschiretz/pgl-snap/pkg/command"
	"github.com/paulschiretz/pgl-snap/pkg/config"
	"github.com/paulschiretz/pgl-snap/pkg/engine"
	"github.com/paulschiretz/pgl-snap/pkg/hook"
	"github.com/paulschiretz/pgl-snap/pkg/retry"
	"github.com/paulschiretz/pgl-snap/pkg/snapengine"
	"github.com/paulschiretz/pgl-snap/pkg/taskerr"
)

// NewRegistry returns the closed set of engines this build supports.
func NewRegistry(cfg config.Config) *engine.Registry {
	fs := btrfs.New(command.NewRunner(nil), cfg.Btrfs.Binary, cfg.Btrfs.Findmnt)
	identity := retry.Policy{
		Attempts: cfg.Btrfs.IdentityAttempts,
		Base:     time.Duration(cfg.Btrfs.IdentityBackoffMillis) * time.Millisecond,
	}

	reg := engine.NewRegistry()
	reg.Register(snapengine.ID, snapengine.New(fs, identity))
	return reg
}

// GenerateTaskPlans resolves the selected tasks of cfg against reg. cfg must
// have been validated. Selecting no task at all is a configuration error.
func GenerateTaskPlans(cfg config.Config, reg *engine.Registry) ([]*engine.TaskPlan, error) {
	// Global Flags
	dryRun := cfg.Runtime.DryRun
	failFast := cfg.Engine.FailFast

	selected := cfg.SelectedTasks()
	if len(selected) == 0 {
		return nil, taskerr.NewConfigError("tasks", "no enabled task matches %v", cfg.Runtime.TaskPatterns)
	}

	plans := make([]*engine.TaskPlan, 0, len(selected))
	for _, tc := range selected {
		eng, err := reg.Lookup(tc.Engine)
		if err != nil {
			return nil, err
		}
		plans = append(plans, &engine.TaskPlan{
			Task: engine.Task{
				Name:         tc.Name,
				Engine:       tc.Engine,
				Source:       tc.Source,
				Destination:  tc.Destination,
				StagingDir:   tc.StagingDir,
				SnapshotName: tc.SnapshotName,
				Policy:       tc.Policy,
				RequireMount: tc.RequireMount,
				Hooks: hook.Plan{
					Enabled:      true,
					PreCommands:  tc.Hooks.Pre,
					PostCommands: tc.Hooks.Post,
					// Global Flags
					DryRun:   dryRun,
					FailFast: failFast,
				},
			},
			Engine: eng,
		})
	}
	return plans, nil
}
