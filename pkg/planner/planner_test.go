package planner_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/paulschiretz/pgl-snap/pkg/config"
	"github.com/paulschiretz/pgl-snap/pkg/engine"
	"github.com/paulschiretz/pgl-snap/pkg/planner"
	"github.com/paulschiretz/pgl-snap/pkg/snapengine"
	"github.com/paulschiretz/pgl-snap/pkg/taskerr"
)

func baseConfig() config.Config {
	cfg := config.NewDefault()
	cfg.Tasks = []config.TaskConfig{
		{
			Name:         "home",
			Engine:       snapengine.ID,
			Source:       "/home",
			Destination:  "/mnt/backup/home",
			StagingDir:   "/home/.pgl-snap",
			SnapshotName: "home",
			Policy:       "24h7d",
			RequireMount: true,
			Hooks:        config.HooksConfig{Pre: []string{"sync"}, Post: []string{"echo done"}},
		},
		{
			Name:         "var",
			Engine:       snapengine.ID,
			Source:       "/var",
			Destination:  "/mnt/backup/var",
			StagingDir:   "/var/.pgl-snap",
			SnapshotName: "var",
			Policy:       "7d",
		},
		{
			Name:        "old",
			Engine:      snapengine.ID,
			Source:      "/old",
			Destination: "/mnt/backup/old",
			Policy:      "1y",
			Disabled:    true,
		},
	}
	return cfg
}

func TestNewRegistry(t *testing.T) {
	reg := planner.NewRegistry(config.NewDefault())
	if ids := reg.IDs(); !slices.Equal(ids, []string{snapengine.ID}) {
		t.Errorf("expected only %s, got %v", snapengine.ID, ids)
	}
}

func TestGenerateTaskPlans(t *testing.T) {
	tests := []struct {
		name        string
		configMod   func(*config.Config)
		expectNames []string
		expectError bool
		validate    func(*testing.T, []*engine.TaskPlan)
	}{
		{
			name:        "All Enabled Tasks",
			configMod:   func(c *config.Config) {},
			expectNames: []string{"home", "var"},
			validate: func(t *testing.T, plans []*engine.TaskPlan) {
				home := plans[0].Task
				if home.Source != "/home" || home.Destination != "/mnt/backup/home" || home.StagingDir != "/home/.pgl-snap" {
					t.Errorf("paths not mapped: %+v", home)
				}
				if home.Policy != "24h7d" || home.SnapshotName != "home" || !home.RequireMount {
					t.Errorf("task settings not mapped: %+v", home)
				}
				if !home.Hooks.Enabled || !slices.Equal(home.Hooks.PreCommands, []string{"sync"}) || !slices.Equal(home.Hooks.PostCommands, []string{"echo done"}) {
					t.Errorf("hooks not mapped: %+v", home.Hooks)
				}
				if plans[0].Engine == nil {
					t.Error("expected engine to be bound")
				}
			},
		},
		{
			name: "Global Flags Reach Hooks",
			configMod: func(c *config.Config) {
				c.Runtime.DryRun = true
				c.Engine.FailFast = true
			},
			expectNames: []string{"home", "var"},
			validate: func(t *testing.T, plans []*engine.TaskPlan) {
				for _, p := range plans {
					if !p.Task.Hooks.DryRun || !p.Task.Hooks.FailFast {
						t.Errorf("task %s: expected dry-run and fail-fast hooks, got %+v", p.Task.Name, p.Task.Hooks)
					}
				}
			},
		},
		{
			name:        "Task Pattern",
			configMod:   func(c *config.Config) { c.Runtime.TaskPatterns = []string{"v*"} },
			expectNames: []string{"var"},
		},
		{
			name:        "Disabled Task Never Selected",
			configMod:   func(c *config.Config) { c.Runtime.TaskPatterns = []string{"old", "home"} },
			expectNames: []string{"home"},
		},
		{
			name:        "Nothing Selected",
			configMod:   func(c *config.Config) { c.Runtime.TaskPatterns = []string{"nope"} },
			expectError: true,
		},
		{
			name:        "Unknown Engine",
			configMod:   func(c *config.Config) { c.Tasks[1].Engine = "zfs-snapshot" },
			expectError: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.configMod(&cfg)

			plans, err := planner.GenerateTaskPlans(cfg, planner.NewRegistry(cfg))
			if tc.expectError {
				var cfgErr *taskerr.ConfigError
				if !errors.As(err, &cfgErr) {
					t.Fatalf("expected ConfigError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var names []string
			for _, p := range plans {
				names = append(names, p.Task.Name)
			}
			if !slices.Equal(names, tc.expectNames) {
				t.Errorf("expected tasks %v, got %v", tc.expectNames, names)
			}
			if tc.validate != nil {
				tc.validate(t, plans)
			}
		})
	}
}
