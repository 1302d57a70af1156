package cmd

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-snap/pkg/buildinfo"
	"github.com/paulschiretz/pgl-snap/pkg/config"
	"github.com/paulschiretz/pgl-snap/pkg/flagparse"
	"github.com/paulschiretz/pgl-snap/pkg/lockfile"
	"github.com/paulschiretz/pgl-snap/pkg/plog"
	"github.com/paulschiretz/pgl-snap/pkg/util"
)

// RunInit handles the logic for the 'init' command. Without -name it writes
// a default configuration. With -name it adds that task to the configuration,
// or replaces it if it already exists.
func RunInit(ctx context.Context, flagMap map[string]interface{}) error {
	absConfigPath, err := util.AbsPath(configPath(flagMap))
	if err != nil {
		return fmt.Errorf("could not determine absolute config path: %w", err)
	}

	force := false
	if f, ok := flagMap["force"]; ok {
		force = f.(bool)
	}
	name, _ := flagMap["name"].(string)

	var baseConfig config.Config
	if name == "" {
		if !force {
			if _, err := os.Stat(absConfigPath); err == nil {
				fmt.Printf("WARNING: Configuration file already exists at %s.\n", absConfigPath)
				fmt.Printf("Running init without -name will overwrite it with default values. All tasks will be lost.\n")
				if !PromptForConfirmation("Are you sure you want to continue?", false) {
					plog.Info(buildinfo.Name + " init operation canceled.")
					return nil
				}
			}
		}
		baseConfig = config.NewDefault()
	} else {
		// Note: config.Load returns NewDefault() if the file simply doesn't exist.
		if baseConfig, err = config.Load(absConfigPath); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
	}
	baseConfig.Path = absConfigPath

	// Create a config from base merged with user flags.
	runConfig := config.MergeConfigWithFlags(flagparse.Init, baseConfig, flagMap)

	if name != "" {
		idx := slices.IndexFunc(runConfig.Tasks, func(t config.TaskConfig) bool { return t.Name == name })
		if idx >= 0 && !force {
			if !PromptForConfirmation(fmt.Sprintf("Task %q already exists. Replace it?", name), false) {
				plog.Info(buildinfo.Name + " init operation canceled.")
				return nil
			}
		}

		var task config.TaskConfig
		if idx >= 0 {
			task = runConfig.Tasks[idx]
		} else {
			task = config.TaskConfig{Name: name, Engine: config.DefaultEngine}
		}
		task = overlayTaskFlags(task, flagMap)
		for _, required := range []struct{ flag, value string }{
			{"source", task.Source},
			{"destination", task.Destination},
			{"policy", task.Policy},
		} {
			if required.value == "" {
				return fmt.Errorf("the -%s flag is required when adding task %q", required.flag, name)
			}
		}

		runConfig.Tasks = slices.Clone(runConfig.Tasks)
		if idx >= 0 {
			runConfig.Tasks[idx] = task
		} else {
			runConfig.Tasks = append(runConfig.Tasks, task)
		}
	}

	// Validate a copy; defaults filled in by validation stay out of the file.
	check := runConfig
	check.Tasks = slices.Clone(runConfig.Tasks)
	if err := check.Validate(); err != nil {
		return err
	}

	startTime := time.Now()

	// Do not rewrite a task while it runs.
	if name != "" {
		lock, err := lockfile.Acquire(ctx, check.LockDir, name, fmt.Sprintf("%s-init:%s", buildinfo.Name, name))
		if err != nil {
			return fmt.Errorf("failed to acquire lock for task %s: %w", name, err)
		}
		defer lock.Release()
	}

	if err := config.Generate(runConfig); err != nil {
		return fmt.Errorf("failed to generate config file: %w", err)
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" configuration initialized.", "path", absConfigPath, "tasks", len(runConfig.Tasks), "duration", duration)
	return nil
}

// overlayTaskFlags applies the task flags given on the command line to t.
func overlayTaskFlags(t config.TaskConfig, flagMap map[string]interface{}) config.TaskConfig {
	for name, value := range flagMap {
		switch name {
		case "source":
			t.Source = value.(string)
		case "destination":
			t.Destination = value.(string)
		case "policy":
			t.Policy = value.(string)
		case "pre-hooks":
			t.Hooks.Pre = value.([]string)
		case "post-hooks":
			t.Hooks.Post = value.([]string)
		}
	}
	return t
}

// PromptForConfirmation prompts the user for a yes/no response.
func PromptForConfirmation(prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Printf("%s %s: ", prompt, suffix)

	var response string
	_, _ = fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
