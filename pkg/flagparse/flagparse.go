package flagparse

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-snap/pkg/buildinfo"
)

// cliFlags holds pointers to all possible command-line flags.
// Fields are pointers so we can distinguish between "not registered for this command" (nil)
// and "registered but not set by user" (non-nil pointer to zero value).
type cliFlags struct {
	// Global
	Config   *string
	LogLevel *string
	LockDir  *string

	// Shared: Create / Inspect
	Tasks  *string
	Report *string

	// Create specific
	DryRun   *bool
	FailFast *bool
	Metrics  *bool
	Workers  *int

	// Init specific
	Force       *bool
	TaskName    *string
	Source      *string
	Destination *string
	Policy      *string
	PreHooks    *string
	PostHooks   *string
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Config = fs.String("config", "", "Path to the configuration file (.json, .yaml or .yml).")
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	f.LockDir = fs.String("lock-dir", "", "Directory holding the per-task lock files.")
}

func registerSelectionFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Tasks = fs.String("tasks", "", "Comma-separated list of task names to run (supports glob patterns). Default: all tasks.")
	f.Report = fs.String("report", "", "Write a JSON report to this file. A '.gz' or '.zst' suffix compresses it.")
}

func registerCreateFlags(fs *flag.FlagSet, f *cliFlags) {
	f.DryRun = fs.Bool("dry-run", false, "Show what would be done without making any changes.")
	f.FailFast = fs.Bool("fail-fast", false, "Stop at the first failing hook command.")
	f.Metrics = fs.Bool("metrics", false, "Log snapshot counters for every task.")
	f.Workers = fs.Int("workers", 0, "Number of tasks to run concurrently.")
}

func registerInitFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Force = fs.Bool("force", false, "Bypass confirmation prompts.")
	f.Workers = fs.Int("workers", 0, "Number of tasks to run concurrently.")
	f.TaskName = fs.String("name", "", "Name of a task to add or replace.")
	f.Source = fs.String("source", "", "Source subvolume of the task.")
	f.Destination = fs.String("destination", "", "Destination directory of the task.")
	f.Policy = fs.String("policy", "", "Retention policy of the task, e.g. '24h7d6m1y'.")
	f.PreHooks = fs.String("pre-hooks", "", "Comma-separated list of commands to run before the task.")
	f.PostHooks = fs.String("post-hooks", "", "Comma-separated list of commands to run after the task.")
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the command and flag map.
func Parse(args []string) (Command, map[string]interface{}, error) {
	if len(args) == 0 {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])
	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}

	f := &cliFlags{}
	fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)

	var desc string
	switch command {
	case Create:
		registerGlobalFlags(fs, f)
		registerSelectionFlags(fs, f)
		registerCreateFlags(fs, f)
		desc = "Create, transfer and prune snapshots for the selected tasks."
	case Inspect:
		registerGlobalFlags(fs, f)
		registerSelectionFlags(fs, f)
		desc = "Report snapshots and retention windows of the selected tasks without changing anything."
	case Init:
		registerGlobalFlags(fs, f)
		registerInitFlags(fs, f)
		desc = "Create a configuration file or add a task to an existing one."
	case Version:
		return command, nil, nil
	default:
		return None, nil, fmt.Errorf("unknown command: %s", args[0])
	}

	fs.Usage = func() {
		printSubcommandUsage(command, desc, fs)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return command, nil, err
	}
	if fs.NArg() > 0 {
		return command, nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	flagMap, err := flagsToMap(fs, f)
	return command, flagMap, err
}

func flagsToMap(fs *flag.FlagSet, f *cliFlags) (map[string]interface{}, error) {
	// Create a map of the flags that were explicitly set by the user, along with their values.
	// This map is used to selectively override the base configuration.
	usedFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]any)

	addIfUsed(flagMap, usedFlags, "config", f.Config)
	addIfUsed(flagMap, usedFlags, "log-level", f.LogLevel)
	addIfUsed(flagMap, usedFlags, "lock-dir", f.LockDir)
	addIfUsed(flagMap, usedFlags, "report", f.Report)

	addIfUsed(flagMap, usedFlags, "dry-run", f.DryRun)
	addIfUsed(flagMap, usedFlags, "fail-fast", f.FailFast)
	addIfUsed(flagMap, usedFlags, "metrics", f.Metrics)
	addIfUsed(flagMap, usedFlags, "workers", f.Workers)

	addIfUsed(flagMap, usedFlags, "force", f.Force)
	addIfUsed(flagMap, usedFlags, "name", f.TaskName)
	addIfUsed(flagMap, usedFlags, "source", f.Source)
	addIfUsed(flagMap, usedFlags, "destination", f.Destination)
	addIfUsed(flagMap, usedFlags, "policy", f.Policy)

	// Handle flags that require parsing/validation.
	addParsedIfUsed(flagMap, usedFlags, "tasks", f.Tasks, ParsePatternList)
	addParsedIfUsed(flagMap, usedFlags, "pre-hooks", f.PreHooks, ParseCmdList)
	addParsedIfUsed(flagMap, usedFlags, "post-hooks", f.PostHooks, ParseCmdList)

	if w, ok := flagMap["workers"].(int); ok && w < 1 {
		return nil, fmt.Errorf("-workers must be at least 1, got %d", w)
	}
	return flagMap, nil
}

// addIfUsed adds the value of ptr to flagMap if ptr is not nil and the flag was set.
func addIfUsed[T any](flagMap map[string]interface{}, usedFlags map[string]bool, name string, ptr *T) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = *ptr
	}
}

// addParsedIfUsed adds the parsed value of ptr to flagMap if ptr is not nil and the flag was set.
func addParsedIfUsed(flagMap map[string]interface{}, usedFlags map[string]bool, name string, ptr *string, parser func(string) []string) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = parser(*ptr)
	}
}

// printTopLevelUsage prints the main help message.
func printTopLevelUsage(fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Exponential snapshot retention for btrfs subvolumes.\n\n")
	fmt.Fprintf(fs.Output(), "Usage: %s <command> [flags]\n\n", execName)
	fmt.Fprintf(fs.Output(), "Commands:\n")
	fmt.Fprintf(fs.Output(), "  create      Create, transfer and prune snapshots\n")
	fmt.Fprintf(fs.Output(), "  inspect     Show snapshots and retention windows without changes\n")
	fmt.Fprintf(fs.Output(), "  init        Initialize a configuration or add a task\n")
	fmt.Fprintf(fs.Output(), "  version     Print the application version\n")
	fmt.Fprintf(fs.Output(), "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

// printSubcommandUsage prints the help message for a specific subcommand.
func printSubcommandUsage(command Command, desc string, fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Exponential snapshot retention for btrfs subvolumes.\n\n")
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags]\n\n", command, execName, command)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}

// ParseCmdList parses a comma-separated list of shell-like commands.
// It preserves quotes and handles backslash escapes so they can be interpreted by the shell.
func ParseCmdList(s string) []string {
	return parseListInternal(s, true, true)
}

// ParsePatternList parses a comma-separated list of task name patterns.
// Quotes only group items and are removed.
func ParsePatternList(s string) []string {
	return parseListInternal(s, false, false)
}

// parseListInternal is the core implementation for parsing a comma-separated list. It supports
// both single (') and double (") quotes to allow items to contain commas or spaces.
// - `keepQuotes`: Preserves quote characters in the output.
// - `handleEscapes`: Treats backslashes as escape characters.
func parseListInternal(s string, keepQuotes, handleEscapes bool) []string {
	var list []string
	var current strings.Builder
	var quoteChar rune

	appendItem := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			list = append(list, trimmed)
		}
		current.Reset()
	}

	var isEscaped bool
	for _, r := range s {
		if isEscaped {
			current.WriteRune(r)
			isEscaped = false
			continue
		}

		switch {
		case r == '\\' && handleEscapes:
			isEscaped = true
			// For commands, we also keep the backslash for the shell to interpret.
			current.WriteRune(r)
		case r == '\'' || r == '"':
			if quoteChar == 0 {
				quoteChar = r
				if keepQuotes {
					current.WriteRune(r)
				}
			} else if quoteChar == r {
				quoteChar = 0
				if keepQuotes {
					current.WriteRune(r)
				}
			} else {
				current.WriteRune(r)
			}
		case r == ',' && quoteChar == 0:
			appendItem()
		default:
			current.WriteRune(r)
		}
	}
	appendItem()
	return list
}
