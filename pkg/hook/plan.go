package hook

// Plan describes the hook commands of one task run.
type Plan struct {
	Enabled bool

	PreCommands  []string
	PostCommands []string

	// Global Flags
	DryRun   bool
	FailFast bool
}

// Env describes the task a hook runs for. It is exported to the hook
// commands as PGL_SNAP_* environment variables.
type Env struct {
	Task         string
	Source       string
	Destination  string
	TimestampUTC string
}
