package preflight

// Plan selects the checks that run before a task touches any snapshot.
type Plan struct {
	SourceAccessible      bool
	DestinationAccessible bool
	// DestinationMounted requires the destination to live below a mount
	// point other than "/", so an unplugged backup disk is not silently
	// replaced by a directory on the system disk.
	DestinationMounted bool
}
