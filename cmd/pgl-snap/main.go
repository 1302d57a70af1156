package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/paulschiretz/pgl-snap/cmd"
	"github.com/paulschiretz/pgl-snap/pkg/buildinfo"
	"github.com/paulschiretz/pgl-snap/pkg/flagparse"
	"github.com/paulschiretz/pgl-snap/pkg/plog"
)

// run parses args and dispatches to the command handler.
func run(ctx context.Context, args []string) error {
	command, flagMap, err := flagparse.Parse(args)
	if err != nil {
		return err
	}

	switch command {
	case flagparse.None:
		// Usage was printed.
		return nil
	case flagparse.Version:
		return cmd.RunVersion(buildinfo.Name, buildinfo.Version)
	case flagparse.Init:
		return cmd.RunInit(ctx, flagMap)
	case flagparse.Create:
		return cmd.RunCreate(ctx, flagMap)
	case flagparse.Inspect:
		return cmd.RunInspect(ctx, flagMap)
	}
	return fmt.Errorf("unknown command: %s", command)
}

func main() {
	// Canceling the context stops running tasks; the next run cleans up
	// whatever an interrupted transfer left behind.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		plog.Error(buildinfo.Name+" failed", "error", err)
		os.Exit(1)
	}
}
