package cmd

import (
	"context"

	"github.com/paulschiretz/pgl-snap/pkg/engine"
	"github.com/paulschiretz/pgl-snap/pkg/flagparse"
)

// RunInspect handles the logic for the inspect command. Nothing is changed on
// disk and no task lock is taken.
func RunInspect(ctx context.Context, flagMap map[string]any) error {
	return execute(ctx, flagparse.Inspect, engine.OpInspect, flagMap)
}
