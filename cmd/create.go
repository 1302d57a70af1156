package cmd

import (
	"context"

	"github.com/paulschiretz/pgl-snap/pkg/engine"
	"github.com/paulschiretz/pgl-snap/pkg/flagparse"
)

// RunCreate handles the logic for the create command: snapshot, transfer and
// prune every selected task.
func RunCreate(ctx context.Context, flagMap map[string]any) error {
	return execute(ctx, flagparse.Create, engine.OpCreate, flagMap)
}
