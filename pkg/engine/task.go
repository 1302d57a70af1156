package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/paulschiretz/pgl-snap/pkg/hook"
	"github.com/paulschiretz/pgl-snap/pkg/report"
	"github.com/paulschiretz/pgl-snap/pkg/taskerr"
)

// Op is one of the operations every task engine offers.
type Op string

const (
	OpCreate  Op = "create"
	OpInspect Op = "inspect"
	OpAdjust  Op = "adjust"
)

// Task is a fully validated task definition.
type Task struct {
	Name         string
	Engine       string
	Source       string
	Destination  string
	StagingDir   string
	SnapshotName string
	Policy       string
	RequireMount bool
	Hooks        hook.Plan
}

// Options carries the run-wide flags down to an engine.
type Options struct {
	DryRun  bool
	Metrics bool
}

// TaskEngine is the uniform contract of a backup engine.
type TaskEngine interface {
	Create(ctx context.Context, t *Task, opts Options) (*report.Task, error)
	Inspect(ctx context.Context, t *Task, opts Options) (*report.Task, error)
	Adjust(ctx context.Context, t *Task, opts Options) (*report.Task, error)
}

// Registry maps engine identifiers to their implementation.
type Registry struct {
	engines map[string]TaskEngine
}

// NewRegistry returns an empty registry. Engines are added with Register.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]TaskEngine)}
}

// Register adds an engine. Registering the same identifier twice panics; the
// set of engines is fixed at startup.
func (r *Registry) Register(id string, e TaskEngine) {
	if _, exists := r.engines[id]; exists {
		panic(fmt.Sprintf("engine %q registered twice", id))
	}
	r.engines[id] = e
}

// Lookup returns the engine registered under id.
func (r *Registry) Lookup(id string) (TaskEngine, error) {
	e, ok := r.engines[id]
	if !ok {
		return nil, taskerr.NewConfigError("engine", "unknown engine %q, known engines: %v", id, r.IDs())
	}
	return e, nil
}

// IDs returns the registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TaskPlan binds a task to the engine that runs it.
type TaskPlan struct {
	Task   Task
	Engine TaskEngine
}

func dispatch(ctx context.Context, op Op, p *TaskPlan, opts Options) (*report.Task, error) {
	switch op {
	case OpCreate:
		return p.Engine.Create(ctx, &p.Task, opts)
	case OpInspect:
		return p.Engine.Inspect(ctx, &p.Task, opts)
	case OpAdjust:
		return p.Engine.Adjust(ctx, &p.Task, opts)
	}
	return nil, fmt.Errorf("unknown operation %q", op)
}
