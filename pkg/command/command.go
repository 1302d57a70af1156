// Package command runs the external tools the snapshot engine drives and
// turns a non-zero exit into an error that carries the tool's stderr.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-snap/pkg/plog"
)

// ContextFunc builds an *exec.Cmd. It matches exec.CommandContext and is
// swapped out in tests.
type ContextFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

// Error reports a failed command together with what it wrote to stderr.
type Error struct {
	Command string
	Stderr  string
	Err     error
}

func (e *Error) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("command '%s' failed: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("command '%s' failed: %v: %s", e.Command, e.Err, e.Stderr)
}

func (e *Error) Unwrap() error { return e.Err }

// Spec names a program and its arguments.
type Spec struct {
	Name string
	Args []string
}

func (s Spec) String() string {
	return strings.TrimSpace(s.Name + " " + strings.Join(s.Args, " "))
}

// Runner executes commands in their own process group so that canceling the
// context takes down every child they spawned.
type Runner struct {
	commandContext ContextFunc
}

// NewRunner creates a Runner. A nil commandContext uses exec.CommandContext.
func NewRunner(commandContext ContextFunc) *Runner {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	return &Runner{commandContext: commandContext}
}

func (r *Runner) command(ctx context.Context, s Spec) *exec.Cmd {
	cmd := r.commandContext(ctx, s.Name, s.Args...)
	setProcessGroup(cmd)
	return cmd
}

// Output runs the command and returns its stdout.
func (r *Runner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	spec := Spec{Name: name, Args: args}
	plog.Debug("Executing command", "command", spec.String())

	var stdout, stderr bytes.Buffer
	cmd := r.command(ctx, spec)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), wrap(ctx, spec, &stderr, err)
	}
	return stdout.Bytes(), nil
}

// Run runs the command and discards its stdout.
func (r *Runner) Run(ctx context.Context, name string, args ...string) error {
	_, err := r.Output(ctx, name, args...)
	return err
}

// Pipe connects the stdout of from to the stdin of to and waits for both.
// If either side fails the other one is killed.
func (r *Runner) Pipe(ctx context.Context, from, to Spec) error {
	plog.Debug("Executing pipeline", "from", from.String(), "to", to.String())

	g, gctx := errgroup.WithContext(ctx)
	pr, pw := io.Pipe()

	var fromErr, toErr bytes.Buffer
	src := r.command(gctx, from)
	src.Stdout = pw
	src.Stderr = &fromErr

	dst := r.command(gctx, to)
	dst.Stdin = pr
	dst.Stderr = &toErr

	g.Go(func() error {
		err := src.Run()
		pw.CloseWithError(err)
		if err != nil {
			return wrap(ctx, from, &fromErr, err)
		}
		return nil
	})
	g.Go(func() error {
		err := dst.Run()
		pr.CloseWithError(err)
		if err != nil {
			return wrap(ctx, to, &toErr, err)
		}
		return nil
	})
	return g.Wait()
}

// Shell builds a command that runs line through the platform shell.
func (r *Runner) Shell(ctx context.Context, line string) *exec.Cmd {
	return r.command(ctx, shellSpec(line))
}

func wrap(ctx context.Context, s Spec, stderr *bytes.Buffer, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return context.Canceled
	}
	return &Error{Command: s.String(), Stderr: strings.TrimSpace(stderr.String()), Err: err}
}
