// Package report writes a machine-readable account of a create or inspect run.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-snap/pkg/metrics"
	"github.com/paulschiretz/pgl-snap/pkg/util"
)

// Task status values.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Document is the top-level report of one invocation.
type Document struct {
	Tool      string    `json:"tool"`
	Version   string    `json:"version"`
	Command   string    `json:"command"`
	Generated time.Time `json:"generated"`
	DryRun    bool      `json:"dryRun"`
	Tasks     []Task    `json:"tasks"`
}

// Task is the outcome of one task together with the plan that produced it.
type Task struct {
	Name           string        `json:"name"`
	Engine         string        `json:"engine"`
	Source         string        `json:"source"`
	Destination    string        `json:"destination"`
	Staging        string        `json:"staging,omitempty"`
	Status         string        `json:"status"`
	Error          string        `json:"error,omitempty"`
	Now            time.Time     `json:"now"`
	Policy         string        `json:"policy"`
	SameFilesystem bool          `json:"sameFilesystem"`
	Windows        []Window      `json:"windows,omitempty"`
	Snapshots      []Snapshot    `json:"snapshots,omitempty"`
	Steps          []Step        `json:"steps,omitempty"`
	Stats          metrics.Stats `json:"stats"`
}

// Window describes one retention window as age bounds, in Go duration syntax.
type Window struct {
	Index     int    `json:"index"`
	Lower     string `json:"lower"`
	Upper     string `json:"upper,omitempty"`
	Unbounded bool   `json:"unbounded,omitempty"`
}

// Snapshot is one entry of the source or destination inventory and its
// retention verdict.
type Snapshot struct {
	Name      string    `json:"name"`
	Side      string    `json:"side"`
	Timestamp time.Time `json:"timestamp"`
	ReadOnly  bool      `json:"readOnly"`
	// Window is -1 for snapshots not older than the run instant.
	Window int  `json:"window"`
	Keep   bool `json:"keep"`
}

// Step is a scheduled mutation. Done is false for steps not reached or run
// with dry-run.
type Step struct {
	Op     string   `json:"op"`
	Side   string   `json:"side"`
	Name   string   `json:"name"`
	Reason string   `json:"reason,omitempty"`
	Refs   []string `json:"refs,omitempty"`
	Done   bool     `json:"done"`
	Error  string   `json:"error,omitempty"`
}

// Write encodes doc to path. The file is written to a temp file first and
// renamed into place, so a crash never leaves a truncated report.
func Write(path string, doc *Document) (retErr error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp report file: %w", err)
	}
	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := encode(tmp, FormatFromPath(path), doc); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close report file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to set report permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename temp report to final path: %w", err)
	}
	return nil
}

func encode(w io.Writer, format Format, doc *Document) (retErr error) {
	bufWriter := bufio.NewWriter(w)

	var compressedWriter io.WriteCloser
	switch format {
	case JSONZst:
		zw, err := zstd.NewWriter(bufWriter, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		compressedWriter = zw
	case JSONGz:
		gw, err := pgzip.NewWriterLevel(bufWriter, pgzip.DefaultCompression)
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
		compressedWriter = gw
	}

	var out io.Writer = bufWriter
	if compressedWriter != nil {
		out = compressedWriter
		defer func() {
			if err := compressedWriter.Close(); err != nil && retErr == nil {
				retErr = fmt.Errorf("compressed writer close failed: %w", err)
			}
			if err := bufWriter.Flush(); err != nil && retErr == nil {
				retErr = fmt.Errorf("buffer flush failed: %w", err)
			}
		}()
	} else {
		defer func() {
			if err := bufWriter.Flush(); err != nil && retErr == nil {
				retErr = fmt.Errorf("buffer flush failed: %w", err)
			}
		}()
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// Read decodes a report written by Write.
func Read(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	switch FormatFromPath(path) {
	case JSONGz:
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	case JSONZst:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	}

	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", path, err)
	}
	return &doc, nil
}
