// Package lockfile serializes runs of the same snapshot task.
//
// Every task owns one lock file inside the lock directory. The file is
// created with O_EXCL and refreshed by a heartbeat; a lock whose heartbeat
// stopped for longer than staleTimeout is taken over with an atomic rename
// followed by a nonce read-back.
package lockfile

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/paulschiretz/pgl-snap/pkg/plog"
	"github.com/paulschiretz/pgl-snap/pkg/util"
)

const (
	filePrefix = ".~pgl-snap."
	fileSuffix = ".lock"
)

// Owner is the content of a lock file.
type Owner struct {
	Task       string    `json:"task"`
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	AppID      string    `json:"appID"`
	LastUpdate time.Time `json:"lastUpdate"`
	Nonce      string    `json:"nonce,omitempty"`
}

// ErrLockActive is returned when a live process holds the task lock.
type ErrLockActive struct {
	Task      string
	PID       int64
	Hostname  string
	AppID     string
	TimeSince time.Duration
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("task %s is locked by PID %d on host '%s' (App: %s), last updated %s ago",
		e.Task, e.PID, e.Hostname, e.AppID, e.TimeSince.Truncate(time.Second))
}

// ErrLostRace is returned internally when another process won a stale lock takeover.
var ErrLostRace = errors.New("lost race during stale lock takeover")

// ErrCorruptLockFile indicates a lock file that stays empty or unparsable.
var ErrCorruptLockFile = errors.New("lock file is corrupt or empty")

// These are vars to allow modification during testing.
var (
	heartbeatInterval = 1 * time.Minute
	staleTimeout      = 3 * heartbeatInterval
	retryDelay        = 100 * time.Millisecond
)

const acquireAttempts = 3

// Path returns the lock file path of task inside dir.
func Path(dir, task string) string {
	return filepath.Join(dir, filePrefix+task+fileSuffix)
}

// Lock is a held task lock.
type Lock struct {
	path  string
	owner Owner

	stop chan struct{}
	done chan struct{}

	mu   sync.Mutex
	held bool
}

// Acquire takes the lock of task in dir, creating dir if needed. It returns
// *ErrLockActive when a live process already holds it.
func Acquire(ctx context.Context, dir, task, appID string) (*Lock, error) {
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return nil, fmt.Errorf("failed to create lock directory %s: %w", dir, err)
	}
	path := Path(dir, task)

	for range acquireAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lock, err := create(path, task, appID)
		if err == nil {
			return lock.start(), nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to access lock file: %w", err)
		}

		owner, err := readOwner(path)
		switch {
		case errors.Is(err, ErrCorruptLockFile):
			plog.Warn("Found corrupt lock file, treating as stale", "path", path, "error", err)
		case err != nil:
			// The holder may have just released it.
			if !sleep(ctx, retryDelay) {
				return nil, ctx.Err()
			}
			continue
		default:
			if age := time.Since(owner.LastUpdate); age < staleTimeout {
				return nil, &ErrLockActive{
					Task:      task,
					PID:       owner.PID,
					Hostname:  owner.Hostname,
					AppID:     owner.AppID,
					TimeSince: age,
				}
			}
			plog.Warn("Found stale lock, attempting takeover", "task", task, "pid", owner.PID, "host", owner.Hostname)
		}

		lock, err = takeover(path, task, appID)
		if err == nil {
			return lock.start(), nil
		}
		if errors.Is(err, ErrLostRace) {
			plog.Debug("Lock takeover race lost, retrying acquisition", "task", task)
		} else {
			plog.Warn("Failed to take over lock, retrying", "task", task, "error", err)
		}
		if !sleep(ctx, retryDelay) {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("failed to acquire lock for task %s after %d attempts (contention)", task, acquireAttempts)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func newOwner(task, appID string) (Owner, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return Owner{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	hostname, err := os.Hostname()
	if err != nil {
		return Owner{}, err
	}
	return Owner{
		Task:       task,
		PID:        int64(os.Getpid()),
		Hostname:   hostname,
		AppID:      appID,
		LastUpdate: time.Now().UTC(),
		Nonce:      hex.EncodeToString(nonce),
	}, nil
}

// create succeeds only if the lock file did not exist.
func create(path, task, appID string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	owner, err := newOwner(task, appID)
	if err == nil {
		err = encodeOwner(f, owner)
	}
	if err != nil {
		removeFile(path)
		return nil, err
	}
	return &Lock{path: path, owner: owner, held: true}, nil
}

// takeover overwrites a stale lock atomically and reads it back. Only the
// process whose nonce survives owns the lock.
func takeover(path, task, appID string) (*Lock, error) {
	owner, err := newOwner(task, appID)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(path, owner); err != nil {
		return nil, err
	}
	current, err := readOwner(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read back lock file after takeover: %w", err)
	}
	if current.PID != owner.PID || current.Nonce != owner.Nonce {
		return nil, ErrLostRace
	}
	plog.Debug("Took over stale lock", "task", task)
	return &Lock{path: path, owner: owner, held: true}, nil
}

func (l *Lock) start() *Lock {
	sweepTemp(l.path)
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.heartbeat()
	return l
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release stops the heartbeat and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return
	}
	l.held = false
	if l.stop != nil {
		close(l.stop)
		<-l.done
	}
	removeFile(l.path)
	plog.Debug("Lock released", "task", l.owner.Task)
}

func (l *Lock) heartbeat() {
	defer close(l.done)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.owner.LastUpdate = time.Now().UTC()
			if err := writeAtomic(l.path, l.owner); err != nil {
				// Keep going; the next tick may succeed.
				plog.Warn("Heartbeat failed to update lock file", "task", l.owner.Task, "error", err)
			}
		}
	}
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		plog.Warn("Failed to remove lock file", "path", path, "error", err)
	}
}

// writeAtomic replaces the file at path with owner through a temp file in the
// same directory, so readers never see a partial file.
func writeAtomic(path string, owner Owner) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	defer func() {
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove temporary lock file", "path", tmp.Name(), "error", err)
		}
	}()

	if err := encodeOwner(tmp, owner); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename temp file to lock file: %w", err)
	}
	return nil
}

// sweepTemp removes temp files of crashed heartbeats. Files younger than
// staleTimeout may belong to a live writer and are left alone.
func sweepTemp(path string) {
	pattern := filepath.Join(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		plog.Warn("Failed to glob for temporary lock files", "pattern", pattern, "error", err)
		return
	}

	threshold := time.Now().Add(-staleTimeout)
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || !info.ModTime().Before(threshold) {
			continue
		}
		plog.Debug("Removing old temporary lock file", "path", match)
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove leftover temporary lock file", "path", match, "error", err)
		}
	}
}

func encodeOwner(w io.Writer, owner Owner) error {
	data, err := json.MarshalIndent(owner, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock content: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write lock content: %w", err)
	}
	return nil
}

// readOwner reads the lock file, retrying briefly when it is empty or
// unparsable. A file that stays that way yields ErrCorruptLockFile.
func readOwner(path string) (Owner, error) {
	var corrupt error
	for range 3 {
		data, err := os.ReadFile(path)
		if err != nil {
			return Owner{}, err
		}
		if len(data) == 0 {
			corrupt = errors.New("lock file is empty")
		} else {
			var owner Owner
			if corrupt = json.Unmarshal(data, &owner); corrupt == nil {
				return owner, nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return Owner{}, fmt.Errorf("%w: %v", ErrCorruptLockFile, corrupt)
}
