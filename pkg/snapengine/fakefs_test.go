package snapengine

import (
	"context"
	"fmt"
	"io/fs"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// fakeFS is an in-memory snapshot store. Every directory maps snapshot names
// to their read-only flag.
type fakeFS struct {
	mu      sync.Mutex
	dirs    map[string]map[string]bool
	ids     map[string]string
	subvols map[string]bool
	// failOn maps "<op> <path>" to the error the operation returns.
	failOn map[string]error
	// mutations records every call that changes state.
	mutations []string
}

func newFakeFS() *fakeFS {
	return &fakeFS{
		dirs:    make(map[string]map[string]bool),
		ids:     make(map[string]string),
		subvols: make(map[string]bool),
		failOn:  make(map[string]error),
	}
}

func (f *fakeFS) put(dir, name string, readOnly bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putLocked(dir, name, readOnly)
}

func (f *fakeFS) putLocked(dir, name string, readOnly bool) {
	if f.dirs[dir] == nil {
		f.dirs[dir] = make(map[string]bool)
	}
	f.dirs[dir][name] = readOnly
}

func (f *fakeFS) names(dir string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Sorted(maps.Keys(f.dirs[dir]))
}

func (f *fakeFS) fail(op, path string) error {
	return f.failOn[op+" "+path]
}

func (f *fakeFS) ListDir(ctx context.Context, dir string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, ok := f.dirs[dir]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: dir, Err: fs.ErrNotExist}
	}
	return slices.Sorted(maps.Keys(entries)), nil
}

func (f *fakeFS) IsReadOnly(ctx context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ro, ok := f.dirs[filepath.Dir(path)][filepath.Base(path)]
	if !ok {
		return false, fmt.Errorf("no such snapshot %s", path)
	}
	return ro, nil
}

// InstanceID answers with the id of the longest registered path prefix.
func (f *fakeFS) InstanceID(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	best, id := "", ""
	for prefix, v := range f.ids {
		if strings.HasPrefix(path, prefix) && len(prefix) > len(best) {
			best, id = prefix, v
		}
	}
	return id, nil
}

func (f *fakeFS) IsSubvolume(ctx context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subvols[path], nil
}

func (f *fakeFS) MkdirAll(ctx context.Context, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dirs[dir] == nil {
		f.dirs[dir] = make(map[string]bool)
	}
	return nil
}

func (f *fakeFS) Snapshot(ctx context.Context, source, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations = append(f.mutations, "snapshot "+filepath.Base(target))
	if err := f.fail("snapshot", target); err != nil {
		return err
	}
	f.putLocked(filepath.Dir(target), filepath.Base(target), true)
	return nil
}

func (f *fakeFS) Transfer(ctx context.Context, snapshot string, refs []string, destDir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var refNames []string
	for _, r := range refs {
		refNames = append(refNames, filepath.Base(r))
	}
	f.mutations = append(f.mutations, fmt.Sprintf("transfer %s refs=%v", filepath.Base(snapshot), refNames))
	if err := f.fail("transfer", snapshot); err != nil {
		// A failed receive leaves a writable clone behind.
		f.putLocked(destDir, filepath.Base(snapshot), false)
		return err
	}
	f.putLocked(destDir, filepath.Base(snapshot), true)
	return nil
}

func (f *fakeFS) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations = append(f.mutations, "delete "+filepath.Base(path))
	if err := f.fail("delete", path); err != nil {
		return err
	}
	delete(f.dirs[filepath.Dir(path)], filepath.Base(path))
	return nil
}

func (f *fakeFS) takeMutations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.mutations
	f.mutations = nil
	return out
}
