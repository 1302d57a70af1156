// Package preflight provides stateless checks that run before a snapshot task
// begins. They never change the system and give friendlier errors than the
// btrfs tool would.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"
)

// Run executes the checks enabled in p.
func Run(p *Plan, source, destination string) error {
	if p.SourceAccessible {
		if err := CheckSourceAccessible(source); err != nil {
			return err
		}
	}
	if p.DestinationAccessible {
		if err := CheckDestinationAccessible(destination); err != nil {
			return err
		}
	}
	if p.DestinationMounted {
		if err := CheckDestinationMounted(destination); err != nil {
			return err
		}
	}
	return nil
}

// CheckSourceAccessible validates that the source path exists and is a directory.
func CheckSourceAccessible(srcPath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source directory %s does not exist", srcPath)
		}
		return fmt.Errorf("cannot stat source directory %s: %w", srcPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source path %s is not a directory", srcPath)
	}
	return nil
}

// CheckDestinationAccessible accepts an existing directory, or a missing one
// whose parent exists and can be created into.
func CheckDestinationAccessible(destPath string) error {
	info, err := os.Stat(destPath)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("destination path exists but is not a directory: %s", destPath)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("cannot access destination path: %w", err)
	}

	parent := filepath.Dir(destPath)
	parentInfo, err := os.Stat(parent)
	if os.IsNotExist(err) {
		return fmt.Errorf("destination path and its parent directory do not exist: %s", parent)
	} else if err != nil {
		return fmt.Errorf("cannot access parent directory %s: %w", parent, err)
	}
	if !parentInfo.IsDir() {
		return fmt.Errorf("parent of destination is not a directory: %s", parent)
	}
	return nil
}

// CheckDestinationMounted walks up from the deepest existing ancestor of
// destPath and fails unless one of the directories below "/" is a mount point.
func CheckDestinationMounted(destPath string) error {
	dir := deepestExisting(filepath.Clean(destPath))
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return fmt.Errorf("destination '%s' is on the root filesystem. Ensure your backup drive is mounted", destPath)
		}
		mounted, err := IsMountPoint(dir)
		if err != nil {
			return fmt.Errorf("cannot check mount point %s: %w", dir, err)
		}
		if mounted {
			return nil
		}
		dir = parent
	}
}

func deepestExisting(path string) string {
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
