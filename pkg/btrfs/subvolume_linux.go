//go:build linux

package btrfs

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	btrfsSuperMagic = 0x9123683E
	// firstFreeObjectID is the inode number of every subvolume root.
	firstFreeObjectID = 256
)

// IsSubvolume reports whether path is the root of a btrfs subvolume.
func (b *Btrfs) IsSubvolume(ctx context.Context, path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR || st.Ino != firstFreeObjectID {
		return false, nil
	}

	var sfs unix.Statfs_t
	if err := unix.Statfs(path, &sfs); err != nil {
		return false, fmt.Errorf("statfs %s: %w", path, err)
	}
	return uint32(sfs.Type) == btrfsSuperMagic, nil
}
