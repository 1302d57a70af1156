//go:build !linux

package btrfs

import "context"

// IsSubvolume always fails outside linux.
func (b *Btrfs) IsSubvolume(ctx context.Context, path string) (bool, error) {
	return false, ErrNotBtrfs
}
