//go:build unix

package backing

import (
	"golang.org/x/sys/unix"
	"os"
)

// mapFile maps the first size bytes of f shared and read-write
func mapFile(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

// syncRegion blocks until the dirty pages of region are written back
func syncRegion(region []byte) error {
	return unix.Msync(region, unix.MS_SYNC)
}

// unmapRegion releases a mapping created by mapFile
func unmapRegion(region []byte) error {
	return unix.Munmap(region)
}
