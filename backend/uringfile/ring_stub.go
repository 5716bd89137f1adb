//go:build !giouring
// +build !giouring

package uringfile

import "golang.org/x/sys/unix"

// ring is a synchronous stand-in used when built without -tags
// giouring: read/write fall back to pread/pwrite directly. Backend's
// call sites don't know the difference.
type ring struct{}

func newRing(entries uint32) (*ring, error) {
	return &ring{}, nil
}

func (rg *ring) close() {}

func (rg *ring) read(fd int, buf []byte, offset int64) (int, error) {
	return unix.Pread(fd, buf, offset)
}

func (rg *ring) write(fd int, buf []byte, offset int64) (int, error) {
	return unix.Pwrite(fd, buf, offset)
}
