// Package osfile implements a semihosting backend against real files on
// the host filesystem, using golang.org/x/sys/unix the same way the
// teacher's queue runner reaches the kernel directly rather than going
// through os.File: pread/pwrite at an explicit offset rather than a
// seek-then-read/write pair, so concurrent calls on the same fd never
// race each other's file position.
package osfile

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/johnwbyrd/zbc/internal/interfaces"
)

// openMode mirrors the ARM semihosting SYS_OPEN mode argument: a
// 0-based index into "r","rb","r+","r+b","w","wb","w+","w+b","a","ab",
// "a+","a+b". Only the read/write/append/create axes matter here; the
// binary-vs-text distinction is a no-op on any host Go targets.
type openMode int64

func (m openMode) flags() int {
	switch m / 2 {
	case 0:
		return unix.O_RDONLY
	case 1:
		return unix.O_RDWR
	case 2, 3:
		return unix.O_RDWR | unix.O_CREAT | unix.O_TRUNC
	case 4, 5:
		return unix.O_RDWR | unix.O_CREAT | unix.O_APPEND
	default:
		return unix.O_RDONLY
	}
}

type openFile struct {
	fd   int
	pos  int64
	path string
}

// Backend implements the file-oriented semihosting operations
// (OPEN/CLOSE/READ/WRITE/SEEK/FLEN/REMOVE/RENAME/ISTTY/ISERROR) against
// real host files. It does not implement the console, clock, or exit
// operations; compose it with another backend (see backend/dummy) for
// those, or embed it in a type that adds them.
type Backend struct {
	mu    sync.Mutex
	errno int32
	files map[int64]*openFile
	next  int64
}

// New returns an empty Backend. fd 1 and fd 2 are not pre-opened; a
// caller that wants console fds to resolve should route OPEN(":tt",...)
// to its own console handling before falling through to this backend.
func New() *Backend {
	return &Backend{files: make(map[int64]*openFile), next: 3}
}

func (b *Backend) GetErrno() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errno
}

func (b *Backend) setErrnoLocked(err error) {
	if errno, ok := err.(unix.Errno); ok {
		b.errno = int32(errno)
		return
	}
	b.errno = int32(unix.EIO)
}

// Open implements interfaces.Opener.
func (b *Backend) Open(path string, mode int64) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fd, err := unix.Open(path, openMode(mode).flags()|unix.O_CLOEXEC, 0o644)
	if err != nil {
		b.setErrnoLocked(err)
		return 0, false
	}
	handle := b.next
	b.next++
	b.files[handle] = &openFile{fd: fd, path: path}
	return handle, true
}

// Close implements interfaces.Closer.
func (b *Backend) Close(fd int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[fd]
	if !ok {
		b.errno = int32(unix.EBADF)
		return false
	}
	delete(b.files, fd)
	if err := unix.Close(f.fd); err != nil {
		b.setErrnoLocked(err)
		return false
	}
	return true
}

// Write implements interfaces.Writer: returns bytes NOT written.
func (b *Backend) Write(fd int64, p []byte) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[fd]
	if !ok {
		b.errno = int32(unix.EBADF)
		return int64(len(p))
	}
	n, err := unix.Pwrite(f.fd, p, f.pos)
	if err != nil {
		b.setErrnoLocked(err)
		return int64(len(p) - n)
	}
	f.pos += int64(n)
	return int64(len(p) - n)
}

// Read implements interfaces.Reader: returns the bytes read and the
// count NOT read.
func (b *Backend) Read(fd int64, n int64) ([]byte, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[fd]
	if !ok {
		b.errno = int32(unix.EBADF)
		return nil, n
	}
	buf := make([]byte, n)
	read, err := unix.Pread(f.fd, buf, f.pos)
	if err != nil {
		b.setErrnoLocked(err)
		return nil, n
	}
	f.pos += int64(read)
	return buf[:read], n - int64(read)
}

// Seek implements interfaces.Seeker.
func (b *Backend) Seek(fd int64, pos int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[fd]
	if !ok {
		b.errno = int32(unix.EBADF)
		return false
	}
	f.pos = pos
	return true
}

// Flen implements interfaces.FileLenner via fstat.
func (b *Backend) Flen(fd int64) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[fd]
	if !ok {
		b.errno = int32(unix.EBADF)
		return 0, false
	}
	var st unix.Stat_t
	if err := unix.Fstat(f.fd, &st); err != nil {
		b.setErrnoLocked(err)
		return 0, false
	}
	return st.Size, true
}

// Remove implements interfaces.Remover.
func (b *Backend) Remove(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := unix.Unlink(path); err != nil {
		b.setErrnoLocked(err)
		return false
	}
	return true
}

// Rename implements interfaces.Renamer.
func (b *Backend) Rename(oldPath, newPath string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := unix.Rename(oldPath, newPath); err != nil {
		b.setErrnoLocked(err)
		return false
	}
	return true
}

// IsTTY implements interfaces.TTYChecker using a termios ioctl: a file
// descriptor answers it only if the underlying fd is a terminal.
func (b *Backend) IsTTY(fd int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[fd]
	if !ok {
		return false
	}
	_, err := unix.IoctlGetTermios(f.fd, unix.TCGETS)
	return err == nil
}

// IsError implements interfaces.ErrorChecker: any negative status is an
// error, per the ARM semihosting convention.
func (b *Backend) IsError(status int64) bool {
	return status < 0
}

var (
	_ interfaces.Backend      = (*Backend)(nil)
	_ interfaces.Opener       = (*Backend)(nil)
	_ interfaces.Closer       = (*Backend)(nil)
	_ interfaces.Writer       = (*Backend)(nil)
	_ interfaces.Reader       = (*Backend)(nil)
	_ interfaces.Seeker       = (*Backend)(nil)
	_ interfaces.FileLenner   = (*Backend)(nil)
	_ interfaces.Remover      = (*Backend)(nil)
	_ interfaces.Renamer      = (*Backend)(nil)
	_ interfaces.TTYChecker   = (*Backend)(nil)
	_ interfaces.ErrorChecker = (*Backend)(nil)
)
