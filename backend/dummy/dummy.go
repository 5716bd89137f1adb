// Package dummy implements a call-tracking, in-memory semihosting
// backend: every file lives in a byte slice rather than on disk. It
// exists for tests and for the CLI loopback demo, the same role the
// teacher's MockBackend plays for block-device unit tests.
package dummy

import (
	"sync"
	"time"

	"github.com/johnwbyrd/zbc/internal/interfaces"
)

// file is one open, in-memory semihosting file.
type file struct {
	name   string
	data   []byte
	pos    int64
	closed bool
}

// Backend is an in-memory, goroutine-safe implementation of every
// optional capability interface in internal/interfaces: every
// semihosting operation a guest can invoke resolves to something here,
// so it is useful both as a test double and as the default backend for
// the CLI loopback demo.
type Backend struct {
	mu      sync.Mutex
	errno   int32
	files   map[int64]*file
	nextFd  int64
	started time.Time

	// console accumulates bytes written to stdout (fd 1) and stderr (fd
	// 2) via WRITE/WRITEC/WRITE0, so a test can assert on what a guest
	// printed without a real terminal.
	console []byte

	// exitReason, exitExtended, exitSubcode and exited record the most
	// recent EXIT or EXIT_EXTENDED call.
	exitReason   int64
	exitExtended bool
	exitSubcode  int64
	exited       bool

	// callCounts tracks how many times each named operation was invoked,
	// mirroring the teacher's MockBackend.CallCounts.
	callCounts map[string]int
}

// New creates an empty in-memory backend. fd 1 and fd 2 are pre-opened
// as the console, matching the host's stdout/stderr convention.
func New() *Backend {
	b := &Backend{
		files:      make(map[int64]*file),
		nextFd:     3,
		started:    time.Now(),
		callCounts: make(map[string]int),
	}
	b.files[1] = &file{name: "<stdout>"}
	b.files[2] = &file{name: "<stderr>"}
	return b
}

func (b *Backend) count(op string) {
	b.callCounts[op]++
}

// GetErrno implements interfaces.Backend.
func (b *Backend) GetErrno() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errno
}

func (b *Backend) setErrno(n int32) {
	b.errno = n
}

// Open implements interfaces.Opener. mode follows the ARM semihosting
// fopen-mode convention (0 = "r", 4 = "w", ...); the dummy backend
// ignores it: ":tt" maps to fd 1, and any other path gets a new, empty
// in-memory file.
func (b *Backend) Open(path string, mode int64) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count("open")

	if path == ":tt" {
		fd := int64(1)
		return fd, true
	}

	fd := b.nextFd
	b.nextFd++
	b.files[fd] = &file{name: path}
	return fd, true
}

// Close implements interfaces.Closer.
func (b *Backend) Close(fd int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count("close")
	f, ok := b.files[fd]
	if !ok {
		b.setErrno(9) // EBADF
		return false
	}
	f.closed = true
	delete(b.files, fd)
	return true
}

// Write implements interfaces.Writer. It returns the number of bytes
// NOT written, per the ARM semihosting convention.
func (b *Backend) Write(fd int64, p []byte) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count("write")
	f, ok := b.files[fd]
	if !ok {
		b.setErrno(9)
		return int64(len(p))
	}
	if fd == 1 || fd == 2 {
		b.console = append(b.console, p...)
		return 0
	}
	end := f.pos + int64(len(p))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[f.pos:end], p)
	f.pos = end
	return 0
}

// WriteC implements interfaces.CharWriter: writes a single byte to the
// console, the same path WRITE uses for fd 1.
func (b *Backend) WriteC(c byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count("writec")
	b.console = append(b.console, c)
}

// Write0 implements interfaces.StringWriter: writes a NUL-terminated
// string to the console.
func (b *Backend) Write0(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count("write0")
	b.console = append(b.console, []byte(s)...)
}

// Read implements interfaces.Reader. It returns the bytes read and the
// count NOT read.
func (b *Backend) Read(fd int64, n int64) ([]byte, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count("read")
	f, ok := b.files[fd]
	if !ok {
		b.setErrno(9)
		return nil, n
	}
	available := int64(len(f.data)) - f.pos
	if available <= 0 {
		return nil, n
	}
	want := n
	if want > available {
		want = available
	}
	data := append([]byte(nil), f.data[f.pos:f.pos+want]...)
	f.pos += want
	return data, n - want
}

// ReadC implements interfaces.CharReader. The dummy backend has no
// interactive console input, so it always reports EOF (-1), matching
// common semihosting behavior for a host with no stdin attached.
func (b *Backend) ReadC() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count("readc")
	return -1
}

// IsError implements interfaces.ErrorChecker: any negative status is an
// error, per the ARM semihosting convention.
func (b *Backend) IsError(status int64) bool {
	b.count("iserror")
	return status < 0
}

// IsTTY implements interfaces.TTYChecker: only the console fds are
// TTYs.
func (b *Backend) IsTTY(fd int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count("istty")
	return fd == 1 || fd == 2
}

// Seek implements interfaces.Seeker.
func (b *Backend) Seek(fd int64, pos int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count("seek")
	f, ok := b.files[fd]
	if !ok || pos < 0 {
		b.setErrno(9)
		return false
	}
	f.pos = pos
	return true
}

// Flen implements interfaces.FileLenner.
func (b *Backend) Flen(fd int64) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count("flen")
	f, ok := b.files[fd]
	if !ok {
		b.setErrno(9)
		return 0, false
	}
	return int64(len(f.data)), true
}

// TmpNam implements interfaces.TmpNamer: synthesizes a deterministic
// name from id, since there is no real filesystem backing this
// backend.
func (b *Backend) TmpNam(id int64, maxLen int64) (string, bool) {
	b.count("tmpnam")
	name := "tmp" + itoa(id)
	if int64(len(name)) > maxLen {
		name = name[:maxLen]
	}
	return name, true
}

// Remove implements interfaces.Remover.
func (b *Backend) Remove(path string) bool {
	b.count("remove")
	return true
}

// Rename implements interfaces.Renamer.
func (b *Backend) Rename(oldPath, newPath string) bool {
	b.count("rename")
	return true
}

// Clock implements interfaces.Clocker: centiseconds since the backend
// was created.
func (b *Backend) Clock() (int64, bool) {
	b.count("clock")
	return time.Since(b.started).Milliseconds() / 10, true
}

// Time implements interfaces.TimeProvider.
func (b *Backend) Time() (int64, bool) {
	b.count("time")
	return time.Now().Unix(), true
}

// System implements interfaces.SystemRunner. The dummy backend never
// actually runs a command; it reports success unconditionally, which
// is adequate for a loopback demo that just exercises the wire format.
func (b *Backend) System(cmd string) (int64, bool) {
	b.count("system")
	return 0, true
}

// GetCmdline implements interfaces.CmdLiner.
func (b *Backend) GetCmdline(maxLen int64) (string, bool) {
	b.count("get_cmdline")
	return "", true
}

// HeapInfo implements interfaces.HeapInformer with a made-up but
// internally consistent memory map.
func (b *Backend) HeapInfo() (heapBase, heapLimit, stackBase, stackLimit uint64) {
	b.count("heapinfo")
	return 0x20001000, 0x20010000, 0x20020000, 0x2002F000
}

// Exit implements interfaces.Exiter. It never terminates the process:
// it records the request so a caller (the Host's OnExit hook) can
// decide what to do.
func (b *Backend) Exit(reason int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count("exit")
	b.exited = true
	b.exitReason = reason
}

// ExitExtended implements interfaces.ExtendedExiter.
func (b *Backend) ExitExtended(reason int64, subcode int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count("exit_extended")
	b.exited = true
	b.exitExtended = true
	b.exitReason = reason
	b.exitSubcode = subcode
}

// Elapsed implements interfaces.ElapsedProvider.
func (b *Backend) Elapsed() (uint64, bool) {
	b.count("elapsed")
	return uint64(time.Since(b.started).Nanoseconds()), true
}

// TickFreq implements interfaces.TickFreqProvider: nanosecond ticks.
func (b *Backend) TickFreq() int64 {
	b.count("tickfreq")
	return 1_000_000_000
}

// Console returns everything written to fd 1/2 so far.
func (b *Backend) Console() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.console...)
}

// Exited reports whether EXIT/EXIT_EXTENDED has been invoked, and with
// what reason/subcode.
func (b *Backend) Exited() (reason int64, extended bool, subcode int64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exitReason, b.exitExtended, b.exitSubcode, b.exited
}

// CallCounts returns how many times each operation was invoked.
func (b *Backend) CallCounts() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.callCounts))
	for k, v := range b.callCounts {
		out[k] = v
	}
	return out
}

var (
	_ interfaces.Backend         = (*Backend)(nil)
	_ interfaces.Opener          = (*Backend)(nil)
	_ interfaces.Closer          = (*Backend)(nil)
	_ interfaces.CharWriter      = (*Backend)(nil)
	_ interfaces.StringWriter    = (*Backend)(nil)
	_ interfaces.Writer          = (*Backend)(nil)
	_ interfaces.Reader          = (*Backend)(nil)
	_ interfaces.CharReader      = (*Backend)(nil)
	_ interfaces.ErrorChecker    = (*Backend)(nil)
	_ interfaces.TTYChecker      = (*Backend)(nil)
	_ interfaces.Seeker          = (*Backend)(nil)
	_ interfaces.FileLenner      = (*Backend)(nil)
	_ interfaces.TmpNamer        = (*Backend)(nil)
	_ interfaces.Remover         = (*Backend)(nil)
	_ interfaces.Renamer         = (*Backend)(nil)
	_ interfaces.Clocker         = (*Backend)(nil)
	_ interfaces.TimeProvider    = (*Backend)(nil)
	_ interfaces.SystemRunner    = (*Backend)(nil)
	_ interfaces.CmdLiner        = (*Backend)(nil)
	_ interfaces.HeapInformer    = (*Backend)(nil)
	_ interfaces.Exiter          = (*Backend)(nil)
	_ interfaces.ExtendedExiter  = (*Backend)(nil)
	_ interfaces.ElapsedProvider = (*Backend)(nil)
	_ interfaces.TickFreqProvider = (*Backend)(nil)
)

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
