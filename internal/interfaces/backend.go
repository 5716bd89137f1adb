// Package interfaces provides internal interface definitions for zbc.
// These are separate from the public interfaces to avoid circular
// imports between the root package and internal packages.
package interfaces

// Backend is the minimal contract every semihosting backend satisfies.
// Everything else (Opener, Closer, Writer, ...) is optional: a concrete
// backend implements whichever operation interfaces it supports, and
// the dispatcher type-asserts for each one at call time (spec §4.E
// step 7 — "if the backend method is absent, the result is -1 with
// NOT_IMPLEMENTED"). This mirrors how DiscardBackend used to extend a
// base Backend as an optional capability rather than a mandatory
// method.
type Backend interface {
	// GetErrno returns the backend's last error code, queried whenever
	// an operation returns -1 so the dispatcher can populate RETN's
	// errno field and the sticky SYS_ERRNO slot.
	GetErrno() int32
}

// Opener implements OPEN (0x01).
type Opener interface {
	Open(path string, mode int64) (fd int64, ok bool)
}

// Closer implements CLOSE (0x02).
type Closer interface {
	Close(fd int64) (ok bool)
}

// CharWriter implements WRITEC (0x03).
type CharWriter interface {
	WriteC(c byte)
}

// StringWriter implements WRITE0 (0x04).
type StringWriter interface {
	Write0(s string)
}

// Writer implements WRITE (0x05). It returns the number of bytes NOT
// written, per the ARM-semihosting convention (0 means complete).
type Writer interface {
	Write(fd int64, p []byte) (notWritten int64)
}

// Reader implements READ (0x06). It returns the bytes read and the
// count NOT read.
type Reader interface {
	Read(fd int64, n int64) (data []byte, notRead int64)
}

// CharReader implements READC (0x07).
type CharReader interface {
	ReadC() (c int64)
}

// ErrorChecker implements ISERROR (0x08).
type ErrorChecker interface {
	IsError(status int64) bool
}

// TTYChecker implements ISTTY (0x09).
type TTYChecker interface {
	IsTTY(fd int64) bool
}

// Seeker implements SEEK (0x0A).
type Seeker interface {
	Seek(fd int64, pos int64) (ok bool)
}

// FileLenner implements FLEN (0x0C).
type FileLenner interface {
	Flen(fd int64) (length int64, ok bool)
}

// TmpNamer implements TMPNAM (0x0D).
type TmpNamer interface {
	TmpNam(id int64, maxLen int64) (name string, ok bool)
}

// Remover implements REMOVE (0x0E).
type Remover interface {
	Remove(path string) (ok bool)
}

// Renamer implements RENAME (0x0F).
type Renamer interface {
	Rename(oldPath, newPath string) (ok bool)
}

// Clocker implements CLOCK (0x10).
type Clocker interface {
	Clock() (centiseconds int64, ok bool)
}

// TimeProvider implements TIME (0x11).
type TimeProvider interface {
	Time() (unixSeconds int64, ok bool)
}

// SystemRunner implements SYSTEM (0x12).
type SystemRunner interface {
	System(cmd string) (exitStatus int64, ok bool)
}

// CmdLiner implements GET_CMDLINE (0x15).
type CmdLiner interface {
	GetCmdline(maxLen int64) (cmdline string, ok bool)
}

// HeapInformer implements HEAPINFO (0x16).
type HeapInformer interface {
	HeapInfo() (heapBase, heapLimit, stackBase, stackLimit uint64)
}

// Exiter implements EXIT (0x18). It may choose not to return.
type Exiter interface {
	Exit(reason int64)
}

// ExtendedExiter implements EXIT_EXTENDED (0x20).
type ExtendedExiter interface {
	ExitExtended(reason int64, subcode int64)
}

// ElapsedProvider implements ELAPSED (0x30).
type ElapsedProvider interface {
	Elapsed() (ticks uint64, ok bool)
}

// TickFreqProvider implements TICKFREQ (0x31).
type TickFreqProvider interface {
	TickFreq() (ticksPerSecond int64)
}

// Logger interface for optional logging.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer interface for metrics collection.
// Implementations must be thread-safe as methods are called from the
// dispatcher.
type Observer interface {
	ObserveCall(op uint8, latencyNs uint64, success bool)
	ObserveProtoError(code uint16)
	ObserveBytesTransferred(read, written uint64)
}
