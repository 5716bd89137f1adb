//go:build giouring
// +build giouring

package uringfile

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/pawelgaczynski/giouring"
)

// bufAddr returns buf's backing-array address as a uintptr, the form
// giouring's SQE.Addr field expects. Safe here because buf is
// heap-allocated by the caller and stays live until submitAndWait
// returns (the ring blocks on the single completion before buf can be
// collected).
func bufAddr(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}

func syscallErrno(code int32) error {
	return unix.Errno(code)
}

// ring submits read/write operations through a real io_uring instance.
// One call in, one completion out: this package doesn't attempt to
// pipeline multiple in-flight operations, since the dispatcher only
// ever has one CALL in flight per spec §5 anyway. Each call blocks the
// calling goroutine in SubmitAndWait/WaitCQE until its completion
// arrives.
type ring struct {
	r *giouring.Ring
}

func newRing(entries uint32) (*ring, error) {
	r, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, fmt.Errorf("uringfile: CreateRing: %w", err)
	}
	return &ring{r: r}, nil
}

func (rg *ring) close() {
	if rg.r != nil {
		rg.r.QueueExit()
	}
}

func (rg *ring) submitAndWait(prep func(sqe *giouring.SubmissionQueueEntry)) (int32, error) {
	sqe := rg.r.GetSQE()
	if sqe == nil {
		return 0, fmt.Errorf("uringfile: submission queue full")
	}
	prep(sqe)
	if _, err := rg.r.SubmitAndWait(1); err != nil {
		return 0, fmt.Errorf("uringfile: submit: %w", err)
	}
	var cqe *giouring.CompletionQueueEvent
	if err := rg.r.WaitCQE(&cqe); err != nil {
		return 0, fmt.Errorf("uringfile: wait: %w", err)
	}
	res := cqe.Res
	rg.r.CQESeen(cqe)
	if res < 0 {
		return 0, syscallErrno(-res)
	}
	return res, nil
}

func (rg *ring) read(fd int, buf []byte, offset int64) (int, error) {
	n, err := rg.submitAndWait(func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepRead(fd, bufAddr(buf), uint32(len(buf)), uint64(offset))
	})
	return int(n), err
}

func (rg *ring) write(fd int, buf []byte, offset int64) (int, error) {
	n, err := rg.submitAndWait(func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepWrite(fd, bufAddr(buf), uint32(len(buf)), uint64(offset))
	})
	return int(n), err
}
