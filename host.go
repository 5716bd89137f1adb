package zbc

import (
	"fmt"
	"time"

	"github.com/johnwbyrd/zbc/internal/dispatch"
	"github.com/johnwbyrd/zbc/internal/interfaces"
	"github.com/johnwbyrd/zbc/internal/memops"
	"github.com/johnwbyrd/zbc/internal/protoerr"
	"github.com/johnwbyrd/zbc/internal/registers"
	"github.com/johnwbyrd/zbc/internal/request"
	"github.com/johnwbyrd/zbc/internal/riff"
	"github.com/johnwbyrd/zbc/internal/wire"
)

// HostParams describes the fixed, construction-time configuration of a
// Host: its memory-ops vtable, its backend, and its working buffer.
// Mirrors the teacher's DeviceParams, minus everything that was
// block-device-specific.
type HostParams struct {
	// MemOps is the guest memory vtable (spec §6): mandatory. The Host
	// never otherwise touches guest memory.
	MemOps *memops.Ops

	// MemCtx is passed through to every MemOps callback unchanged.
	MemCtx interface{}

	// Backend is the external operation vtable the dispatcher invokes.
	// Mandatory.
	Backend interfaces.Backend

	// WorkingBuffer is the caller-owned scratch buffer the Host stages
	// guest RIFF bytes into and builds replies in (spec §3: recommended
	// >= 4 KiB). Mandatory.
	WorkingBuffer []byte
}

// Options holds optional collaborators, mirroring the teacher's
// Options: logging and metrics are never mandatory to construct a
// working Host.
type Options struct {
	// Logger receives structured lifecycle and per-call log lines. If
	// nil, the Host logs nothing.
	Logger interfaces.Logger

	// Observer receives per-call and per-error telemetry. If nil, a
	// MetricsObserver feeding the Host's built-in Metrics is installed.
	Observer interfaces.Observer

	// OnExit, if set, is invoked synchronously whenever a guest call
	// dispatches EXIT or EXIT_EXTENDED (spec §9 supplemented feature:
	// the host process must never die because a guest asked to exit).
	OnExit func(dispatch.ExitSignal)
}

// Host is one semihosting device instance: the register map, the
// cached per-session configuration, and the collaborators the
// dispatcher needs (spec §3 "Host state"). Mirrors the teacher's
// Device, with the kernel control plane and I/O queue runners replaced
// by the codec's single synchronous HandleDoorbell entry point (spec
// §5: one request in flight at a time, no scheduling model).
type Host struct {
	memOps  *memops.Ops
	memCtx  interface{}
	backend interfaces.Backend
	buf     []byte

	regs     *registers.File
	logger   interfaces.Logger
	observer interfaces.Observer
	onExit   func(dispatch.ExitSignal)
	metrics  *Metrics

	cachedConfig request.Config
	cachedValid  bool
	lastErrno    int32
	lastExit     *dispatch.ExitSignal

	started bool
}

// Init validates params and options and returns a ready Host (spec §3
// "Lifecycle: the host state is created by an init call that validates
// its mandatory callbacks and buffer").
func Init(params HostParams, options *Options) (*Host, error) {
	if err := params.MemOps.Validate(); err != nil {
		return nil, &Error{Op: "Init", Code: ErrCodeInvalidCallback, Msg: err.Error(), Inner: err}
	}
	if params.Backend == nil {
		return nil, &Error{Op: "Init", Code: ErrCodeInvalidParams, Msg: "Backend is required"}
	}
	if len(params.WorkingBuffer) < 12 {
		return nil, &Error{Op: "Init", Code: ErrCodeBufferTooSmall, Msg: fmt.Sprintf("working buffer of %d bytes is too small", len(params.WorkingBuffer))}
	}
	if options == nil {
		options = &Options{}
	}

	var metrics *Metrics
	observer := options.Observer
	if observer == nil {
		metrics = NewMetrics()
		observer = NewMetricsObserver(metrics)
	}

	h := &Host{
		memOps:   params.MemOps,
		memCtx:   params.MemCtx,
		backend:  params.Backend,
		buf:      params.WorkingBuffer,
		regs:     registers.NewFile(),
		logger:   options.Logger,
		observer: observer,
		onExit:   options.OnExit,
		metrics:  metrics,
		started:  true,
	}
	if h.logger != nil {
		h.logger.Printf("zbc host initialized: working buffer %d bytes", len(h.buf))
	}
	return h, nil
}

// Teardown releases a Host (spec §3: "lives until a symmetric
// teardown"). After Teardown, HandleDoorbell returns an *Error with code
// ErrCodeNotInitialized.
func Teardown(h *Host) error {
	if h == nil || !h.started {
		return &Error{Op: "Teardown", Code: ErrCodeAlreadyTornDown, Msg: "host already torn down"}
	}
	h.started = false
	if h.metrics != nil {
		h.metrics.Stop()
	}
	return nil
}

// ResetSession clears the cached session configuration, as if the
// guest had performed an explicit reset (spec §3 invariant 4, spec §4.E
// state machine's READY -> IDLE transition on reset_session).
func (h *Host) ResetSession() {
	h.cachedValid = false
	h.cachedConfig = request.Config{}
}

// RegisterFile returns the device's 32-byte register map (spec §6), for
// a bus emulator to wire into its own memory-mapped I/O dispatch.
func (h *Host) RegisterFile() *registers.File {
	return h.regs
}

// Metrics returns the Host's built-in metrics collector. Returns nil if
// the Host was constructed with a custom Options.Observer.
func (h *Host) Metrics() *Metrics {
	return h.metrics
}

// ExitRequested reports the most recent EXIT/EXIT_EXTENDED signal, if
// any guest call has dispatched one since Init. ResetSession does not
// clear it.
func (h *Host) ExitRequested() (dispatch.ExitSignal, bool) {
	if h.lastExit == nil {
		return dispatch.ExitSignal{}, false
	}
	return *h.lastExit, true
}

// LastErrno returns the sticky last-errno value SYS_ERRNO reports.
func (h *Host) LastErrno() int32 {
	return h.lastErrno
}

// HandleDoorbell is the host-side entry point for one request: it reads
// bufAddr out of guest memory via the Host's memory-ops vtable, parses
// and dispatches it, writes the reply back into guest memory, and sets
// the response-ready status bit (spec §4.E, all nine steps).
//
// It never blocks on anything but the memory-ops callbacks and the
// backend method the opcode resolves to (spec §5): no timeout,
// cancellation, or retry logic lives here.
func (h *Host) HandleDoorbell(bufAddr memops.Addr) error {
	if !h.started {
		return &Error{Op: "HandleDoorbell", Code: ErrCodeNotInitialized, Msg: "host not initialized"}
	}

	if len(h.buf) < 12 {
		return &Error{Op: "HandleDoorbell", Code: ErrCodeBufferTooSmall, Msg: "working buffer smaller than a RIFF header"}
	}
	header := h.buf[:12]
	if err := memops.ReadInto(h.memCtx, h.memOps, bufAddr, header); err != nil {
		return WrapError("HandleDoorbell", err)
	}

	id, idErr := wire.ReadFourCC(header[0:4])
	size, sizeErr := wire.U32LE(header[4:8])
	form, formErr := wire.ReadFourCC(header[8:12])
	if idErr != nil || sizeErr != nil || formErr != nil || id != riff.IDRiff || form != riff.IDSemi {
		n, err := dispatch.WriteProtocolError(h.buf, 12, protoerr.MalformedRIFF)
		if err != nil {
			return WrapError("HandleDoorbell", err)
		}
		h.observer.ObserveProtoError(uint16(protoerr.MalformedRIFF))
		return h.sendReply(bufAddr, 12, n)
	}

	total := int(size) + 8
	if total > len(h.buf) {
		return &Error{Op: "HandleDoorbell", Code: ErrCodeBufferTooSmall, Msg: fmt.Sprintf("declared outer size %d exceeds working buffer %d", total, len(h.buf))}
	}
	if err := memops.ReadInto(h.memCtx, h.memOps, bufAddr, h.buf[:total]); err != nil {
		return WrapError("HandleDoorbell", err)
	}

	start := time.Now()
	res, err := dispatch.Dispatch(h.buf, h.cachedConfig, h.cachedValid, h.lastErrno, h.backend)
	if err != nil {
		return WrapError("HandleDoorbell", err)
	}
	latency := uint64(time.Since(start).Nanoseconds())

	if res.ConfigUpdated {
		h.cachedConfig = res.NewConfig
		h.cachedValid = true
	}
	h.lastErrno = res.LastErrno
	if res.Exit != nil {
		h.lastExit = res.Exit
		if h.onExit != nil {
			h.onExit(*res.Exit)
		}
	}
	if res.ProtoError != nil {
		h.observer.ObserveProtoError(uint16(*res.ProtoError))
	} else {
		h.observer.ObserveCall(uint8(res.Opcode), latency, res.Success)
		if res.BytesRead > 0 || res.BytesWritten > 0 {
			h.observer.ObserveBytesTransferred(res.BytesRead, res.BytesWritten)
		}
	}
	if h.logger != nil {
		h.logger.Debugf("dispatched opcode=%v success=%v errno=%d", res.Opcode, res.Success, h.lastErrno)
	}

	if err := h.sendReply(bufAddr, res.ReplyOffset, res.ReplyLen); err != nil {
		return err
	}
	return nil
}

// sendReply writes h.buf[offset:offset+length] back to guest memory and
// sets the response-ready status bit (spec §4.E step 9).
func (h *Host) sendReply(bufAddr memops.Addr, offset, length int) error {
	if err := memops.WriteFrom(h.memCtx, h.memOps, bufAddr+memops.Addr(offset), h.buf[offset:offset+length]); err != nil {
		return WrapError("HandleDoorbell", err)
	}
	h.regs.SetStatus(registers.StatusResponseReady)
	if h.regs.InterruptEnabled(registers.InterruptResponseReady) {
		h.regs.SetInterruptStatus(registers.InterruptResponseReady)
	}
	return nil
}
