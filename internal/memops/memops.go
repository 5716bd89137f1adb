// Package memops defines the host-side memory-ops vtable the dispatcher
// uses to move bytes between guest RAM and its working buffer. The
// dispatcher never touches guest memory directly; every access goes
// through this interface, so a caller backed by an emulator's MMU, a
// flat byte array in tests, or a real hardware bus all look the same.
package memops

import "fmt"

// Addr is a guest memory address. It is always 64 bits wide regardless
// of the guest's native pointer size, so the dispatcher can address any
// architecture from an 8-bit microcontroller to a 64-bit server.
type Addr uint64

// Ops is the memory-ops vtable (spec §6): two mandatory byte-wise
// primitives, and two optional block primitives a caller may install as
// a performance optimization. ReadBlock/WriteBlock are nil-checked by
// ReadInto/WriteFrom below, which synthesize them from ReadU8/WriteU8
// when absent.
type Ops struct {
	ReadU8  func(ctx interface{}, addr Addr) (byte, error)
	WriteU8 func(ctx interface{}, addr Addr, v byte) error

	// ReadBlock and WriteBlock are optional. When present, the
	// dispatcher prefers them for multi-byte transfers.
	ReadBlock  func(ctx interface{}, addr Addr, dst []byte) error
	WriteBlock func(ctx interface{}, addr Addr, src []byte) error
}

// Err reports that Ops is missing a mandatory callback, or that a
// callback itself failed.
type Err struct {
	Msg string
}

func (e *Err) Error() string { return "memops: " + e.Msg }

// Validate confirms the mandatory byte-wise callbacks are present. A
// caller constructs an *Ops with a nil ReadU8/WriteU8 only by mistake;
// the dispatcher's init rejects it as a transport error (spec §7).
func (o *Ops) Validate() error {
	if o == nil {
		return &Err{Msg: "nil Ops"}
	}
	if o.ReadU8 == nil {
		return &Err{Msg: "ReadU8 callback is required"}
	}
	if o.WriteU8 == nil {
		return &Err{Msg: "WriteU8 callback is required"}
	}
	return nil
}

// ReadInto copies len(dst) bytes starting at addr from guest memory into
// dst, using ReadBlock if installed or falling back to a byte-wise loop
// through ReadU8 otherwise.
func ReadInto(ctx interface{}, o *Ops, addr Addr, dst []byte) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if o.ReadBlock != nil {
		if err := o.ReadBlock(ctx, addr, dst); err != nil {
			return &Err{Msg: fmt.Sprintf("ReadBlock at %#x: %v", uint64(addr), err)}
		}
		return nil
	}
	for i := range dst {
		b, err := o.ReadU8(ctx, addr+Addr(i))
		if err != nil {
			return &Err{Msg: fmt.Sprintf("ReadU8 at %#x: %v", uint64(addr)+uint64(i), err)}
		}
		dst[i] = b
	}
	return nil
}

// WriteFrom copies src into guest memory starting at addr, using
// WriteBlock if installed or falling back to a byte-wise loop through
// WriteU8 otherwise.
func WriteFrom(ctx interface{}, o *Ops, addr Addr, src []byte) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if o.WriteBlock != nil {
		if err := o.WriteBlock(ctx, addr, src); err != nil {
			return &Err{Msg: fmt.Sprintf("WriteBlock at %#x: %v", uint64(addr), err)}
		}
		return nil
	}
	for i, b := range src {
		if err := o.WriteU8(ctx, addr+Addr(i), b); err != nil {
			return &Err{Msg: fmt.Sprintf("WriteU8 at %#x: %v", uint64(addr)+uint64(i), err)}
		}
	}
	return nil
}
