// Package registers describes the 32-byte device register map (spec
// §6) and provides two ways to drive it: a concrete in-memory File for
// the host side (and for same-process tests/demos that need something
// to poke), and a set of free functions that reach a register file
// purely through the memops vtable — the same abstraction the
// dispatcher uses for guest RAM, reused here for a client talking to
// real device registers.
package registers

import (
	"fmt"

	"github.com/johnwbyrd/zbc/internal/constants"
	"github.com/johnwbyrd/zbc/internal/memops"
	"github.com/johnwbyrd/zbc/internal/wire"
)

// Size is the register file's total size in bytes.
const Size = constants.RegisterFileSize

// Signature is the ASCII value read back from offset 0x00.
const Signature = "SEMIHOST"

// Field offsets within the register map.
const (
	OffsetSignature  = 0x00
	OffsetBufferAddr = 0x08
	OffsetDoorbell   = 0x18
	OffsetIntStatus  = 0x19
	OffsetIntEnable  = 0x1A
	OffsetIntAck     = 0x1B
	OffsetStatus     = 0x1C
)

// BufferAddrFieldSize is the width of the RIFF-buffer-address field.
// Only the low wire.MaxWidth bytes are ever meaningful; the field is
// sized generously (16 bytes) to accommodate any guest bus width up to
// 64 bits with room to spare, per spec §6.
const BufferAddrFieldSize = 16

// Status bits (offset 0x1C).
const (
	StatusResponseReady = 0x01
	StatusDevicePresent = 0x80
)

// Interrupt bits (offsets 0x19/0x1A/0x1B).
const (
	InterruptResponseReady = 0x01
	InterruptError         = 0x02
)

// File is a concrete in-memory instantiation of the register map. A
// Host owns one per device instance; it is also useful as a stand-in
// "device" for a client running in the same process (tests, the CLI
// loopback demo), reached through the same memops.Ops abstraction a
// real embedded client would use to reach actual hardware.
type File struct {
	buf [Size]byte
}

// NewFile returns a File with its signature and DEVICE_PRESENT bit
// already set, as a freshly attached device would present them.
func NewFile() *File {
	f := &File{}
	copy(f.buf[OffsetSignature:], []byte(Signature))
	f.buf[OffsetStatus] = StatusDevicePresent
	return f
}

// Ops adapts File to the memops vtable, so it can be driven through the
// same read/write primitives the dispatcher uses for guest memory.
func (f *File) Ops() *memops.Ops {
	return &memops.Ops{
		ReadU8: func(_ interface{}, addr memops.Addr) (byte, error) {
			if addr >= Size {
				return 0, fmt.Errorf("registers: read at %#x out of range", uint64(addr))
			}
			return f.buf[addr], nil
		},
		WriteU8: func(_ interface{}, addr memops.Addr, v byte) error {
			if addr >= Size {
				return fmt.Errorf("registers: write at %#x out of range", uint64(addr))
			}
			if addr == OffsetIntAck {
				f.buf[OffsetIntStatus] &^= v
				return nil
			}
			f.buf[addr] = v
			return nil
		},
	}
}

// SetBufferAddr writes addr into the buffer-address field using width
// bytes (the guest's declared pointer size) in the given endianness.
func (f *File) SetBufferAddr(addr uint64, width int, end wire.Endianness) error {
	if width < 1 || width > wire.MaxWidth {
		return &wire.ErrInvalidWidth{Width: width}
	}
	b := make([]byte, width)
	if err := wire.WriteUint(b, width, end, addr); err != nil {
		return err
	}
	copy(f.buf[OffsetBufferAddr:OffsetBufferAddr+width], b)
	return nil
}

// BufferAddr reads the buffer-address field back out.
func (f *File) BufferAddr(width int, end wire.Endianness) (uint64, error) {
	if width < 1 || width > wire.MaxWidth {
		return 0, &wire.ErrInvalidWidth{Width: width}
	}
	return wire.ReadUint(f.buf[OffsetBufferAddr:OffsetBufferAddr+width], width, end)
}

func (f *File) RingDoorbell()   { f.buf[OffsetDoorbell] = 1 }
func (f *File) DoorbellRung() bool { return f.buf[OffsetDoorbell] != 0 }
func (f *File) ClearDoorbell() { f.buf[OffsetDoorbell] = 0 }

func (f *File) Status() byte              { return f.buf[OffsetStatus] }
func (f *File) SetStatus(bit byte)        { f.buf[OffsetStatus] |= bit }
func (f *File) ClearStatus(bit byte)      { f.buf[OffsetStatus] &^= bit }

func (f *File) InterruptStatus() byte          { return f.buf[OffsetIntStatus] }
func (f *File) SetInterruptStatus(bit byte)    { f.buf[OffsetIntStatus] |= bit }
func (f *File) InterruptEnableMask() byte      { return f.buf[OffsetIntEnable] }
func (f *File) SetInterruptEnableMask(m byte)  { f.buf[OffsetIntEnable] = m }
func (f *File) InterruptEnabled(bit byte) bool { return f.buf[OffsetIntEnable]&bit != 0 }
func (f *File) AckInterrupt(bits byte)         { f.buf[OffsetIntStatus] &^= bits }

// --- remote access via the memops vtable, for a client reaching real
// device registers rather than a local File. ---

// SetBufferAddrRemote writes addr into a remote register file's
// buffer-address field.
func SetBufferAddrRemote(ctx interface{}, ops *memops.Ops, base memops.Addr, addr uint64, width int, end wire.Endianness) error {
	if width < 1 || width > wire.MaxWidth {
		return &wire.ErrInvalidWidth{Width: width}
	}
	b := make([]byte, width)
	if err := wire.WriteUint(b, width, end, addr); err != nil {
		return err
	}
	return memops.WriteFrom(ctx, ops, base+OffsetBufferAddr, b)
}

// RingDoorbellRemote triggers processing on a remote register file.
func RingDoorbellRemote(ctx interface{}, ops *memops.Ops, base memops.Addr) error {
	if err := ops.Validate(); err != nil {
		return err
	}
	return ops.WriteU8(ctx, base+OffsetDoorbell, 1)
}

// ReadStatusRemote reads the status register of a remote register file.
func ReadStatusRemote(ctx interface{}, ops *memops.Ops, base memops.Addr) (byte, error) {
	if err := ops.Validate(); err != nil {
		return 0, err
	}
	return ops.ReadU8(ctx, base+OffsetStatus)
}

// AckInterruptRemote clears bits in a remote register file's
// interrupt-status register by writing them to the acknowledge field.
func AckInterruptRemote(ctx interface{}, ops *memops.Ops, base memops.Addr, bits byte) error {
	if err := ops.Validate(); err != nil {
		return err
	}
	return ops.WriteU8(ctx, base+OffsetIntAck, bits)
}
