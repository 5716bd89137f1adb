// Package opcode holds the single opcode descriptor table the client
// builder (component D) and the host dispatcher (component E) both
// drive: for each semihosting operation, how many argument slots the
// caller provides, what chunk script the builder emits from those
// slots, and what shape of reply the dispatcher should marshal.
//
// Grounded on the same idea as a raw-protocol opcode table (see
// hanwen/go-fuse's opcode.go for the reference pattern of "opcode keys
// a table of argument/reply shape"), rebuilt here against the ZBC wire
// contract in spec §6 rather than FUSE's.
package opcode

// Op is a one-byte semihosting operation code (spec §6).
type Op uint8

const (
	Open          Op = 0x01
	Close         Op = 0x02
	WriteC        Op = 0x03
	Write0        Op = 0x04
	Write         Op = 0x05
	Read          Op = 0x06
	ReadC         Op = 0x07
	IsError       Op = 0x08
	IsTTY         Op = 0x09
	Seek          Op = 0x0A
	Flen          Op = 0x0C
	TmpNam        Op = 0x0D
	Remove        Op = 0x0E
	Rename        Op = 0x0F
	Clock         Op = 0x10
	Time          Op = 0x11
	System        Op = 0x12
	Errno         Op = 0x13
	GetCmdline    Op = 0x15
	HeapInfo      Op = 0x16
	Exit          Op = 0x18
	ExitExtended  Op = 0x20
	Elapsed       Op = 0x30
	TickFreq      Op = 0x31
)

func (o Op) String() string {
	if n, ok := names[o]; ok {
		return n
	}
	return "UNKNOWN_OP"
}

var names = map[Op]string{
	Open: "OPEN", Close: "CLOSE", WriteC: "WRITEC", Write0: "WRITE0",
	Write: "WRITE", Read: "READ", ReadC: "READC", IsError: "ISERROR",
	IsTTY: "ISTTY", Seek: "SEEK", Flen: "FLEN", TmpNam: "TMPNAM",
	Remove: "REMOVE", Rename: "RENAME", Clock: "CLOCK", Time: "TIME",
	System: "SYSTEM", Errno: "ERRNO", GetCmdline: "GET_CMDLINE",
	HeapInfo: "HEAPINFO", Exit: "EXIT", ExitExtended: "EXIT_EXTENDED",
	Elapsed: "ELAPSED", TickFreq: "TICKFREQ",
}

// Kind tags one entry in a chunk script: what kind of sub-chunk the
// builder should emit, and which argument slots feed it.
type Kind int

const (
	// ParmInt emits a signed PARM chunk from SourceSlot.
	ParmInt Kind = iota
	// ParmUint emits an unsigned PARM chunk from SourceSlot.
	ParmUint
	// DataPtr emits a DATA(BINARY) chunk: SourceSlot holds a pointer to
	// the bytes (resolved by the caller before building, since the
	// builder never dereferences guest memory itself — the bytes must
	// already be in hand), LengthSlot holds their length.
	DataPtr
	// DataStr emits a DATA(STRING) chunk. The builder takes the string
	// from the caller's string arguments in script order (not from
	// SourceSlot) and appends the terminating NUL itself.
	DataStr
	// DataByte emits a one-byte DATA(BINARY) chunk taken directly from
	// the low byte of SourceSlot.
	DataByte
)

// ChunkDescriptor is one entry in an opcode's chunk script.
type ChunkDescriptor struct {
	Kind       Kind
	SourceSlot int
	LengthSlot int // only meaningful for DataPtr
}

// ReplyShape tags what sub-chunks, if any, accompany an operation's
// RETN reply beyond the mandatory result/errno pair.
type ReplyShape int

const (
	// ReplyNone carries only result+errno.
	ReplyNone ReplyShape = iota
	// ReplyInt is semantically identical to ReplyNone on the wire (the
	// scalar travels in RETN's result field); it exists so callers can
	// distinguish "returns a meaningful scalar" from "fire and forget"
	// operations like WRITEC.
	ReplyInt
	// ReplyData appends one DATA(BINARY) sub-chunk carrying returned
	// bytes (READ, GET_CMDLINE, TMPNAM).
	ReplyData
	// ReplyHeapInfo appends four PARM(PTR) sub-chunks.
	ReplyHeapInfo
	// ReplyElapsed appends one 8-byte little-endian DATA chunk.
	ReplyElapsed
)

// Descriptor fully describes one opcode's argument arity, chunk script,
// and reply shape.
type Descriptor struct {
	Op     Op
	Arity  int
	Script []ChunkDescriptor
	Reply  ReplyShape
}

// Table is the full opcode descriptor table, indexed by Op.
var Table = map[Op]Descriptor{
	Open: {
		Op: Open, Arity: 3,
		Script: []ChunkDescriptor{
			{Kind: DataStr, SourceSlot: 0},
			{Kind: ParmInt, SourceSlot: 1},
			{Kind: ParmUint, SourceSlot: 2},
		},
		Reply: ReplyInt,
	},
	Close: {
		Op: Close, Arity: 1,
		Script: []ChunkDescriptor{{Kind: ParmInt, SourceSlot: 0}},
		Reply:  ReplyInt,
	},
	WriteC: {
		Op: WriteC, Arity: 1,
		Script: []ChunkDescriptor{{Kind: DataByte, SourceSlot: 0}},
		Reply:  ReplyNone,
	},
	Write0: {
		Op: Write0, Arity: 1,
		Script: []ChunkDescriptor{{Kind: DataStr, SourceSlot: 0}},
		Reply:  ReplyNone,
	},
	Write: {
		Op: Write, Arity: 3,
		Script: []ChunkDescriptor{
			{Kind: ParmInt, SourceSlot: 0},
			{Kind: DataPtr, SourceSlot: 1, LengthSlot: 2},
			{Kind: ParmUint, SourceSlot: 2},
		},
		Reply: ReplyInt,
	},
	Read: {
		Op: Read, Arity: 2,
		Script: []ChunkDescriptor{
			{Kind: ParmInt, SourceSlot: 0},
			{Kind: ParmUint, SourceSlot: 1},
		},
		Reply: ReplyData,
	},
	ReadC: {
		Op: ReadC, Arity: 0, Reply: ReplyInt,
	},
	IsError: {
		Op: IsError, Arity: 1,
		Script: []ChunkDescriptor{{Kind: ParmInt, SourceSlot: 0}},
		Reply:  ReplyInt,
	},
	IsTTY: {
		Op: IsTTY, Arity: 1,
		Script: []ChunkDescriptor{{Kind: ParmInt, SourceSlot: 0}},
		Reply:  ReplyInt,
	},
	Seek: {
		Op: Seek, Arity: 2,
		Script: []ChunkDescriptor{
			{Kind: ParmInt, SourceSlot: 0},
			{Kind: ParmInt, SourceSlot: 1},
		},
		Reply: ReplyInt,
	},
	Flen: {
		Op: Flen, Arity: 1,
		Script: []ChunkDescriptor{{Kind: ParmInt, SourceSlot: 0}},
		Reply:  ReplyInt,
	},
	TmpNam: {
		Op: TmpNam, Arity: 2,
		Script: []ChunkDescriptor{
			{Kind: ParmInt, SourceSlot: 0},
			{Kind: ParmUint, SourceSlot: 1},
		},
		Reply: ReplyData,
	},
	Remove: {
		Op: Remove, Arity: 2,
		Script: []ChunkDescriptor{
			{Kind: DataStr, SourceSlot: 0},
			{Kind: ParmUint, SourceSlot: 1},
		},
		Reply: ReplyInt,
	},
	Rename: {
		Op: Rename, Arity: 2,
		Script: []ChunkDescriptor{
			{Kind: DataStr, SourceSlot: 0},
			{Kind: DataStr, SourceSlot: 1},
		},
		Reply: ReplyInt,
	},
	Clock: {Op: Clock, Arity: 0, Reply: ReplyInt},
	Time:  {Op: Time, Arity: 0, Reply: ReplyInt},
	System: {
		Op: System, Arity: 1,
		Script: []ChunkDescriptor{{Kind: DataStr, SourceSlot: 0}},
		Reply:  ReplyInt,
	},
	Errno: {Op: Errno, Arity: 0, Reply: ReplyInt},
	GetCmdline: {
		Op: GetCmdline, Arity: 1,
		Script: []ChunkDescriptor{{Kind: ParmUint, SourceSlot: 0}},
		Reply:  ReplyData,
	},
	HeapInfo: {Op: HeapInfo, Arity: 0, Reply: ReplyHeapInfo},
	Exit: {
		Op: Exit, Arity: 1,
		Script: []ChunkDescriptor{{Kind: ParmInt, SourceSlot: 0}},
		Reply:  ReplyNone,
	},
	ExitExtended: {
		Op: ExitExtended, Arity: 2,
		Script: []ChunkDescriptor{
			{Kind: ParmInt, SourceSlot: 0},
			{Kind: ParmInt, SourceSlot: 1},
		},
		Reply: ReplyNone,
	},
	Elapsed:  {Op: Elapsed, Arity: 0, Reply: ReplyElapsed},
	TickFreq: {Op: TickFreq, Arity: 0, Reply: ReplyInt},
}

// Lookup returns the descriptor for op, or ok=false if op is not part of
// the wire contract (the dispatcher reports UNSUPPORTED_OP in that
// case).
func Lookup(op Op) (Descriptor, bool) {
	d, ok := Table[op]
	return d, ok
}

// MaxParms and MaxData are the caller-owned capacity constants from
// spec §4.C/§6: a parsed request never reports more than this many
// PARM or DATA sub-chunks, even if the wire buffer contains more. Excess
// chunks are silently dropped by the parser, matching the source
// behavior spec §9 calls out as a deliberate (if debatable) choice.
const (
	MaxParms = 8
	MaxData  = 4
)
