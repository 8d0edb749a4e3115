package instrument

// Opcodes relevant to the instrumentation pass. Every other opcode is
// treated generically: decoded far enough to know its immediate's byte
// length (so the instruction stream can be sliced and re-spliced) and
// costed by the name mnemonic() gives it, but never individually
// inspected. mnemonic() names only the opcodes listed in its switch; every
// other opcode, including all memory loads/stores and the numeric
// instructions 0x45-0xC4, is looked up under the single name "unknown".
const (
	opUnreachable byte = 0x00
	opNop         byte = 0x01
	opBlock       byte = 0x02
	opLoop        byte = 0x03
	opIf          byte = 0x04
	opElse        byte = 0x05
	opEnd         byte = 0x0B
	opBr          byte = 0x0C
	opBrIf        byte = 0x0D
	opBrTable     byte = 0x0E
	opReturn      byte = 0x0F
	opCall        byte = 0x10
	opCallIndir   byte = 0x11

	opDrop   byte = 0x1A
	opSelect byte = 0x1B
	opSelectT byte = 0x1C

	opLocalGet  byte = 0x20
	opLocalSet  byte = 0x21
	opLocalTee  byte = 0x22
	opGlobalGet byte = 0x23
	opGlobalSet byte = 0x24

	opTableGet byte = 0x25
	opTableSet byte = 0x26

	opMemLoadFirst  byte = 0x28
	opMemLoadLast   byte = 0x3E
	opMemorySize    byte = 0x3F
	opMemoryGrow    byte = 0x40

	opI32Const byte = 0x41
	opI64Const byte = 0x42
	opF32Const byte = 0x43
	opF64Const byte = 0x44

	// 0x45..0xC4 are numeric comparison/arithmetic/conversion ops, all with
	// zero-length immediates.
	opNumericRangeFirst byte = 0x45
	opNumericRangeLast  byte = 0xC4

	opExtPrefix byte = 0xFC

	// A handful of specific numeric opcodes the metering/memory-growth
	// rewrites need to emit by name rather than treat generically.
	opI64LtS        byte = 0x53
	opI64Sub        byte = 0x7D
	opI64ExtendI32U byte = 0xAD

	blockTypeVoid byte = 0x40
)

// Extended (0xFC-prefixed) sub-opcodes.
const (
	extMemoryInit byte = 0x08
	extDataDrop   byte = 0x09
	extMemoryCopy byte = 0x0A
	extMemoryFill byte = 0x0B
	extTableInit  byte = 0x0C
	extElemDrop   byte = 0x0D
	extTableCopy  byte = 0x0E
	extTableGrow  byte = 0x0F
	extTableSize  byte = 0x10
	extTableFill  byte = 0x11
)

// mnemonics maps the opcodes the cost table needs to recognize by name to
// their textual mnemonic, mirroring instruction_to_mnemonic's use of the
// Wasm text-format name's first token.
var mnemonics = map[byte]string{
	opUnreachable: "unreachable",
	opNop:         "nop",
	opBlock:       "block",
	opLoop:        "loop",
	opIf:          "if",
	opElse:        "else",
	opEnd:         "end",
	opBr:          "br",
	opBrIf:        "br_if",
	opBrTable:     "br_table",
	opReturn:      "return",
	opCall:        "call",
	opCallIndir:   "call_indirect",
	opDrop:        "drop",
	opSelect:      "select",
	opSelectT:     "select",
	opLocalGet:    "local.get",
	opLocalSet:    "local.set",
	opLocalTee:    "local.tee",
	opGlobalGet:   "global.get",
	opGlobalSet:   "global.set",
	opTableGet:    "table.get",
	opTableSet:    "table.set",
	opMemorySize:  "memory.size",
	opMemoryGrow:  "memory.grow",
	opI32Const:    "i32.const",
	opI64Const:    "i64.const",
	opF32Const:    "f32.const",
	opF64Const:    "f64.const",
}

var extMnemonics = map[byte]string{
	extMemoryInit: "memory.init",
	extDataDrop:   "data.drop",
	extMemoryCopy: "memory.copy",
	extMemoryFill: "memory.fill",
	extTableInit:  "table.init",
	extElemDrop:   "elem.drop",
	extTableCopy:  "table.copy",
	extTableGrow:  "table.grow",
	extTableSize:  "table.size",
	extTableFill:  "table.fill",
}

// Instr is one decoded instruction. Immediates we never need to change are
// kept as the exact bytes read from the source (Raw); the only immediate we
// decode semantically is a Call's function index, so it can be shifted.
type Instr struct {
	Op      byte
	IsExt   bool
	ExtOp   byte
	CallIdx *uint32 // non-nil only for Op == opCall
	Raw     []byte  // raw immediate bytes, excluding the CallIdx case
}

// mnemonic returns the cost-table lookup key for this instruction.
func (i Instr) mnemonic() string {
	if i.IsExt {
		if m, ok := extMnemonics[i.ExtOp]; ok {
			return m
		}
		return "unknown"
	}
	if m, ok := mnemonics[i.Op]; ok {
		return m
	}
	return "unknown"
}

// isDynamicCostPoint reports whether this is a bulk memory/table op whose
// cost is only known at runtime.
func (i Instr) isDynamicCostPoint() bool {
	if !i.IsExt {
		return false
	}
	switch i.ExtOp {
	case extMemoryFill, extMemoryCopy, extMemoryInit, extTableCopy, extTableInit:
		return true
	}
	return false
}
