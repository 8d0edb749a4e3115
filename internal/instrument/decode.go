package instrument

import (
	"fmt"
	"io"

	"github.com/tetratelabs/wabin/leb128"
)

var wasmMagic = [4]byte{0x00, 0x61, 0x73, 0x6D}
var wasmVersion = [4]byte{0x01, 0x00, 0x00, 0x00}

// cursor is a minimal byte-slice reader satisfying io.ByteReader (so
// wabin/leb128's decoders can use it directly) while also giving us exact
// start:end slices of whatever was just decoded, which bytes.Reader does
// not expose.
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) ReadByte() (byte, error) {
	if c.pos >= len(c.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

func (c *cursor) UnreadByte() error {
	if c.pos == 0 {
		return fmt.Errorf("cursor: nothing to unread")
	}
	c.pos--
	return nil
}

func (c *cursor) Len() int { return len(c.buf) - c.pos }

func (c *cursor) readBytes(n uint32) ([]byte, error) {
	if uint32(c.Len()) < n {
		return nil, io.ErrUnexpectedEOF
	}
	out := c.buf[c.pos : c.pos+int(n)]
	c.pos += int(n)
	return out, nil
}

// decodeModule parses a binary Wasm module far enough to support the
// rewrite passes in §4.1. Sections outside the MVP core (the data-count
// section, any others) carry nothing this pass needs and are dropped.
func decodeModule(wasmBytes []byte) (*Module, error) {
	if len(wasmBytes) < 8 {
		return nil, fmt.Errorf("truncated module header")
	}
	var magic, version [4]byte
	copy(magic[:], wasmBytes[0:4])
	copy(version[:], wasmBytes[4:8])
	if magic != wasmMagic {
		return nil, fmt.Errorf("bad magic bytes")
	}
	if version != wasmVersion {
		return nil, fmt.Errorf("unsupported wasm version")
	}

	m := &Module{}
	c := &cursor{buf: wasmBytes[8:]}
	for c.Len() > 0 {
		id, err := c.ReadByte()
		if err != nil {
			return nil, err
		}
		size, _, err := leb128.DecodeUint32(c)
		if err != nil {
			return nil, fmt.Errorf("section %d size: %w", id, err)
		}
		payload, err := c.readBytes(size)
		if err != nil {
			return nil, fmt.Errorf("section %d payload: %w", id, err)
		}
		if err := decodeSection(m, id, payload); err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}
	}
	return m, nil
}

func decodeSection(m *Module, id byte, payload []byte) error {
	c := &cursor{buf: payload}
	switch id {
	case 0:
		name, err := readName(c)
		if err != nil {
			return err
		}
		m.Custom = append(m.Custom, CustomSection{Name: name, Data: append([]byte(nil), payload[c.pos:]...)})
	case 1:
		return decodeTypeSection(m, c)
	case 2:
		return decodeImportSection(m, c)
	case 3:
		return decodeFunctionSection(m, c)
	case 4:
		return decodeTableSection(m, c)
	case 5:
		return decodeMemorySection(m, c)
	case 6:
		return decodeGlobalSection(m, c)
	case 7:
		return decodeExportSection(m, c)
	case 8:
		idx, _, err := leb128.DecodeUint32(c)
		if err != nil {
			return err
		}
		m.HasStart = true
		m.Start = idx
	case 9:
		return decodeElementSection(m, c)
	case 10:
		return decodeCodeSection(m, c)
	case 11:
		return decodeDataSection(m, c)
	default:
	}
	return nil
}

func readName(c *cursor) (string, error) {
	n, _, err := leb128.DecodeUint32(c)
	if err != nil {
		return "", err
	}
	buf, err := c.readBytes(n)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func readLimits(c *cursor) (MemLimits, error) {
	flag, err := c.ReadByte()
	if err != nil {
		return MemLimits{}, err
	}
	initial, _, err := leb128.DecodeUint32(c)
	if err != nil {
		return MemLimits{}, err
	}
	lim := MemLimits{Initial: initial}
	if flag&1 != 0 {
		max, _, err := leb128.DecodeUint32(c)
		if err != nil {
			return MemLimits{}, err
		}
		lim.Max = max
		lim.HasMax = true
	}
	return lim, nil
}

func decodeTypeSection(m *Module, c *cursor) error {
	count, _, err := leb128.DecodeUint32(c)
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, count)
	for i := range m.Types {
		tag, err := c.ReadByte()
		if err != nil || tag != 0x60 {
			return fmt.Errorf("expected func type tag, got %#x (err=%v)", tag, err)
		}
		np, _, err := leb128.DecodeUint32(c)
		if err != nil {
			return err
		}
		params, err := c.readBytes(np)
		if err != nil {
			return err
		}
		nr, _, err := leb128.DecodeUint32(c)
		if err != nil {
			return err
		}
		results, err := c.readBytes(nr)
		if err != nil {
			return err
		}
		m.Types[i] = FuncType{Params: append([]byte(nil), params...), Results: append([]byte(nil), results...)}
	}
	return nil
}

func decodeImportSection(m *Module, c *cursor) error {
	count, _, err := leb128.DecodeUint32(c)
	if err != nil {
		return err
	}
	m.Imports = make([]Import, count)
	for i := range m.Imports {
		mod, err := readName(c)
		if err != nil {
			return err
		}
		field, err := readName(c)
		if err != nil {
			return err
		}
		kind, err := c.ReadByte()
		if err != nil {
			return err
		}
		imp := Import{Module: mod, Field: field, Kind: kind}
		switch kind {
		case importKindFunc:
			idx, _, err := leb128.DecodeUint32(c)
			if err != nil {
				return err
			}
			imp.FuncTypeIdx = idx
		case importKindTable:
			elemType, err := c.ReadByte()
			if err != nil {
				return err
			}
			lim, err := readLimits(c)
			if err != nil {
				return err
			}
			imp.TableElemType = elemType
			imp.Limits = lim
		case importKindMemory:
			lim, err := readLimits(c)
			if err != nil {
				return err
			}
			imp.Limits = lim
		case importKindGlobal:
			vt, err := c.ReadByte()
			if err != nil {
				return err
			}
			mut, err := c.ReadByte()
			if err != nil {
				return err
			}
			imp.GlobalType = vt
			imp.GlobalMutable = mut != 0
		default:
			return fmt.Errorf("unknown import kind %#x", kind)
		}
		m.Imports[i] = imp
	}
	return nil
}

func decodeFunctionSection(m *Module, c *cursor) error {
	count, _, err := leb128.DecodeUint32(c)
	if err != nil {
		return err
	}
	m.FuncSig = make([]uint32, count)
	for i := range m.FuncSig {
		idx, _, err := leb128.DecodeUint32(c)
		if err != nil {
			return err
		}
		m.FuncSig[i] = idx
	}
	return nil
}

func decodeTableSection(m *Module, c *cursor) error {
	count, _, err := leb128.DecodeUint32(c)
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	if _, err := c.ReadByte(); err != nil { // elemtype, always funcref 0x70 in MVP
		return err
	}
	lim, err := readLimits(c)
	if err != nil {
		return err
	}
	m.HasTable = true
	m.Table = lim
	// Additional table entries beyond the first (multi-table proposal) are
	// not expected in canister modules; canisters are single-table.
	return nil
}

func decodeMemorySection(m *Module, c *cursor) error {
	count, _, err := leb128.DecodeUint32(c)
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	if count != 1 {
		return &Error{Kind: KindMemorySectionCount, Msg: fmt.Sprintf("expected 1 memory section, got %d", count)}
	}
	lim, err := readLimits(c)
	if err != nil {
		return err
	}
	m.HasMem = true
	m.Mem = lim
	return nil
}

func decodeGlobalSection(m *Module, c *cursor) error {
	count, _, err := leb128.DecodeUint32(c)
	if err != nil {
		return err
	}
	m.Globals = make([]Global, count)
	for i := range m.Globals {
		vt, err := c.ReadByte()
		if err != nil {
			return err
		}
		mut, err := c.ReadByte()
		if err != nil {
			return err
		}
		expr, err := decodeExpr(c)
		if err != nil {
			return err
		}
		m.Globals[i] = Global{ValType: vt, Mutable: mut != 0, InitExpr: expr}
	}
	return nil
}

func decodeExportSection(m *Module, c *cursor) error {
	count, _, err := leb128.DecodeUint32(c)
	if err != nil {
		return err
	}
	m.Exports = make([]Export, count)
	for i := range m.Exports {
		name, err := readName(c)
		if err != nil {
			return err
		}
		kind, err := c.ReadByte()
		if err != nil {
			return err
		}
		idx, _, err := leb128.DecodeUint32(c)
		if err != nil {
			return err
		}
		m.Exports[i] = Export{Name: name, Kind: kind, Index: idx}
	}
	return nil
}

func decodeElementSection(m *Module, c *cursor) error {
	count, _, err := leb128.DecodeUint32(c)
	if err != nil {
		return err
	}
	m.Elements = make([]ElementSegment, 0, count)
	for i := uint32(0); i < count; i++ {
		flag, _, err := leb128.DecodeUint32(c)
		if err != nil {
			return err
		}
		if flag != 0 {
			return &Error{Kind: KindUnsupported, Msg: fmt.Sprintf("element segment flag %d not supported", flag)}
		}
		offsetExpr, err := decodeExpr(c)
		if err != nil {
			return err
		}
		offset, ok := constI32(offsetExpr)
		if !ok {
			return &Error{Kind: KindUnsupported, Msg: "non-constant element segment offset"}
		}
		n, _, err := leb128.DecodeUint32(c)
		if err != nil {
			return err
		}
		funcIdx := make([]uint32, n)
		for j := range funcIdx {
			idx, _, err := leb128.DecodeUint32(c)
			if err != nil {
				return err
			}
			funcIdx[j] = idx
		}
		m.Elements = append(m.Elements, ElementSegment{OffsetConst: offset, FuncIndices: funcIdx})
	}
	return nil
}

func decodeDataSection(m *Module, c *cursor) error {
	count, _, err := leb128.DecodeUint32(c)
	if err != nil {
		return err
	}
	m.Data = make([]DataSegment, 0, count)
	for i := uint32(0); i < count; i++ {
		flag, _, err := leb128.DecodeUint32(c)
		if err != nil {
			return err
		}
		if flag != 0 && flag != 2 {
			return &Error{Kind: KindUnsupported, Msg: fmt.Sprintf("data segment flag %d not supported", flag)}
		}
		if flag == 2 {
			// Explicit memory index, always 0 for single-memory modules.
			if _, _, err := leb128.DecodeUint32(c); err != nil {
				return err
			}
		}
		offsetExpr, err := decodeExpr(c)
		if err != nil {
			return err
		}
		offset, ok := constI32(offsetExpr)
		if !ok {
			return &Error{Kind: KindInvalidDataSegment, Msg: "non-constant data segment offset"}
		}
		n, _, err := leb128.DecodeUint32(c)
		if err != nil {
			return err
		}
		data, err := c.readBytes(n)
		if err != nil {
			return err
		}
		m.Data = append(m.Data, DataSegment{Offset: offset, Bytes: append([]byte(nil), data...)})
	}
	return nil
}

// decodeExpr decodes a constant initializer expression: a short instruction
// sequence terminated by `end`. Used for global initializers and
// element/data segment offsets.
func decodeExpr(c *cursor) ([]Instr, error) {
	var out []Instr
	for {
		ins, err := decodeInstr(c)
		if err != nil {
			return nil, err
		}
		out = append(out, ins)
		if ins.Op == opEnd {
			return out, nil
		}
	}
}

// constI32 recognizes the `i32.const N / end` shape required for element
// and data segment offsets.
func constI32(expr []Instr) (int32, bool) {
	if len(expr) != 2 || expr[0].Op != opI32Const || expr[1].Op != opEnd {
		return 0, false
	}
	v, _, err := leb128.DecodeInt32(&cursor{buf: expr[0].Raw})
	if err != nil {
		return 0, false
	}
	return v, true
}

// constI64 recognizes the shape `i64.const N; end` and `i32.const N; end`
// (sign-extended), the only global initializers the sandbox manager's
// create_execution_state reports a value for. Anything else (a
// global.get of an imported global, or a float constant) is reported as
// not evaluable; the caller falls back to zero.
func constI64(expr []Instr) (int64, bool) {
	if len(expr) != 2 || expr[1].Op != opEnd {
		return 0, false
	}
	switch expr[0].Op {
	case opI64Const:
		v, _, err := leb128.DecodeInt64(&cursor{buf: expr[0].Raw})
		if err != nil {
			return 0, false
		}
		return v, true
	case opI32Const:
		v, _, err := leb128.DecodeInt32(&cursor{buf: expr[0].Raw})
		if err != nil {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}

func decodeCodeSection(m *Module, c *cursor) error {
	count, _, err := leb128.DecodeUint32(c)
	if err != nil {
		return err
	}
	if int(count) != len(m.FuncSig) {
		return fmt.Errorf("code section has %d bodies but function section declares %d", count, len(m.FuncSig))
	}
	m.Funcs = make([]Func, count)
	for i := range m.Funcs {
		size, _, err := leb128.DecodeUint32(c)
		if err != nil {
			return err
		}
		body, err := c.readBytes(size)
		if err != nil {
			return err
		}
		fn, err := decodeFuncBody(body)
		if err != nil {
			return err
		}
		fn.TypeIdx = m.FuncSig[i]
		m.Funcs[i] = fn
	}
	return nil
}

func decodeFuncBody(body []byte) (Func, error) {
	c := &cursor{buf: body}
	declCount, _, err := leb128.DecodeUint32(c)
	if err != nil {
		return Func{}, err
	}
	var decls []LocalDecl
	var numLocals uint32
	for i := uint32(0); i < declCount; i++ {
		cnt, _, err := leb128.DecodeUint32(c)
		if err != nil {
			return Func{}, err
		}
		vt, err := c.ReadByte()
		if err != nil {
			return Func{}, err
		}
		decls = append(decls, LocalDecl{Count: cnt, ValType: vt})
		numLocals += cnt
	}

	var code []Instr
	depth := 1
	for depth > 0 {
		ins, err := decodeInstr(c)
		if err != nil {
			return Func{}, err
		}
		switch ins.Op {
		case opBlock, opLoop, opIf:
			depth++
		case opEnd:
			depth--
		}
		code = append(code, ins)
	}
	return Func{NumLocals: numLocals, LocalDecl: decls, Code: code}, nil
}

// isBlockTypeByte reports whether b alone is a complete blocktype encoding
// (empty or a single value type), as opposed to the first byte of a
// multi-byte signed LEB128 type index.
func isBlockTypeByte(b byte) bool {
	switch b {
	case 0x40, valI32, valI64, valF32, valF64, 0x7B, 0x70, 0x6F:
		return true
	}
	return false
}

func decodeInstr(c *cursor) (Instr, error) {
	op, err := c.ReadByte()
	if err != nil {
		return Instr{}, err
	}

	switch op {
	case opBlock, opLoop, opIf:
		first, err := c.ReadByte()
		if err != nil {
			return Instr{}, err
		}
		if isBlockTypeByte(first) {
			return Instr{Op: op, Raw: []byte{first}}, nil
		}
		if err := c.UnreadByte(); err != nil {
			return Instr{}, err
		}
		raw, err := captureVarInt64(c)
		if err != nil {
			return Instr{}, err
		}
		return Instr{Op: op, Raw: raw}, nil

	case opElse, opEnd, opUnreachable, opNop, opReturn, opDrop, opSelect:
		return Instr{Op: op}, nil

	case opSelectT:
		raw, err := captureVec(c, 1)
		if err != nil {
			return Instr{}, err
		}
		return Instr{Op: op, Raw: raw}, nil

	case opBr, opBrIf:
		raw, err := captureVarUint32(c)
		if err != nil {
			return Instr{}, err
		}
		return Instr{Op: op, Raw: raw}, nil

	case opBrTable:
		raw, err := captureBrTable(c)
		if err != nil {
			return Instr{}, err
		}
		return Instr{Op: op, Raw: raw}, nil

	case opCall:
		idx, _, err := leb128.DecodeUint32(c)
		if err != nil {
			return Instr{}, err
		}
		return Instr{Op: op, CallIdx: &idx}, nil

	case opCallIndir:
		start := c.pos
		if _, _, err := leb128.DecodeUint32(c); err != nil {
			return Instr{}, err
		}
		if _, _, err := leb128.DecodeUint32(c); err != nil {
			return Instr{}, err
		}
		return Instr{Op: op, Raw: append([]byte(nil), c.buf[start:c.pos]...)}, nil

	case opLocalGet, opLocalSet, opLocalTee, opGlobalGet, opGlobalSet, opTableGet, opTableSet, opMemorySize, opMemoryGrow:
		raw, err := captureVarUint32(c)
		if err != nil {
			return Instr{}, err
		}
		return Instr{Op: op, Raw: raw}, nil

	case opI32Const, opI64Const:
		raw, err := captureVarInt64(c)
		if err != nil {
			return Instr{}, err
		}
		return Instr{Op: op, Raw: raw}, nil

	case opF32Const:
		buf, err := c.readBytes(4)
		if err != nil {
			return Instr{}, err
		}
		return Instr{Op: op, Raw: append([]byte(nil), buf...)}, nil

	case opF64Const:
		buf, err := c.readBytes(8)
		if err != nil {
			return Instr{}, err
		}
		return Instr{Op: op, Raw: append([]byte(nil), buf...)}, nil

	case opExtPrefix:
		extOp, _, err := leb128.DecodeUint32(c)
		if err != nil {
			return Instr{}, err
		}
		raw, err := captureExtImmediate(c, byte(extOp))
		if err != nil {
			return Instr{}, err
		}
		return Instr{Op: op, IsExt: true, ExtOp: byte(extOp), Raw: raw}, nil

	default:
		if op >= opMemLoadFirst && op <= opMemLoadLast {
			start := c.pos
			if _, _, err := leb128.DecodeUint32(c); err != nil { // align
				return Instr{}, err
			}
			if _, _, err := leb128.DecodeUint32(c); err != nil { // offset
				return Instr{}, err
			}
			return Instr{Op: op, Raw: append([]byte(nil), c.buf[start:c.pos]...)}, nil
		}
		if op >= opNumericRangeFirst && op <= opNumericRangeLast {
			return Instr{Op: op}, nil
		}
		return Instr{}, fmt.Errorf("unsupported opcode %#x", op)
	}
}

// captureExtImmediate decodes the immediate of a 0xFC-prefixed instruction,
// keyed on the sub-opcode already consumed from the stream.
func captureExtImmediate(c *cursor, extOp byte) ([]byte, error) {
	switch extOp {
	case extMemoryInit, extTableInit, extTableCopy, extMemoryCopy:
		start := c.pos
		if _, _, err := leb128.DecodeUint32(c); err != nil {
			return nil, err
		}
		if _, _, err := leb128.DecodeUint32(c); err != nil {
			return nil, err
		}
		return append([]byte(nil), c.buf[start:c.pos]...), nil
	case extDataDrop, extMemoryFill, extElemDrop, extTableGrow, extTableSize, extTableFill:
		return captureVarUint32(c)
	default:
		// Saturating truncation conversions (0xFC 0x00-0x07) carry no
		// trailing immediate.
		return nil, nil
	}
}

func captureVarUint32(c *cursor) ([]byte, error) {
	start := c.pos
	if _, _, err := leb128.DecodeUint32(c); err != nil {
		return nil, err
	}
	return append([]byte(nil), c.buf[start:c.pos]...), nil
}

func captureVarInt64(c *cursor) ([]byte, error) {
	start := c.pos
	if _, _, err := leb128.DecodeInt64(c); err != nil {
		return nil, err
	}
	return append([]byte(nil), c.buf[start:c.pos]...), nil
}

func captureBrTable(c *cursor) ([]byte, error) {
	start := c.pos
	n, _, err := leb128.DecodeUint32(c)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		if _, _, err := leb128.DecodeUint32(c); err != nil {
			return nil, err
		}
	}
	if _, _, err := leb128.DecodeUint32(c); err != nil { // default label
		return nil, err
	}
	return append([]byte(nil), c.buf[start:c.pos]...), nil
}

// captureVec captures a vec(fixed-width-byte) immediate, such as select t*'s
// vec(valtype).
func captureVec(c *cursor, elemWidth int) ([]byte, error) {
	start := c.pos
	n, _, err := leb128.DecodeUint32(c)
	if err != nil {
		return nil, err
	}
	if _, err := c.readBytes(n * uint32(elemWidth)); err != nil {
		return nil, err
	}
	return append([]byte(nil), c.buf[start:c.pos]...), nil
}
