package instrument

import "github.com/tetratelabs/wabin/leb128"

// builder accumulates encoded bytes. Lengths, counts and indices the
// encoder writes itself use minimal-form LEB128; an unmodified
// instruction's immediate bytes are written back exactly as they were read.
type builder struct {
	buf []byte
}

func (b *builder) byte(v byte)         { b.buf = append(b.buf, v) }
func (b *builder) bytes(v []byte)      { b.buf = append(b.buf, v...) }
func (b *builder) varu32(v uint32)     { b.buf = append(b.buf, leb128.EncodeUint32(v)...) }
func (b *builder) vari32(v int32)      { b.buf = append(b.buf, leb128.EncodeInt32(v)...) }
func (b *builder) vari64(v int64)      { b.buf = append(b.buf, leb128.EncodeInt64(v)...) }
func (b *builder) name(s string)       { b.varu32(uint32(len(s))); b.buf = append(b.buf, s...) }

// section appends a section with the given id, length-prefixing payload.
func (b *builder) section(id byte, payload []byte) {
	b.byte(id)
	b.varu32(uint32(len(payload)))
	b.bytes(payload)
}

// encodeModule serializes a Module back to a binary Wasm module.
func encodeModule(m *Module) []byte {
	out := &builder{}
	out.bytes(wasmMagic[:])
	out.bytes(wasmVersion[:])

	if len(m.Types) > 0 {
		out.section(1, encodeTypeSection(m))
	}
	if len(m.Imports) > 0 {
		out.section(2, encodeImportSection(m))
	}
	if len(m.FuncSig) > 0 {
		out.section(3, encodeFunctionSection(m))
	}
	if m.HasTable {
		out.section(4, encodeTableSection(m))
	}
	if m.HasMem {
		out.section(5, encodeMemorySection(m))
	}
	if len(m.Globals) > 0 {
		out.section(6, encodeGlobalSection(m))
	}
	if len(m.Exports) > 0 {
		out.section(7, encodeExportSection(m))
	}
	if m.HasStart {
		b := &builder{}
		b.varu32(m.Start)
		out.section(8, b.buf)
	}
	if len(m.Elements) > 0 {
		out.section(9, encodeElementSection(m))
	}
	if len(m.Funcs) > 0 {
		out.section(10, encodeCodeSection(m))
	}
	if len(m.Data) > 0 {
		out.section(11, encodeDataSection(m))
	}
	for _, cs := range m.Custom {
		b := &builder{}
		b.name(cs.Name)
		b.bytes(cs.Data)
		out.section(0, b.buf)
	}
	return out.buf
}

func encodeLimits(b *builder, lim MemLimits) {
	if lim.HasMax {
		b.byte(1)
		b.varu32(lim.Initial)
		b.varu32(lim.Max)
	} else {
		b.byte(0)
		b.varu32(lim.Initial)
	}
}

func encodeTypeSection(m *Module) []byte {
	b := &builder{}
	b.varu32(uint32(len(m.Types)))
	for _, t := range m.Types {
		b.byte(0x60)
		b.varu32(uint32(len(t.Params)))
		b.bytes(t.Params)
		b.varu32(uint32(len(t.Results)))
		b.bytes(t.Results)
	}
	return b.buf
}

func encodeImportSection(m *Module) []byte {
	b := &builder{}
	b.varu32(uint32(len(m.Imports)))
	for _, imp := range m.Imports {
		b.name(imp.Module)
		b.name(imp.Field)
		b.byte(imp.Kind)
		switch imp.Kind {
		case importKindFunc:
			b.varu32(imp.FuncTypeIdx)
		case importKindTable:
			b.byte(imp.TableElemType)
			encodeLimits(b, imp.Limits)
		case importKindMemory:
			encodeLimits(b, imp.Limits)
		case importKindGlobal:
			b.byte(imp.GlobalType)
			if imp.GlobalMutable {
				b.byte(1)
			} else {
				b.byte(0)
			}
		}
	}
	return b.buf
}

func encodeFunctionSection(m *Module) []byte {
	b := &builder{}
	b.varu32(uint32(len(m.FuncSig)))
	for _, idx := range m.FuncSig {
		b.varu32(idx)
	}
	return b.buf
}

func encodeTableSection(m *Module) []byte {
	b := &builder{}
	b.varu32(1)
	b.byte(0x70) // funcref
	encodeLimits(b, m.Table)
	return b.buf
}

func encodeMemorySection(m *Module) []byte {
	b := &builder{}
	b.varu32(1)
	encodeLimits(b, m.Mem)
	return b.buf
}

func encodeGlobalSection(m *Module) []byte {
	b := &builder{}
	b.varu32(uint32(len(m.Globals)))
	for _, g := range m.Globals {
		b.byte(g.ValType)
		if g.Mutable {
			b.byte(1)
		} else {
			b.byte(0)
		}
		b.bytes(encodeInstrs(g.InitExpr))
	}
	return b.buf
}

func encodeExportSection(m *Module) []byte {
	b := &builder{}
	b.varu32(uint32(len(m.Exports)))
	for _, e := range m.Exports {
		b.name(e.Name)
		b.byte(e.Kind)
		b.varu32(e.Index)
	}
	return b.buf
}

func encodeElementSection(m *Module) []byte {
	b := &builder{}
	b.varu32(uint32(len(m.Elements)))
	for _, el := range m.Elements {
		b.varu32(0) // flag: active, implicit table 0
		b.byte(opI32Const)
		b.vari32(el.OffsetConst)
		b.byte(opEnd)
		b.varu32(uint32(len(el.FuncIndices)))
		for _, idx := range el.FuncIndices {
			b.varu32(idx)
		}
	}
	return b.buf
}

func encodeDataSection(m *Module) []byte {
	b := &builder{}
	b.varu32(uint32(len(m.Data)))
	for _, d := range m.Data {
		b.varu32(0) // flag: active, memory 0
		b.byte(opI32Const)
		b.vari32(d.Offset)
		b.byte(opEnd)
		b.varu32(uint32(len(d.Bytes)))
		b.bytes(d.Bytes)
	}
	return b.buf
}

func encodeCodeSection(m *Module) []byte {
	b := &builder{}
	b.varu32(uint32(len(m.Funcs)))
	for _, fn := range m.Funcs {
		body := encodeFuncBody(fn)
		b.varu32(uint32(len(body)))
		b.bytes(body)
	}
	return b.buf
}

func encodeFuncBody(fn Func) []byte {
	b := &builder{}
	b.varu32(uint32(len(fn.LocalDecl)))
	for _, d := range fn.LocalDecl {
		b.varu32(d.Count)
		b.byte(d.ValType)
	}
	b.bytes(encodeInstrs(fn.Code))
	return b.buf
}

// encodeInstrs serializes a flat instruction stream, including whatever
// block/loop/if/else/end markers and the trailing function-ending end are
// already present in it.
func encodeInstrs(code []Instr) []byte {
	b := &builder{}
	for _, ins := range code {
		encodeInstr(b, ins)
	}
	return b.buf
}

func encodeInstr(b *builder, ins Instr) {
	b.byte(ins.Op)
	if ins.Op == opCall {
		b.varu32(*ins.CallIdx)
		return
	}
	if ins.IsExt {
		b.varu32(uint32(ins.ExtOp))
	}
	b.bytes(ins.Raw)
}
