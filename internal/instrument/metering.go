package instrument

import "github.com/tetratelabs/wabin/leb128"

func varu32Instr(op byte, idx uint32) Instr {
	return Instr{Op: op, Raw: leb128.EncodeUint32(idx)}
}

func vari64Instr(v int64) Instr {
	return Instr{Op: opI64Const, Raw: leb128.EncodeInt64(v)}
}

func callInstr(idx uint32) Instr {
	return Instr{Op: opCall, CallIdx: &idx}
}

func voidInstr(op byte) Instr { return Instr{Op: op} }

func blockInstr(op byte) Instr { return Instr{Op: op, Raw: []byte{blockTypeVoid}} }

// injectMetering splices counter-decrement (and, at reentrant starts,
// overflow-check) code at every surviving static injection point, and a
// call to decrementBy at every dynamic one.
func injectMetering(code []Instr, costTable CostTable, counterIdx, outOfInstructionsFn, decrementByFn uint32) []Instr {
	points := injections(code, costTable)

	var kept []injectionPoint
	for _, p := range points {
		switch {
		case p.detail.dynamic:
			kept = append(kept, p)
		case p.detail.scope == scopeReentrantBlockStart:
			kept = append(kept, p)
		case p.detail.cost > 0:
			kept = append(kept, p)
		}
	}

	var out []Instr
	last := 0
	for _, p := range kept {
		out = append(out, code[last:p.position]...)
		if p.detail.dynamic {
			out = append(out, callInstr(decrementByFn))
		} else {
			out = append(out,
				varu32Instr(opGlobalGet, counterIdx),
				vari64Instr(p.detail.cost),
				voidInstr(opI64Sub),
				varu32Instr(opGlobalSet, counterIdx),
			)
			if p.detail.scope == scopeReentrantBlockStart {
				out = append(out,
					varu32Instr(opGlobalGet, counterIdx),
					vari64Instr(0),
					voidInstr(opI64LtS),
					blockInstr(opIf),
					callInstr(outOfInstructionsFn),
					voidInstr(opEnd),
				)
			}
		}
		last = p.position
	}
	out = append(out, code[last:]...)
	return out
}

// injectUpdateAvailableMemory rewrites every `memory.grow` in fn's body to
// also invoke updateAvailableMemoryFn with the requested page delta,
// allocating one fresh i32 local to stage the value across the rewrite.
func injectUpdateAvailableMemory(fn *Func, paramCount int, updateAvailableMemoryFn uint32) {
	var points []int
	for i, ins := range fn.Code {
		if ins.Op == opMemoryGrow {
			points = append(points, i)
		}
	}
	if len(points) == 0 {
		return
	}

	memoryLocalIdx := uint32(paramCount) + fn.NumLocals
	fn.LocalDecl = append(fn.LocalDecl, LocalDecl{Count: 1, ValType: valI32})
	fn.NumLocals++

	var out []Instr
	last := 0
	for _, pos := range points {
		growInstr := fn.Code[pos]
		out = append(out, fn.Code[last:pos]...)
		out = append(out,
			varu32Instr(opLocalTee, memoryLocalIdx),
			growInstr,
			varu32Instr(opLocalGet, memoryLocalIdx),
			callInstr(updateAvailableMemoryFn),
		)
		last = pos + 1
	}
	out = append(out, fn.Code[last:]...)
	fn.Code = out
}
