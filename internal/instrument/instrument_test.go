package instrument

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harry-0909/ic/internal/pagemap"
)

func trivialModule() *Module {
	return &Module{
		Types:   []FuncType{{}},
		FuncSig: []uint32{0},
		Funcs: []Func{
			{TypeIdx: 0, Code: []Instr{
				{Op: opI32Const, Raw: []byte{0x01}},
				{Op: opDrop},
				{Op: opEnd},
			}},
		},
	}
}

func moduleWithMemory(initial, max uint32, hasMax bool) *Module {
	m := trivialModule()
	m.HasMem = true
	m.Mem = MemLimits{Initial: initial, Max: max, HasMax: hasMax}
	return m
}

func TestInstrumentIsDeterministic(t *testing.T) {
	raw := encodeModule(moduleWithMemory(1, 0, false))
	costTable := NewCostTable()

	out1, err := Instrument(raw, costTable)
	require.NoError(t, err)
	out2, err := Instrument(raw, costTable)
	require.NoError(t, err)
	assert.Equal(t, out1.Binary, out2.Binary)
}

func TestInstrumentNoMemorySectionDefaultsToZero(t *testing.T) {
	raw := encodeModule(trivialModule())
	out, err := Instrument(raw, NewCostTable())
	require.NoError(t, err)
	assert.EqualValues(t, 0, out.MemoryInitialPages)
	assert.False(t, out.MemoryHasMax)
}

func TestInstrumentDataSegmentExactlyAtBoundaryIsValid(t *testing.T) {
	m := moduleWithMemory(1, 0, false)
	m.Data = []DataSegment{{Offset: wasmPageSizeBytes - 1, Bytes: []byte{0x42}}}
	raw := encodeModule(m)

	out, err := Instrument(raw, NewCostTable())
	require.NoError(t, err)
	require.Len(t, out.DataPages, 1)

	wantIndex := uint64((wasmPageSizeBytes - 1) / pagemap.PageSize)
	wantLocalOffset := (wasmPageSizeBytes - 1) % pagemap.PageSize
	assert.Equal(t, wantIndex, out.DataPages[0].Index)
	assert.Equal(t, byte(0x42), out.DataPages[0].Bytes[wantLocalOffset])
}

func TestInstrumentDataSegmentPastBoundaryFails(t *testing.T) {
	m := moduleWithMemory(1, 0, false)
	m.Data = []DataSegment{{Offset: wasmPageSizeBytes, Bytes: []byte{0x42}}}
	raw := encodeModule(m)

	_, err := Instrument(raw, NewCostTable())
	require.Error(t, err, "expected error for data segment past initial memory size")
	instErr, ok := err.(*Error)
	require.True(t, ok, "expected *Error, got %T", err)
	assert.Equal(t, KindInvalidDataSegment, instErr.Kind)
}

func TestInstrumentMemorySectionCountMismatch(t *testing.T) {
	// Hand-append a second memory section entry is awkward to construct via
	// the Module type (HasMem is boolean), so this exercises the decode path
	// directly instead of going through Instrument.
	c := &cursor{buf: []byte{0x02, 0x00, 0x01, 0x00, 0x01}}
	m := &Module{}
	err := decodeMemorySection(m, c)
	require.Error(t, err, "expected error for memory section with count != 1")
	instErr, ok := err.(*Error)
	require.True(t, ok, "expected *Error, got %T", err)
	assert.Equal(t, KindMemorySectionCount, instErr.Kind)
}

func TestRecognizeMethod(t *testing.T) {
	cases := []struct {
		name    string
		wantOK  bool
		wantKnd MethodKind
	}{
		{"canister_query greet", true, MethodQuery},
		{"canister_update greet", true, MethodUpdate},
		{"canister_composite_query greet", true, MethodCompositeQuery},
		{"canister_init", true, MethodSystem},
		{"canister_heartbeat", true, MethodSystem},
		{"memory", false, 0},
		{"table", false, 0},
		{"some_private_helper", false, 0},
	}
	for _, c := range cases {
		method, ok := recognizeMethod(c.name)
		if !assert.Equal(t, c.wantOK, ok, "recognizeMethod(%q)", c.name) || !ok {
			continue
		}
		assert.Equal(t, c.wantKnd, method.Kind, "recognizeMethod(%q)", c.name)
	}
}

func TestInjectHelperFunctionsShiftsCallIndices(t *testing.T) {
	m := trivialModule()
	idx := uint32(3)
	m.Funcs[0].Code = []Instr{{Op: opCall, CallIdx: &idx}, {Op: opEnd}}
	injectHelperFunctions(m)
	assert.EqualValues(t, 5, *m.Funcs[0].Code[0].CallIdx, "expected call index shifted to 5")

	require.Len(t, m.Imports, 2)
	assert.Equal(t, "out_of_instructions", m.Imports[0].Field)
	assert.Equal(t, "update_available_memory", m.Imports[1].Field)
}

func TestExportMutableGlobalsAddsSyntheticExportOnlyWhenNeeded(t *testing.T) {
	m := trivialModule()
	m.Globals = []Global{
		{ValType: valI32, Mutable: true, InitExpr: []Instr{{Op: opI32Const, Raw: []byte{0}}, {Op: opEnd}}},
		{ValType: valI32, Mutable: false, InitExpr: []Instr{{Op: opI32Const, Raw: []byte{0}}, {Op: opEnd}}},
	}
	exportMutableGlobals(m)
	require.Len(t, m.Exports, 1, "expected exactly one synthetic export for the one unexported mutable global")
	assert.Equal(t, "__persistent_mutable_global_0", m.Exports[0].Name)
}
