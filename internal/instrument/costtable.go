package instrument

// CostTable maps an instruction mnemonic to its metering cost. Mnemonics not
// present fall back to DefaultCost. block/loop/else/end default to 0 because
// they only mark basic-block boundaries and never execute in their own
// right.
type CostTable struct {
	Costs       map[string]int64
	DefaultCost int64
}

// NewCostTable returns the default cost table: every instruction costs 1
// except the structural no-ops, which cost 0.
func NewCostTable() CostTable {
	return CostTable{
		Costs: map[string]int64{
			"block": 0,
			"loop":  0,
			"else":  0,
			"end":   0,
		},
		DefaultCost: 1,
	}
}

// WithInstructionCost returns a copy of the table with mnemonic's cost set.
func (t CostTable) WithInstructionCost(mnemonic string, cost int64) CostTable {
	out := CostTable{Costs: make(map[string]int64, len(t.Costs)+1), DefaultCost: t.DefaultCost}
	for k, v := range t.Costs {
		out.Costs[k] = v
	}
	out.Costs[mnemonic] = cost
	return out
}

// WithDefaultCost returns a copy of the table with a different default cost.
func (t CostTable) WithDefaultCost(cost int64) CostTable {
	out := t
	out.DefaultCost = cost
	return out
}

// Cost returns the metering cost of the instruction with the given mnemonic.
func (t CostTable) Cost(mnemonic string) int64 {
	if c, ok := t.Costs[mnemonic]; ok {
		return c
	}
	return t.DefaultCost
}
