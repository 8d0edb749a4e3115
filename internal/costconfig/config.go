// Package costconfig loads the external configuration spec.md §6 calls out
// explicitly: "Cost table. External configuration enumerating
// {mnemonic → i64 cost} plus a default cost (default 1)", plus the
// process-level settings (worker pool size, listen address, memory ceiling,
// log level) cmd/sandboxd wires into the rest of the process.
package costconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/harry-0909/ic/internal/instrument"
)

// Config is the top-level shape of the sandbox process's YAML config file.
type Config struct {
	Listen string `yaml:"listen"`

	// Workers bounds the worker pool (spec.md §5, default 4).
	Workers int `yaml:"workers"`

	// MemoryLimitPages caps a single instance's linear memory, in Wasm
	// pages. Zero means no engine-enforced ceiling beyond what the module
	// itself declares.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`

	// SubnetAvailableMemory seeds the shared subnet-available-memory
	// counter (spec.md §5) every execution on this process shares.
	SubnetAvailableMemory int64 `yaml:"subnet_available_memory"`

	LogLevel string `yaml:"log_level"`

	// Costs enumerates per-mnemonic metering overrides; anything absent
	// falls back to DefaultCost.
	Costs       map[string]int64 `yaml:"costs"`
	DefaultCost int64            `yaml:"default_cost"`
}

// Default returns the configuration the process runs with if no file is
// given: four workers, default cost of 1, no memory ceiling.
func Default() Config {
	return Config{
		Workers:     4,
		DefaultCost: 1,
		LogLevel:    "info",
	}
}

// Load reads and parses the YAML config file at path. Fields absent from
// the file keep Default's values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("costconfig: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("costconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}

// CostTable builds an instrument.CostTable from the configured overrides,
// starting from instrument.NewCostTable's defaults (block/loop/else/end
// cost 0 unless the file overrides them) so an empty or partial costs map
// still yields a usable table.
func (c Config) CostTable() instrument.CostTable {
	table := instrument.NewCostTable()
	if c.DefaultCost != 0 {
		table = table.WithDefaultCost(c.DefaultCost)
	}
	for mnemonic, cost := range c.Costs {
		table = table.WithInstructionCost(mnemonic, cost)
	}
	return table
}
