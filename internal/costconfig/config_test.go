package costconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadParsesYAMLAndMergesWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sandbox.yaml")
	contents := `
listen: "0.0.0.0:9090"
workers: 8
memory_limit_pages: 1024
subnet_available_memory: 4294967296
log_level: debug
default_cost: 1
costs:
  i64.add: 2
  call: 10
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.Listen)
	assert.Equal(t, 8, cfg.Workers)
	assert.EqualValues(t, 1024, cfg.MemoryLimitPages)
	assert.EqualValues(t, 4294967296, cfg.SubnetAvailableMemory)

	table := cfg.CostTable()
	assert.EqualValues(t, 2, table.Cost("i64.add"))
	assert.EqualValues(t, 10, table.Cost("call"))
	assert.EqualValues(t, 0, table.Cost("block"), "expected block to default to 0")
	assert.EqualValues(t, 1, table.Cost("unlisted.op"), "expected unlisted mnemonic to fall back to default cost")
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultHasFourWorkers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 4, cfg.Workers)
}
