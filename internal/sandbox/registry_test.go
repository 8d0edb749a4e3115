package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harry-0909/ic/internal/pagemap"
)

func TestRegistryWasmInsertConflictAndMissing(t *testing.T) {
	r := newRegistry()
	entry := &CompiledWasm{}

	require.NoError(t, r.insertWasm(1, entry))
	err := r.insertWasm(1, entry)
	ierr, ok := err.(*Error)
	require.True(t, ok, "expected *Error, got %v", err)
	assert.Equal(t, KindIdConflict, ierr.Kind)

	_, err = r.getWasm(2)
	require.Error(t, err, "expected error for unknown wasm id")
	ierr, ok = err.(*Error)
	require.True(t, ok, "expected *Error, got %v", err)
	assert.Equal(t, KindIdMissing, ierr.Kind)

	_, err = r.removeWasm(1)
	require.NoError(t, err)
	_, err = r.removeWasm(1)
	assert.Error(t, err, "expected error removing an already-removed id")
}

func TestRegistryMemoryLifecycle(t *testing.T) {
	r := newRegistry()
	mem := &Memory{Pages: pagemap.Empty(), NumPages: 1}

	require.NoError(t, r.insertMemory(10, mem))
	assert.Error(t, r.insertMemory(10, mem), "expected conflict reinserting the same memory id")

	got, err := r.getMemory(10)
	require.NoError(t, err)
	assert.Same(t, mem, got)

	_, err = r.removeMemory(10)
	require.NoError(t, err)
	_, err = r.getMemory(10)
	assert.Error(t, err, "expected id-missing after close")
}

func TestMemoryClonePreservesNumPages(t *testing.T) {
	base := Memory{Pages: pagemap.Empty(), NumPages: 3}
	clone := base.Clone()
	assert.Equal(t, base.NumPages, clone.NumPages, "clone should preserve NumPages")
}
