package sandbox

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedWork(t *testing.T) {
	p := NewPool(2)
	var wg sync.WaitGroup
	wg.Add(1)
	done := make(chan struct{})
	require.NoError(t, p.Submit(func() { defer wg.Done(); close(done) }))
	wg.Wait()
	<-done
}

func TestPoolRejectsWhenSaturated(t *testing.T) {
	p := NewPool(1)
	block := make(chan struct{})
	release := make(chan struct{})

	require.NoError(t, p.Submit(func() { close(block); <-release }))
	<-block // wait until the one worker slot is actually occupied

	err := p.Submit(func() {})
	require.Error(t, err, "expected pool-saturated error with no free slot")
	ierr, ok := err.(*Error)
	require.True(t, ok, "expected *Error, got %T", err)
	assert.Equal(t, KindPoolSaturated, ierr.Kind)

	close(release)
}

func TestPoolDefaultsWorkerCount(t *testing.T) {
	p := NewPool(0)
	assert.NotNil(t, p.sem, "expected a usable pool with the default worker count")
}
