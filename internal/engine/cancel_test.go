package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCancellationRegistry(t *testing.T) {
	reg := NewCancellationRegistry()

	assert.False(t, reg.IsCancelled("exec-1"))

	reg.RequestCancel("exec-1")
	assert.True(t, reg.IsCancelled("exec-1"))
	assert.False(t, reg.IsCancelled("exec-2"))
	assert.Equal(t, 1, reg.Len())

	// Idempotent.
	reg.RequestCancel("exec-1")
	assert.Equal(t, 1, reg.Len())

	reg.ClearCancel("exec-1")
	assert.False(t, reg.IsCancelled("exec-1"))
	assert.Equal(t, 0, reg.Len())

	// Clearing an absent entry is a no-op.
	reg.ClearCancel("exec-1")
}

func TestCancellationRegistryConcurrent(t *testing.T) {
	reg := NewCancellationRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			reg.RequestCancel("exec-a")
		}()
		go func() {
			defer wg.Done()
			reg.IsCancelled("exec-a")
		}()
		go func() {
			defer wg.Done()
			reg.ClearCancel("exec-a")
		}()
	}
	wg.Wait()
}
