package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPool_AcquireReturnsRequestedCapacity(t *testing.T) {
	p := NewBufferPool(0)

	sizes := []int{512, 2048, 8192, 100000}
	for _, n := range sizes {
		buf := p.Acquire(n)
		require.GreaterOrEqual(t, cap(buf), n)
		assert.Len(t, buf, 0)
	}
}

func TestBufferPool_ReleaseThenAcquireReuses(t *testing.T) {
	p := NewBufferPool(0)

	buf := p.Acquire(8192)
	buf = append(buf, make([]byte, 8192)...)
	p.Release(buf)

	stats := p.Stats()
	require.Equal(t, 1, stats.TotalBuffers)

	reused := p.Acquire(4096)
	assert.GreaterOrEqual(t, cap(reused), 4096)

	stats = p.Stats()
	assert.Equal(t, 0, stats.TotalBuffers)
}

func TestBufferPool_ReleaseDropsTooSmallOrTooLarge(t *testing.T) {
	p := NewBufferPool(1024)

	tiny := make([]byte, 0, 64)
	p.Release(tiny)
	assert.Equal(t, 0, p.Stats().TotalBuffers)

	huge := make([]byte, 0, 10*1024*1024)
	p.Release(huge)
	assert.Equal(t, 0, p.Stats().TotalBuffers)
}

func TestBufferPool_PressureShrinksBands(t *testing.T) {
	p := NewBufferPool(1 << 20)

	for i := 0; i < 10; i++ {
		buf := make([]byte, 0, 2048)
		buf = append(buf, make([]byte, 2048)...)
		p.Release(buf)
	}
	require.Equal(t, 10, p.Stats().TotalBuffers)

	p.SetPressure(80)
	assert.Less(t, p.Stats().TotalBuffers, 10)
}

func TestBufferPool_AboveCapIsNeverPooled(t *testing.T) {
	p := NewBufferPool(1024)
	p.SetPressure(70)

	buf := p.Acquire(1 << 20)
	require.GreaterOrEqual(t, cap(buf), 1<<20)
	p.Release(buf)
	assert.Equal(t, 0, p.Stats().TotalBuffers)
}

func TestMediaChunk_ReleaseReturnsBufferToPool(t *testing.T) {
	p := NewBufferPool(0)
	chunk := NewMediaChunk(p, 1, 8192)
	chunk.Data = append(chunk.Data, make([]byte, 8192)...)

	chunk.Release()
	assert.Nil(t, chunk.Data)
	assert.Equal(t, 1, p.Stats().TotalBuffers)
}

func TestMediaChunk_EmptySignalsEOF(t *testing.T) {
	chunk := &MediaChunk{StreamID: 1}
	assert.True(t, chunk.IsEmpty())

	chunk.Data = []byte{1, 2, 3}
	assert.False(t, chunk.IsEmpty())
}
