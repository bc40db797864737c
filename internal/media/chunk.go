package media

// MediaChunk is a unit of compressed data produced by a demuxer. Its
// Data buffer, when large enough, was obtained from Pool and must be
// returned via Release when the caller is done with it; Go has no
// destructors, so Release is the explicit substitute for one.
type MediaChunk struct {
	StreamID        uint32
	Data            []byte
	TimestampSample int64
	TimestampMs     int64
	GranulePosition uint64
	IsKeyframe      bool
	FileOffset      int64

	pool *BufferPool
}

// NewMediaChunk acquires a buffer of at least n bytes from pool and
// returns a MediaChunk owning it. Passing a nil pool allocates plainly
// and skips pooling on Release.
func NewMediaChunk(pool *BufferPool, streamID uint32, n int) *MediaChunk {
	var data []byte
	if pool != nil {
		data = pool.Acquire(n)[:0]
	} else {
		data = make([]byte, 0, n)
	}
	return &MediaChunk{StreamID: streamID, Data: data, pool: pool}
}

// IsValid reports whether the chunk carries a usable stream id and data.
func (c *MediaChunk) IsValid() bool {
	return c != nil && c.StreamID != 0 && len(c.Data) > 0
}

// IsEmpty reports whether the chunk carries no payload — the sentinel
// returned by ReadChunk at end of stream.
func (c *MediaChunk) IsEmpty() bool {
	return c == nil || len(c.Data) == 0
}

// DataSize returns the payload length.
func (c *MediaChunk) DataSize() int {
	if c == nil {
		return 0
	}
	return len(c.Data)
}

// Release returns the backing buffer to its owning pool, if any, and
// clears the chunk. Safe to call on a nil chunk or one with no pool.
func (c *MediaChunk) Release() {
	if c == nil || c.pool == nil || c.Data == nil {
		return
	}
	c.pool.Release(c.Data)
	c.Data = nil
}

// Clear resets the chunk to its zero payload state without touching the
// pool; used when a chunk is being reused in place.
func (c *MediaChunk) Clear() {
	if c == nil {
		return
	}
	c.Data = c.Data[:0]
	c.TimestampSample = 0
	c.TimestampMs = 0
	c.GranulePosition = 0
	c.IsKeyframe = false
	c.FileOffset = 0
}
