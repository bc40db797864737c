package demux

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/segin/psymp3-demux/internal/media"
	"github.com/segin/psymp3-demux/internal/observability"
)

// RecoveryHooks dispatches to one of three format-specific recovery
// strategies depending on the recovery hint attached to an error.
// Exported so concrete demuxers in other packages can implement it.
type RecoveryHooks interface {
	SkipToNextValidSection() error
	ResetInternalState() error
	EnableFallbackMode() bool
}

// NoRecovery is embedded by demuxers that don't override one or more
// recovery hooks, supplying no-op/false defaults.
type NoRecovery struct{}

func (NoRecovery) SkipToNextValidSection() error {
	return media.NewError(media.KindFormat, "no recovery available")
}
func (NoRecovery) ResetInternalState() error { return nil }
func (NoRecovery) EnableFallbackMode() bool  { return false }

// Base carries the bookkeeping shared by every concrete Demuxer:
// enumerated streams, duration/position, parsed/eof flags, per-stream
// read cursors, the last error, and accumulated recovery statistics.
type Base struct {
	streamsMu sync.RWMutex
	streams   []media.StreamInfo

	durationMs atomic.Int64
	positionMs atomic.Int64
	parsed     atomic.Bool
	eof        atomic.Bool

	posMu           sync.Mutex
	streamPositions map[uint32]int64

	lastErr atomic.Pointer[media.Error]

	statsMu sync.Mutex
	stats   map[media.ErrorKind]int

	// correlationID identifies this Demuxer instance in logs. A process
	// that probes many files or streams concurrently needs it to tell
	// one instance's recovered errors apart from another's.
	correlationID string
	logger        *slog.Logger
}

// NewBase constructs a zeroed Base ready for embedding. Each instance
// gets its own correlation ID, attached to a logger derived from
// slog.Default() so ReportError's log lines carry it automatically.
func NewBase() Base {
	id := uuid.NewString()
	return Base{
		streamPositions: make(map[uint32]int64),
		stats:           make(map[media.ErrorKind]int),
		correlationID:   id,
		logger:          observability.WithCorrelationID(slog.Default(), id),
	}
}

// CorrelationID returns the ID this Demuxer instance's log lines are
// tagged with.
func (b *Base) CorrelationID() string {
	return b.correlationID
}

// SetStreams replaces the enumerated stream list. Called once by
// ParseContainer.
func (b *Base) SetStreams(streams []media.StreamInfo) {
	b.streamsMu.Lock()
	defer b.streamsMu.Unlock()
	b.streams = streams
}

// Streams returns a snapshot of the enumerated streams.
func (b *Base) Streams() []media.StreamInfo {
	b.streamsMu.RLock()
	defer b.streamsMu.RUnlock()
	out := make([]media.StreamInfo, len(b.streams))
	copy(out, b.streams)
	return out
}

// StreamInfo looks up a stream by id.
func (b *Base) StreamInfo(id uint32) (media.StreamInfo, bool) {
	b.streamsMu.RLock()
	defer b.streamsMu.RUnlock()
	for _, s := range b.streams {
		if s.StreamID == id {
			return s, true
		}
	}
	return media.StreamInfo{}, false
}

// IsValidStreamID reports whether id names an enumerated stream.
func (b *Base) IsValidStreamID(id uint32) bool {
	_, ok := b.StreamInfo(id)
	return ok
}

// SetParsed/IsParsed track whether ParseContainer has already run.
func (b *Base) SetParsed(v bool) { b.parsed.Store(v) }
func (b *Base) IsParsed() bool   { return b.parsed.Load() }

// SetEOF/IsEOF track the end-of-stream flag.
func (b *Base) SetEOF(v bool) { b.eof.Store(v) }
func (b *Base) IsEOF() bool   { return b.eof.Load() }

// UpdateDuration/DurationMs carry the container's total duration.
func (b *Base) UpdateDuration(ms int64) { b.durationMs.Store(ms) }
func (b *Base) DurationMs() int64       { return b.durationMs.Load() }

// UpdatePosition/PositionMs carry the demuxer's overall read cursor.
func (b *Base) UpdatePosition(ms int64) { b.positionMs.Store(ms) }
func (b *Base) PositionMs() int64       { return b.positionMs.Load() }

// UpdateStreamPosition/StreamPosition track per-stream read cursors
// independently of the overall position, for ReadChunkFrom.
func (b *Base) UpdateStreamPosition(id uint32, ms int64) {
	b.posMu.Lock()
	defer b.posMu.Unlock()
	b.streamPositions[id] = ms
}

func (b *Base) StreamPosition(id uint32) int64 {
	b.posMu.Lock()
	defer b.posMu.Unlock()
	return b.streamPositions[id]
}

// LastError returns the most recently recorded error.
func (b *Base) LastError() *media.Error {
	return b.lastErr.Load()
}

// ErrorStats returns a copy of the accumulated recovery-action counts.
func (b *Base) ErrorStats() map[media.ErrorKind]int {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	out := make(map[media.ErrorKind]int, len(b.stats))
	for k, v := range b.stats {
		out[k] = v
	}
	return out
}

// ReportError records err into the error-statistics map and, when it
// carries a recovery hint, dispatches to the embedding demuxer's
// recovery hooks.
func (b *Base) ReportError(hooks RecoveryHooks, err *media.Error) error {
	b.lastErr.Store(err)

	b.statsMu.Lock()
	b.stats[err.Category]++
	b.statsMu.Unlock()

	if b.logger != nil {
		b.logger.Warn("demuxer recovering from error",
			slog.String("kind", err.Category.String()),
			slog.String("recovery", err.Recovery.String()),
			slog.Int64("offset", err.FileOffset),
			slog.String("message", err.Message),
		)
	}

	switch err.Recovery {
	case media.RecoverySkipSection:
		return hooks.SkipToNextValidSection()
	case media.RecoveryResetState:
		return hooks.ResetInternalState()
	case media.RecoveryFallbackMode:
		if hooks.EnableFallbackMode() {
			return nil
		}
		return err
	default:
		return err
	}
}
