package chunk

import (
	"github.com/segin/psymp3-demux/internal/iohandler"
	"github.com/segin/psymp3-demux/internal/media"
)

// SkipToNextValidSection linearly scans forward for the next plausible
// fourcc, capped by resyncSearchBudget, mirroring
// ChunkDemuxer.h's skipToNextValidSection.
func (d *Demuxer) SkipToNextValidSection() error {
	start, err := d.r.Src.Tell()
	if err != nil {
		return media.Wrap(media.KindIO, "tell failed during resync", -1, media.RecoveryNone, err)
	}

	for offset := int64(1); offset < resyncSearchBudget; offset++ {
		pos := start + offset
		if pos >= d.formEnd {
			return media.NewErrorAt(media.KindFormat, "resync exhausted form payload", pos, media.RecoveryNone)
		}
		if err := d.r.Src.Seek(pos, iohandler.OriginStart); err != nil {
			return media.Wrap(media.KindIO, "seek failed during resync", pos, media.RecoveryNone, err)
		}
		if isPlausibleHeaderAt(d.src) {
			return nil
		}
	}
	return media.NewErrorAt(media.KindFormat, "resync search budget exceeded", start, media.RecoveryNone)
}

// ResetInternalState clears accumulated stream fields so a subsequent
// pass through the chunk walk starts clean, mirroring ChunkDemuxer.h's
// resetInternalState.
func (d *Demuxer) ResetInternalState() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stream = streamData{streamID: 1}
	d.haveStream = false
	return nil
}

// EnableFallbackMode sets the demuxer's fallback flag and reports
// whether stream data was already found, mirroring ChunkDemuxer.h's
// enableFallbackMode. Header validation does not consult the flag, so
// it is not relaxed by this call.
func (d *Demuxer) EnableFallbackMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = true
	return d.haveStream
}
