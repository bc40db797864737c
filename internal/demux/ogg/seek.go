package ogg

import (
	"github.com/segin/psymp3-demux/internal/iohandler"
	"github.com/segin/psymp3-demux/internal/media"
)

// durationProbeWindow bounds how much trailing data probeDuration scans
// looking for the container's final valid page.
const durationProbeWindow = 64 * 1024

// probeDuration seeks near the end of a seekable, size-known source and
// scans forward for the last valid page of the primary stream, setting
// DurationMs from its granule. Duration remains 0 (unknown) when the
// source can't support this probe — e.g. streaming HTTP with an
// unknown size.
func (d *Demuxer) probeDuration() {
	if len(d.order) == 0 {
		return
	}
	primary := d.streams[d.order[0]]
	if primary.codec == "flac" && d.DurationMs() > 0 {
		return // STREAMINFO already gave an authoritative duration.
	}

	size, ok := d.src.Size()
	if !ok || size <= 0 {
		return
	}
	cur, err := d.src.Tell()
	if err != nil {
		return
	}
	defer d.src.Seek(cur, iohandler.OriginStart)

	start := size - durationProbeWindow
	if start < 0 {
		start = 0
	}
	if err := d.src.Seek(start, iohandler.OriginStart); err != nil {
		return
	}

	probe := NewPageReader(d.src)
	var lastGranule uint64
	found := false
	for {
		page, err := probe.Next()
		if err != nil {
			break
		}
		if page.Serial == primary.serial {
			lastGranule = page.Granule
			found = true
		}
	}
	if !found {
		return
	}
	sample := granuleToSample(primary.codec, lastGranule, primary.params)
	if primary.params.sampleRate > 0 {
		d.UpdateDuration(sample * 1000 / int64(primary.params.sampleRate))
	}
}

// SeekTo bisects the byte range for the page whose granule position is
// nearest target_ms: narrow bounds by probing page granules, then
// linear-read forward discarding packets until the
// target granule is reached. Falls back to a linear scan from the
// start when CRC failures during bisection exceed crcDropThreshold.
func (d *Demuxer) SeekTo(ms int64) error {
	if !d.IsParsed() {
		return media.NewError(media.KindValidation, "container not parsed")
	}
	if ms < 0 {
		ms = 0
	}
	if d.DurationMs() > 0 && ms > d.DurationMs() {
		ms = d.DurationMs()
	}
	if len(d.order) == 0 {
		return media.NewError(media.KindUnsupported, "no stream to seek against")
	}
	primary := d.streams[d.order[0]]
	if primary.params.sampleRate == 0 {
		return media.NewError(media.KindUnsupported, "primary stream has no sample rate to seek against")
	}

	size, ok := d.src.Size()
	if !ok || size <= 0 {
		return d.linearSeek(ms, primary)
	}

	targetSample := ms * int64(primary.params.sampleRate) / 1000
	var targetGranule int64
	if primary.codec == "opus" {
		targetGranule = targetSample + int64(primary.params.preSkip)
	} else {
		targetGranule = targetSample
	}

	lo, hi := int64(0), size
	var bestOffset int64
	fellBack := false
	for i := 0; i < 20 && hi-lo > 4096; i++ {
		mid := lo + (hi-lo)/2
		if err := d.src.Seek(mid, iohandler.OriginStart); err != nil {
			break
		}
		probe := NewPageReader(d.src)
		page, err := probe.Next()
		if err != nil {
			hi = mid
			continue
		}
		if probe.CRCFailures() > d.crcDropThreshold {
			// Too much corruption to trust bisection near this
			// offset; fall back to a linear scan.
			fellBack = true
			break
		}
		if page.Serial != primary.serial {
			// Land on another stream's page; nudge forward.
			lo = mid
			continue
		}
		g := granuleToSample(primary.codec, page.Granule, primary.params)
		if g < targetGranule {
			lo = page.Offset
			bestOffset = page.Offset
		} else {
			hi = page.Offset
		}
	}

	if fellBack {
		return d.linearSeek(ms, primary)
	}

	if err := d.src.Seek(bestOffset, iohandler.OriginStart); err != nil {
		return media.Wrap(media.KindIO, "seek failed", bestOffset, media.RecoveryNone, err)
	}
	d.resetForSeek()

	return d.advanceToGranule(targetGranule, primary)
}

func (d *Demuxer) linearSeek(ms int64, primary *logicalStream) error {
	if err := d.src.Seek(0, iohandler.OriginStart); err != nil {
		return media.Wrap(media.KindIO, "seek failed", 0, media.RecoveryNone, err)
	}
	d.resetForSeek()
	targetSample := ms * int64(primary.params.sampleRate) / 1000
	var targetGranule int64 = targetSample
	if primary.codec == "opus" {
		targetGranule = targetSample + int64(primary.params.preSkip)
	}
	return d.advanceToGranule(targetGranule, primary)
}

// resetForSeek drops all in-flight packet-assembly state and rebuilds
// the page reader at the current source position.
func (d *Demuxer) resetForSeek() {
	d.ResetInternalState()
	d.pr = NewPageReader(d.src)
	d.SetEOF(false)
}

// advanceToGranule reads forward from the current position, discarding
// pages that precede targetGranule on the primary stream, along with
// every other stream's pages read before that point. The first
// primary-stream page whose granule reaches the target has its
// packets queued normally so the next ReadChunk/ReadChunkFrom yields
// the earliest eligible chunk.
func (d *Demuxer) advanceToGranule(targetGranule int64, primary *logicalStream) error {
	for {
		page, err := d.pr.Next()
		if err != nil {
			d.SetEOF(true)
			return nil
		}
		ls, ok := d.streams[page.Serial]
		if !ok {
			continue
		}

		reached := page.Serial == primary.serial && int64(page.Granule) >= targetGranule
		pkts, _ := ls.extractPackets(page)
		if !reached {
			continue
		}

		added := 0
		for _, pk := range pkts {
			d.pending = append(d.pending, queuedPacket{id: streamID(page.Serial), data: pk})
			added++
		}
		if added > 0 {
			d.pending[len(d.pending)-1].granule = page.Granule
		}
		ls.lastGranule = page.Granule
		d.UpdatePosition(granuleToSample(primary.codec, page.Granule, primary.params) * 1000 / int64(primary.params.sampleRate))
		return nil
	}
}
