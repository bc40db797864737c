package ogg

import (
	"github.com/segin/psymp3-demux/internal/media"
)

// refillOne reads one further page and queues its ready-stream packets,
// mirroring the per-page processing ParseContainer performs. It
// returns false at end of input.
func (d *Demuxer) refillOne() bool {
	page, err := d.pr.Next()
	if err != nil {
		d.SetEOF(true)
		return false
	}

	ls, ok := d.streams[page.Serial]
	if !ok {
		// A chained/grouped stream appearing after the header phase is
		// outside this module's scope; skip it and keep reading.
		return true
	}

	pkts, _ := ls.extractPackets(page)
	added := 0
	for _, pk := range pkts {
		if !ls.ready() {
			continue
		}
		d.pending = append(d.pending, queuedPacket{id: streamID(page.Serial), data: pk})
		added++
	}
	if added > 0 {
		d.pending[len(d.pending)-1].granule = page.Granule
		ls.lastGranule = page.Granule
	}
	return true
}

func (d *Demuxer) popPending() (queuedPacket, bool) {
	if len(d.pending) == 0 {
		return queuedPacket{}, false
	}
	p := d.pending[0]
	d.pending = d.pending[1:]
	return p, true
}

func (d *Demuxer) toChunk(qp queuedPacket) *media.MediaChunk {
	mc := media.NewMediaChunk(media.Pool, qp.id, len(qp.data))
	mc.Data = append(mc.Data[:0], qp.data...)
	mc.GranulePosition = qp.granule
	mc.IsKeyframe = true // audio convention: every packet decodes independently

	for _, serial := range d.order {
		if streamID(serial) != qp.id {
			continue
		}
		ls := d.streams[serial]
		mc.TimestampSample = granuleToSample(ls.codec, qp.granule, ls.params)
		if ls.params.sampleRate > 0 {
			mc.TimestampMs = mc.TimestampSample * 1000 / int64(ls.params.sampleRate)
		}
		break
	}
	d.UpdatePosition(mc.TimestampMs)
	d.UpdateStreamPosition(qp.id, mc.TimestampMs)
	return mc
}

// granuleToSample converts a granule position to a PCM sample index:
// Vorbis and FLAC use the granule directly; Opus granule is in 48kHz
// samples and must have pre-skip subtracted.
func granuleToSample(codec string, granule uint64, p codecParams) int64 {
	switch codec {
	case "opus":
		v := int64(granule) - int64(p.preSkip)
		if v < 0 {
			v = 0
		}
		return v
	default:
		return int64(granule)
	}
}

// ReadChunk returns the next chunk from any stream, in page-arrival
// order across logical streams.
func (d *Demuxer) ReadChunk() (*media.MediaChunk, error) {
	if !d.IsParsed() {
		return nil, media.NewError(media.KindValidation, "container not parsed")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for len(d.pending) == 0 {
		if !d.refillOne() {
			return media.NewMediaChunk(media.Pool, 0, 0), nil
		}
	}
	qp, _ := d.popPending()
	return d.toChunk(qp), nil
}

// ReadChunkFrom returns the next chunk belonging to streamID, buffering
// (not discarding) any other stream's packets encountered while
// searching.
func (d *Demuxer) ReadChunkFrom(wantID uint32) (*media.MediaChunk, error) {
	if !d.IsParsed() {
		return nil, media.NewError(media.KindValidation, "container not parsed")
	}
	if !d.IsValidStreamID(wantID) {
		return nil, media.NewError(media.KindValidation, "unknown stream id")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		for i, qp := range d.pending {
			if qp.id != wantID {
				continue
			}
			d.pending = append(d.pending[:i], d.pending[i+1:]...)
			return d.toChunk(qp), nil
		}
		if !d.refillOne() {
			return media.NewMediaChunk(media.Pool, wantID, 0), nil
		}
	}
}

