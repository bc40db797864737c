package isobmff

import (
	"encoding/binary"
	"testing"

	"github.com/segin/psymp3-demux/internal/iohandler"
)

// box wraps payload in a standard 32-bit-size BMFF box header.
func box(typ string, payload []byte) []byte {
	out := make([]byte, 0, 8+len(payload))
	out = appendU32BE(out, uint32(8+len(payload)))
	out = append(out, typ...)
	out = append(out, payload...)
	return out
}

func appendU32BE(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU16BE(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func fullBoxHeader(flags uint32) []byte {
	return appendU32BE(nil, flags) // version (high byte) + flags packed together, version 0 throughout tests
}

func buildFtyp() []byte {
	p := []byte("isom")
	p = appendU32BE(p, 0)
	p = append(p, "isom"...)
	p = append(p, "mp41"...)
	return box("ftyp", p)
}

func buildMvhd(timescale, duration uint32) []byte {
	p := fullBoxHeader(0)
	p = appendU32BE(p, 0) // creation_time
	p = appendU32BE(p, 0) // modification_time
	p = appendU32BE(p, timescale)
	p = appendU32BE(p, duration)
	p = append(p, make([]byte, 80)...) // rate/volume/reserved/matrix/predefined/next_track_id, unread
	return box("mvhd", p)
}

func buildTkhd(trackID uint32) []byte {
	p := fullBoxHeader(0)
	p = appendU32BE(p, 0) // creation_time
	p = appendU32BE(p, 0) // modification_time
	p = appendU32BE(p, trackID)
	p = append(p, make([]byte, 64)...) // remainder of tkhd, unread by parseTkhd
	return box("tkhd", p)
}

func buildMdhd(timescale uint32, duration uint32) []byte {
	p := fullBoxHeader(0)
	p = appendU32BE(p, 0) // creation_time
	p = appendU32BE(p, 0) // modification_time
	p = appendU32BE(p, timescale)
	p = appendU32BE(p, duration)
	p = appendU16BE(p, 0) // language
	p = appendU16BE(p, 0) // pre_defined
	return box("mdhd", p)
}

func buildHdlr(handlerType string) []byte {
	p := fullBoxHeader(0)
	p = appendU32BE(p, 0) // pre_defined
	p = append(p, handlerType...)
	p = append(p, make([]byte, 12)...) // reserved
	p = append(p, 0)                   // empty name, NUL-terminated
	return box("hdlr", p)
}

// buildAudioStsd builds a minimal stsd with one AudioSampleEntry of the
// given format, sample rate, and channel count, with no codec-private
// child box (exercising codec-private synthesis on readback).
func buildAudioStsd(format string, sampleRate uint32, channels, bitsPerSample uint16) []byte {
	entry := make([]byte, 6) // reserved
	entry = appendU16BE(entry, 1) // data_reference_index
	entry = append(entry, make([]byte, 8)...) // reserved (version/revision/vendor)
	entry = appendU16BE(entry, channels)
	entry = appendU16BE(entry, bitsPerSample)
	entry = appendU16BE(entry, 0) // pre_defined
	entry = appendU16BE(entry, 0) // reserved
	entry = appendU32BE(entry, sampleRate<<16)
	entryBox := box(format, entry)

	p := fullBoxHeader(0)
	p = appendU32BE(p, 1) // entry_count
	p = append(p, entryBox...)
	return box("stsd", p)
}

func buildStts(count, delta uint32) []byte {
	p := fullBoxHeader(0)
	p = appendU32BE(p, 1)
	p = appendU32BE(p, count)
	p = appendU32BE(p, delta)
	return box("stts", p)
}

func buildStsc(firstChunk, samplesPerChunk, descIdx uint32) []byte {
	p := fullBoxHeader(0)
	p = appendU32BE(p, 1)
	p = appendU32BE(p, firstChunk)
	p = appendU32BE(p, samplesPerChunk)
	p = appendU32BE(p, descIdx)
	return box("stsc", p)
}

func buildStsz(sizes []uint32) []byte {
	p := fullBoxHeader(0)
	p = appendU32BE(p, 0) // sample_size == 0: per-sample sizes follow
	p = appendU32BE(p, uint32(len(sizes)))
	for _, s := range sizes {
		p = appendU32BE(p, s)
	}
	return box("stsz", p)
}

// buildStcoPlaceholder returns the stco box plus the byte offset (from
// the start of this box's bytes) of its single chunk-offset field, so
// the caller can patch it once the absolute mdat offset is known.
func buildStcoPlaceholder() (boxBytes []byte, offsetFieldPos int) {
	p := fullBoxHeader(0)
	p = appendU32BE(p, 1) // entry_count
	offsetFieldPos = 8 + len(p) // box header (8) + version/flags+count so far
	p = appendU32BE(p, 0)       // placeholder chunk offset
	return box("stco", p), offsetFieldPos
}

// buildProgressiveMP4 assembles a single-track, non-fragmented MP4
// with a two-sample audio track (16-bit big-endian PCM, "twos"), per
// shape.
func buildProgressiveMP4() []byte {
	const timescale = 44100
	const trackID = 1

	ftyp := buildFtyp()
	mvhd := buildMvhd(timescale, 2048)
	tkhd := buildTkhd(trackID)
	mdhd := buildMdhd(timescale, 2048)
	hdlr := buildHdlr("soun")
	stsd := buildAudioStsd("twos", timescale, 2, 16)
	stts := buildStts(2, 1024)
	stsc := buildStsc(1, 2, 1)
	stsz := buildStsz([]uint32{100, 100})
	stco, stcoOffsetRelPos := buildStcoPlaceholder()

	stbl := box("stbl", concatAll(stsd, stts, stsc, stsz, stco))
	minf := box("minf", stbl)
	mdia := box("mdia", concatAll(mdhd, hdlr, minf))
	trak := box("trak", concatAll(tkhd, mdia))
	moov := box("moov", concatAll(mvhd, trak))

	mdatPayload := make([]byte, 200)
	for i := range mdatPayload {
		mdatPayload[i] = byte(i)
	}
	mdat := box("mdat", mdatPayload)

	mdatOffset := len(ftyp) + len(moov) + 8 // +8 for mdat's own header

	// Locate the stco box's absolute position within moov: moov's
	// payload is mvhd, then trak; trak's payload is tkhd, then mdia;
	// mdia's payload is mdhd, hdlr, minf; minf's payload is stbl;
	// stbl's payload is stsd, stts, stsc, stsz, then stco.
	stblChildOffset := len(stsd) + len(stts) + len(stsc) + len(stsz)
	stcoAbsInMoov := 8 /*moov hdr*/ + len(mvhd) + 8 /*trak hdr*/ + len(tkhd) + 8 /*mdia hdr*/ + len(mdhd) + len(hdlr) + 8 /*minf hdr*/ + 8 /*stbl hdr*/ + stblChildOffset
	patchPos := len(ftyp) + stcoAbsInMoov + stcoOffsetRelPos

	out := concatAll(ftyp, moov, mdat)
	binary.BigEndian.PutUint32(out[patchPos:patchPos+4], uint32(mdatOffset))
	return out
}

func concatAll(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestISOBMFFDemuxerParsesProgressiveTrack(t *testing.T) {
	data := buildProgressiveMP4()
	src := iohandler.NewMemSource(data)
	d := New(src)

	if err := d.ParseContainer(); err != nil {
		t.Fatalf("ParseContainer: %v", err)
	}

	streams := d.Streams()
	if len(streams) != 1 {
		t.Fatalf("expected 1 stream, got %d", len(streams))
	}
	s := streams[0]
	if s.CodecType != "audio" {
		t.Errorf("CodecType = %q, want audio", s.CodecType)
	}
	if s.CodecName != "pcm" {
		t.Errorf("CodecName = %q, want pcm", s.CodecName)
	}
	if s.Channels != 2 {
		t.Errorf("Channels = %d, want 2", s.Channels)
	}
	if s.SampleRate != 44100 {
		t.Errorf("SampleRate = %d, want 44100", s.SampleRate)
	}

	c1, err := d.ReadChunk()
	if err != nil {
		t.Fatalf("ReadChunk 1: %v", err)
	}
	if c1.DataSize() != 100 {
		t.Errorf("chunk 1 size = %d, want 100", c1.DataSize())
	}
	if !c1.IsKeyframe {
		t.Errorf("chunk 1 should be a sync sample (no stss present)")
	}

	c2, err := d.ReadChunk()
	if err != nil {
		t.Fatalf("ReadChunk 2: %v", err)
	}
	if c2.TimestampMs <= c1.TimestampMs {
		t.Errorf("chunk 2 timestamp %d should exceed chunk 1 timestamp %d", c2.TimestampMs, c1.TimestampMs)
	}

	c3, err := d.ReadChunk()
	if err != nil {
		t.Fatalf("ReadChunk 3 (eof): %v", err)
	}
	if !c3.IsEmpty() {
		t.Errorf("expected empty chunk at EOF")
	}
	if !d.IsEOF() {
		t.Errorf("expected IsEOF after exhausting samples")
	}
}

func TestISOBMFFDemuxerSeekTo(t *testing.T) {
	data := buildProgressiveMP4()
	src := iohandler.NewMemSource(data)
	d := New(src)
	if err := d.ParseContainer(); err != nil {
		t.Fatalf("ParseContainer: %v", err)
	}

	if err := d.SeekTo(0); err != nil {
		t.Fatalf("SeekTo: %v", err)
	}
	if d.IsEOF() {
		t.Errorf("did not expect EOF right after seeking to 0")
	}

	c, err := d.ReadChunk()
	if err != nil {
		t.Fatalf("ReadChunk after seek: %v", err)
	}
	if c.IsEmpty() {
		t.Errorf("expected a sample after seeking to start")
	}
}

func TestISOBMFFDemuxerRejectsDoubleParse(t *testing.T) {
	data := buildProgressiveMP4()
	src := iohandler.NewMemSource(data)
	d := New(src)
	if err := d.ParseContainer(); err != nil {
		t.Fatalf("ParseContainer: %v", err)
	}
	if err := d.ParseContainer(); err == nil {
		t.Errorf("expected error on second ParseContainer call")
	}
}
