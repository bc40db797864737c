package demux_test

import (
	"encoding/binary"
	"reflect"
	"testing"

	"github.com/segin/psymp3-demux/internal/demux"
	_ "github.com/segin/psymp3-demux/internal/demux/chunk"
	_ "github.com/segin/psymp3-demux/internal/demux/isobmff"
	_ "github.com/segin/psymp3-demux/internal/demux/ogg"
	"github.com/segin/psymp3-demux/internal/iohandler"
)

// Cross-demuxer property tests run every registered container format
// (plus the Registry's raw fallback) through the same table, verifying
// properties that must hold regardless of which concrete Demuxer the
// Registry hands back: parse-idempotence, enumeration validity,
// non-decreasing timestamps, and EOF consistency.

func u16le(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }
func u32le(v uint32) []byte { return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)} }

func u32be(v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return tmp[:]
}

func u16be(v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return tmp[:]
}

// --- WAV fixture ---

func buildWAVFixture() []byte {
	fmtPayload := append(u16le(1), u16le(2)...)      // PCM, 2 channels
	fmtPayload = append(fmtPayload, u32le(44100)...) // sample rate
	fmtPayload = append(fmtPayload, u32le(44100*4)...)
	fmtPayload = append(fmtPayload, u16le(4)...)
	fmtPayload = append(fmtPayload, u16le(16)...)
	fmtChunk := append([]byte("fmt "), u32le(uint32(len(fmtPayload)))...)
	fmtChunk = append(fmtChunk, fmtPayload...)

	audio := make([]byte, 400)
	for i := range audio {
		audio[i] = byte(i)
	}
	dataChunk := append([]byte("data"), u32le(uint32(len(audio)))...)
	dataChunk = append(dataChunk, audio...)

	payload := append([]byte("WAVE"), fmtChunk...)
	payload = append(payload, dataChunk...)
	out := append([]byte("RIFF"), u32le(uint32(len(payload)))...)
	return append(out, payload...)
}

// --- Ogg/Vorbis fixture ---
// Duplicates the page/packet layout ogg's own test helpers build, since
// those helpers are unexported and this table lives outside the ogg
// package.

const (
	oggCapturePattern = "OggS"
	oggHeaderFirst    = 0x02
	oggHeaderLast     = 0x04
)

var oggCRCTable [256]uint32

func init() {
	const poly = uint32(0x04c11db7)
	for i := range oggCRCTable {
		r := uint32(i) << 24
		for bit := 0; bit < 8; bit++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ poly
			} else {
				r <<= 1
			}
		}
		oggCRCTable[i] = r
	}
}

func oggCRC32(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}

func appendU64LE(b []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		b = append(b, byte(v>>(8*uint(i))))
	}
	return b
}

func buildOggPage(serial, sequence uint32, granule uint64, headerType byte, packets [][]byte) []byte {
	var segs []byte
	var payload []byte
	for _, p := range packets {
		segs = append(segs, byte(len(p)))
		payload = append(payload, p...)
	}

	raw := make([]byte, 0, 27+len(segs)+len(payload))
	raw = append(raw, oggCapturePattern...)
	raw = append(raw, 0, headerType)
	raw = appendU64LE(raw, granule)
	raw = append(raw, u32le(serial)...)
	raw = append(raw, u32le(sequence)...)
	raw = append(raw, 0, 0, 0, 0)
	raw = append(raw, byte(len(segs)))
	raw = append(raw, segs...)
	raw = append(raw, payload...)

	crc := oggCRC32(raw)
	raw[22] = byte(crc)
	raw[23] = byte(crc >> 8)
	raw[24] = byte(crc >> 16)
	raw[25] = byte(crc >> 24)
	return raw
}

func vorbisIDPacket(channels byte, sampleRate uint32) []byte {
	p := []byte{0x01}
	p = append(p, "vorbis"...)
	p = append(p, u32le(0)...)
	p = append(p, channels)
	p = append(p, u32le(sampleRate)...)
	p = append(p, u32le(0)...)
	p = append(p, u32le(0)...)
	p = append(p, u32le(0)...)
	p = append(p, 0xB8, 0x01)
	return p
}

func vorbisCommentPacket() []byte {
	p := []byte{0x03}
	p = append(p, "vorbis"...)
	p = append(p, u32le(0)...)
	p = append(p, u32le(0)...)
	p = append(p, 0x01)
	return p
}

func vorbisSetupPacket() []byte {
	p := []byte{0x05}
	p = append(p, "vorbis"...)
	p = append(p, "setupdata"...)
	return p
}

func buildOggVorbisFixture() []byte {
	const serial = 4321
	page1 := buildOggPage(serial, 0, 0, oggHeaderFirst, [][]byte{vorbisIDPacket(2, 44100)})
	page2 := buildOggPage(serial, 1, 0, 0, [][]byte{vorbisCommentPacket(), vorbisSetupPacket()})
	page3 := buildOggPage(serial, 2, 1024, 0, [][]byte{make([]byte, 40)})
	page4 := buildOggPage(serial, 3, 2048, oggHeaderLast, [][]byte{make([]byte, 40)})

	var out []byte
	out = append(out, page1...)
	out = append(out, page2...)
	out = append(out, page3...)
	out = append(out, page4...)
	return out
}

// --- MP4/ISO BMFF fixture ---
// Mirrors isobmff's own progressive-track test fixture, duplicated here
// in standalone form for the same reason as the Ogg fixture above.

func bmffBox(typ string, payload []byte) []byte {
	out := make([]byte, 0, 8+len(payload))
	out = append(out, u32be(uint32(8+len(payload)))...)
	out = append(out, typ...)
	out = append(out, payload...)
	return out
}

func bmffFullBoxHeader() []byte { return u32be(0) }

func buildFtyp() []byte {
	p := []byte("isom")
	p = append(p, u32be(0)...)
	p = append(p, "isom"...)
	p = append(p, "mp41"...)
	return bmffBox("ftyp", p)
}

func buildMvhd(timescale, duration uint32) []byte {
	p := bmffFullBoxHeader()
	p = append(p, u32be(0)...)
	p = append(p, u32be(0)...)
	p = append(p, u32be(timescale)...)
	p = append(p, u32be(duration)...)
	p = append(p, make([]byte, 80)...)
	return bmffBox("mvhd", p)
}

func buildTkhd(trackID uint32) []byte {
	p := bmffFullBoxHeader()
	p = append(p, u32be(0)...)
	p = append(p, u32be(0)...)
	p = append(p, u32be(trackID)...)
	p = append(p, make([]byte, 64)...)
	return bmffBox("tkhd", p)
}

func buildMdhd(timescale, duration uint32) []byte {
	p := bmffFullBoxHeader()
	p = append(p, u32be(0)...)
	p = append(p, u32be(0)...)
	p = append(p, u32be(timescale)...)
	p = append(p, u32be(duration)...)
	p = append(p, u16be(0)...)
	p = append(p, u16be(0)...)
	return bmffBox("mdhd", p)
}

func buildHdlr(handlerType string) []byte {
	p := bmffFullBoxHeader()
	p = append(p, u32be(0)...)
	p = append(p, handlerType...)
	p = append(p, make([]byte, 12)...)
	p = append(p, 0)
	return bmffBox("hdlr", p)
}

func buildAudioStsd(format string, sampleRate uint32, channels, bitsPerSample uint16) []byte {
	entry := make([]byte, 6)
	entry = append(entry, u16be(1)...)
	entry = append(entry, make([]byte, 8)...)
	entry = append(entry, u16be(channels)...)
	entry = append(entry, u16be(bitsPerSample)...)
	entry = append(entry, u16be(0)...)
	entry = append(entry, u16be(0)...)
	entry = append(entry, u32be(sampleRate<<16)...)
	entryBox := bmffBox(format, entry)

	p := bmffFullBoxHeader()
	p = append(p, u32be(1)...)
	p = append(p, entryBox...)
	return bmffBox("stsd", p)
}

func buildStts(count, delta uint32) []byte {
	p := bmffFullBoxHeader()
	p = append(p, u32be(1)...)
	p = append(p, u32be(count)...)
	p = append(p, u32be(delta)...)
	return bmffBox("stts", p)
}

func buildStsc(firstChunk, samplesPerChunk, descIdx uint32) []byte {
	p := bmffFullBoxHeader()
	p = append(p, u32be(1)...)
	p = append(p, u32be(firstChunk)...)
	p = append(p, u32be(samplesPerChunk)...)
	p = append(p, u32be(descIdx)...)
	return bmffBox("stsc", p)
}

func buildStsz(sizes []uint32) []byte {
	p := bmffFullBoxHeader()
	p = append(p, u32be(0)...)
	p = append(p, u32be(uint32(len(sizes)))...)
	for _, s := range sizes {
		p = append(p, u32be(s)...)
	}
	return bmffBox("stsz", p)
}

func buildStcoPlaceholder() (boxBytes []byte, offsetFieldPos int) {
	p := bmffFullBoxHeader()
	p = append(p, u32be(1)...)
	offsetFieldPos = 8 + len(p)
	p = append(p, u32be(0)...)
	return bmffBox("stco", p), offsetFieldPos
}

func concatAll(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func buildMP4Fixture() []byte {
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

	stbl := bmffBox("stbl", concatAll(stsd, stts, stsc, stsz, stco))
	minf := bmffBox("minf", stbl)
	mdia := bmffBox("mdia", concatAll(mdhd, hdlr, minf))
	trak := bmffBox("trak", concatAll(tkhd, mdia))
	moov := bmffBox("moov", concatAll(mvhd, trak))

	mdatPayload := make([]byte, 200)
	for i := range mdatPayload {
		mdatPayload[i] = byte(i)
	}
	mdat := bmffBox("mdat", mdatPayload)

	mdatOffset := len(ftyp) + len(moov) + 8

	stblChildOffset := len(stsd) + len(stts) + len(stsc) + len(stsz)
	stcoAbsInMoov := 8 + len(mvhd) + 8 + len(tkhd) + 8 + len(mdhd) + len(hdlr) + 8 + 8 + stblChildOffset
	patchPos := len(ftyp) + stcoAbsInMoov + stcoOffsetRelPos

	out := concatAll(ftyp, moov, mdat)
	binary.BigEndian.PutUint32(out[patchPos:patchPos+4], uint32(mdatOffset))
	return out
}

// --- table-driven cross-demuxer properties ---

func newSource(data []byte) iohandler.ByteSource { return iohandler.NewMemSource(data) }

var crossDemuxerFixtures = []struct {
	name string
	data []byte
}{
	{"wav", buildWAVFixture()},
	{"ogg-vorbis", buildOggVorbisFixture()},
	{"mp4", buildMP4Fixture()},
	{"unrecognised-raw-fallback", []byte("this is not a known container format, just bytes")},
}

// P1: parsing identical bytes twice, with two independent Demuxer
// instances, yields identical stream enumeration and duration.
func TestCrossDemuxer_ParseIsIdempotentAcrossInstances(t *testing.T) {
	for _, tc := range crossDemuxerFixtures {
		t.Run(tc.name, func(t *testing.T) {
			d1, err := demux.DefaultRegistry.Create(newSource(tc.data))
			if err != nil {
				t.Fatalf("Create (1st): %v", err)
			}
			if err := d1.ParseContainer(); err != nil {
				t.Fatalf("ParseContainer (1st): %v", err)
			}

			d2, err := demux.DefaultRegistry.Create(newSource(tc.data))
			if err != nil {
				t.Fatalf("Create (2nd): %v", err)
			}
			if err := d2.ParseContainer(); err != nil {
				t.Fatalf("ParseContainer (2nd): %v", err)
			}

			s1, s2 := d1.Streams(), d2.Streams()
			if len(s1) != len(s2) {
				t.Fatalf("stream count differs: %d vs %d", len(s1), len(s2))
			}
			for i := range s1 {
				if !reflect.DeepEqual(s1[i], s2[i]) {
					t.Errorf("stream %d differs between parses: %+v vs %+v", i, s1[i], s2[i])
				}
			}
			if d1.DurationMs() != d2.DurationMs() {
				t.Errorf("DurationMs differs: %d vs %d", d1.DurationMs(), d2.DurationMs())
			}
		})
	}
}

// P2: every enumerated stream has a non-zero, unique ID, and
// ReadChunkFrom against that ID returns a chunk tagged with it (or an
// empty chunk once the stream is exhausted).
func TestCrossDemuxer_EnumerationIsValid(t *testing.T) {
	for _, tc := range crossDemuxerFixtures {
		t.Run(tc.name, func(t *testing.T) {
			d, err := demux.DefaultRegistry.Create(newSource(tc.data))
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if err := d.ParseContainer(); err != nil {
				t.Fatalf("ParseContainer: %v", err)
			}

			seen := make(map[uint32]bool)
			streams := d.Streams()
			if len(streams) == 0 {
				t.Fatalf("expected at least one stream")
			}
			for _, s := range streams {
				if s.StreamID == 0 {
					t.Errorf("stream has zero StreamID")
				}
				if seen[s.StreamID] {
					t.Errorf("duplicate StreamID %d", s.StreamID)
				}
				seen[s.StreamID] = true

				c, err := d.ReadChunkFrom(s.StreamID)
				if err != nil {
					t.Fatalf("ReadChunkFrom(%d): %v", s.StreamID, err)
				}
				if !c.IsEmpty() && c.StreamID != s.StreamID {
					t.Errorf("chunk StreamID = %d, want %d", c.StreamID, s.StreamID)
				}
			}
		})
	}
}

// P3: within a single stream, successive chunk timestamps never
// decrease.
func TestCrossDemuxer_TimestampsAreNonDecreasing(t *testing.T) {
	for _, tc := range crossDemuxerFixtures {
		t.Run(tc.name, func(t *testing.T) {
			d, err := demux.DefaultRegistry.Create(newSource(tc.data))
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if err := d.ParseContainer(); err != nil {
				t.Fatalf("ParseContainer: %v", err)
			}

			var last int64 = -1
			for i := 0; i < 64; i++ {
				c, err := d.ReadChunk()
				if err != nil {
					t.Fatalf("ReadChunk: %v", err)
				}
				if c.IsEmpty() {
					break
				}
				if c.TimestampMs < last {
					t.Errorf("chunk %d timestamp %d precedes previous %d", i, c.TimestampMs, last)
				}
				last = c.TimestampMs
			}
		})
	}
}

// P5: once ReadChunk returns an empty chunk, IsEOF reports true and
// further reads keep returning empty chunks until a successful seek.
func TestCrossDemuxer_EOFIsConsistent(t *testing.T) {
	for _, tc := range crossDemuxerFixtures {
		t.Run(tc.name, func(t *testing.T) {
			d, err := demux.DefaultRegistry.Create(newSource(tc.data))
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if err := d.ParseContainer(); err != nil {
				t.Fatalf("ParseContainer: %v", err)
			}

			var hitEOF bool
			for i := 0; i < 256; i++ {
				c, err := d.ReadChunk()
				if err != nil {
					t.Fatalf("ReadChunk: %v", err)
				}
				if c.IsEmpty() {
					hitEOF = true
					break
				}
			}
			if !hitEOF {
				t.Fatalf("stream never reached an empty chunk within the read budget")
			}
			if !d.IsEOF() {
				t.Errorf("expected IsEOF() true after an empty ReadChunk")
			}

			c2, err := d.ReadChunk()
			if err != nil {
				t.Fatalf("ReadChunk after EOF: %v", err)
			}
			if !c2.IsEmpty() {
				t.Errorf("expected further reads past EOF to stay empty")
			}

			if err := d.SeekTo(0); err == nil {
				if d.IsEOF() {
					t.Errorf("expected IsEOF() false immediately after a successful seek to 0")
				}
			}
		})
	}
}

// CreateWithHint falls back to the extension hint when signature
// probing is inconclusive, and to the raw demuxer when neither
// matches — exercising Registry.create's full fallback chain from
// outside the package.
func TestRegistry_CreateWithHintFallsBackToRaw(t *testing.T) {
	d, err := demux.DefaultRegistry.CreateWithHint(newSource([]byte("not a container")), "mystery.bin")
	if err != nil {
		t.Fatalf("CreateWithHint: %v", err)
	}
	if err := d.ParseContainer(); err != nil {
		t.Fatalf("ParseContainer: %v", err)
	}
	streams := d.Streams()
	if len(streams) != 1 || streams[0].CodecName != "raw" {
		t.Fatalf("expected the raw fallback demuxer, got streams: %+v", streams)
	}
}
