// Package isobmff implements the ISO/IEC 14496-12 Base Media File
// Format demuxer family: plain MP4, 3GPP, and fragmented MP4 (fMP4),
// including sample-to-chunk, time-to-sample, chunk-offset, and
// sample-size table interpretation and fragment (moof/traf/trun)
// playback. Grounded on the box-walking idiom in
// _examples/jmylchreest-tvarr/internal/daemon/fmp4_demuxer.go's
// parse loop (size/type peeking, extended 64-bit size, moof+mdat
// pairing) and on the chunk-walking/recovery shape of the sibling
// demux/chunk package for the non-fragmented sample-table path that
// mediacommon's fmp4 package does not cover.
package isobmff

import (
	"github.com/segin/psymp3-demux/internal/demux"
	"github.com/segin/psymp3-demux/internal/iohandler"
	"github.com/segin/psymp3-demux/internal/media"
)

// fourcc is a raw four-byte box type, always read and compared as a
// big-endian byte sequence (BMFF has no RIFF-style endianness switch).
type fourcc [4]byte

func fc(s string) fourcc {
	var f fourcc
	copy(f[:], s)
	return f
}

func (f fourcc) String() string { return string(f[:]) }

func (f fourcc) isPrintable() bool {
	for _, b := range f {
		if b < 0x20 || b > 0x7e {
			return false
		}
	}
	return true
}

// Box types referenced by the parser.
var (
	ftypBox = fc("ftyp")
	moovBox = fc("moov")
	mvhdBox = fc("mvhd")
	mvexBox = fc("mvex")
	trexBox = fc("trex")
	trakBox = fc("trak")
	tkhdBox = fc("tkhd")
	mdiaBox = fc("mdia")
	mdhdBox = fc("mdhd")
	hdlrBox = fc("hdlr")
	minfBox = fc("minf")
	stblBox = fc("stbl")
	stsdBox = fc("stsd")
	sttsBox = fc("stts")
	cttsBox = fc("ctts")
	stscBox = fc("stsc")
	stszBox = fc("stsz")
	stz2Box = fc("stz2")
	stcoBox = fc("stco")
	co64Box = fc("co64")
	stssBox = fc("stss")
	mdatBox = fc("mdat")
	moofBox = fc("moof")
	mfhdBox = fc("mfhd")
	trafBox = fc("traf")
	tfhdBox = fc("tfhd")
	trunBox = fc("trun")
	tfdtBox = fc("tfdt")
	esdsBox = fc("esds")
	dOpsBox = fc("dOps")
	dfLaBox = fc("dfLa")
	waveBox = fc("wave")
	udtaBox = fc("udta")
)

// knownBoxTypes is consulted by the corrupted-box-header recovery path:
// a type outside this set, or one that isn't printable ASCII, marks the
// header as implausible.
var knownBoxTypes = map[fourcc]bool{
	ftypBox: true, moovBox: true, mvhdBox: true, mvexBox: true, trexBox: true,
	trakBox: true, tkhdBox: true, mdiaBox: true, mdhdBox: true, hdlrBox: true,
	minfBox: true, stblBox: true, stsdBox: true, sttsBox: true, cttsBox: true,
	stscBox: true, stszBox: true, stz2Box: true, stcoBox: true, co64Box: true,
	stssBox: true, mdatBox: true, moofBox: true, mfhdBox: true, trafBox: true,
	tfhdBox: true, trunBox: true, tfdtBox: true, esdsBox: true, dOpsBox: true,
	dfLaBox: true, waveBox: true, udtaBox: true,
	fc("smhd"): true, fc("vmhd"): true, fc("dinf"): true, fc("dref"): true,
	fc("free"): true, fc("skip"): true, fc("mp4a"): true, fc("alac"): true,
	fc("Opus"): true, fc("ulaw"): true, fc("alaw"): true, fc("mfra"): true,
}

// plausibleSizeDefaults provides a table-driven fallback size estimate
// for a corrupted box header, keyed by the box type that was still
// legible even though its size field was not.
var plausibleSizeDefaults = map[fourcc]int64{
	ftypBox: 32,
	stsdBox: 1024,
	trakBox: 1 << 20,
}

// box is one parsed BMFF box header: its type, the absolute offset of
// the header's first byte, the header length (8 or 16 bytes), and the
// payload length following the header.
type box struct {
	Type          fourcc
	Offset        int64
	HeaderLen     int64
	PayloadSize   int64
	PayloadOffset int64
}

// End returns the absolute offset one past the box's last byte.
func (b box) End() int64 { return b.PayloadOffset + b.PayloadSize }

// readBoxHeader reads one box header at the reader's current position.
// size == 0 means "extends to the end of its enclosing range", encoded
// here as a negative PayloadSize; callers clamp it against the parent
// end.
func readBoxHeader(r *demux.Reader) (box, error) {
	start, err := r.Src.Tell()
	if err != nil {
		return box{}, media.Wrap(media.KindIO, "tell failed before box header", -1, media.RecoveryNone, err)
	}

	size32, err := r.ReadU32BE()
	if err != nil {
		return box{}, media.Wrap(media.KindFormat, "failed to read box size", start, media.RecoveryNone, err)
	}
	typBytes, err := r.ReadFourCC()
	if err != nil {
		return box{}, media.Wrap(media.KindFormat, "failed to read box type", start+4, media.RecoveryNone, err)
	}
	typ := fourcc(typBytes)

	headerLen := int64(8)
	var size int64
	switch size32 {
	case 1:
		size64, err := r.ReadU64BE()
		if err != nil {
			return box{}, media.Wrap(media.KindFormat, "failed to read extended box size", start+8, media.RecoveryNone, err)
		}
		headerLen = 16
		size = int64(size64)
	case 0:
		size = -1
	default:
		size = int64(size32)
	}

	payloadOffset := start + headerLen
	payloadSize := size
	if size >= 0 {
		payloadSize = size - headerLen
		if payloadSize < 0 {
			payloadSize = 0
		}
	}

	return box{Type: typ, Offset: start, HeaderLen: headerLen, PayloadSize: payloadSize, PayloadOffset: payloadOffset}, nil
}

// isPlausibleBoxHeaderAt peeks the type field (bytes 4..8, or for a
// 1-sized box still bytes 4..8) at offset without consuming it.
func isPlausibleBoxHeaderAt(src iohandler.ByteSource, offset int64) bool {
	start, err := src.Tell()
	if err != nil {
		return false
	}
	defer src.Seek(start, iohandler.OriginStart)

	if err := src.Seek(offset+4, iohandler.OriginStart); err != nil {
		return false
	}
	buf := make([]byte, 4)
	n, _ := src.Read(buf)
	if n < 4 {
		return false
	}
	typ := fourcc(buf)
	return typ.isPrintable() && knownBoxTypes[typ]
}

// estimatePlausibleSize implements the corrupted-box-header recovery
// path: when a box's declared size looks implausible but its type is
// still legible, synthesise a size from the table-driven defaults,
// using "remaining container" for mdat and for every type without a
// table entry, and clamping a table default to the parent's remaining
// payload.
func estimatePlausibleSize(typ fourcc, remaining int64) int64 {
	if typ == mdatBox {
		return remaining
	}
	if def, ok := plausibleSizeDefaults[typ]; ok && def < remaining {
		return def
	}
	return remaining
}

// walkBoxes invokes fn for each top-level box in [start, end). fn
// returns (continue, error); returning ok=false with a nil error stops
// the walk without reporting a failure (used when a handler decides it
// has seen enough, e.g. ParseContainer after moov is found).
func walkBoxes(r *demux.Reader, start, end int64, fn func(b box) (bool, error)) error {
	pos := start
	for pos < end {
		if err := r.Src.Seek(pos, iohandler.OriginStart); err != nil {
			return media.Wrap(media.KindIO, "seek failed while walking boxes", pos, media.RecoveryNone, err)
		}

		b, err := readBoxHeader(r)
		if err != nil {
			return err
		}
		if b.PayloadSize < 0 {
			b.PayloadSize = end - b.PayloadOffset
		}
		if !b.Type.isPrintable() || !knownBoxTypes[b.Type] || b.PayloadOffset+b.PayloadSize > end {
			remaining := end - b.Offset
			size := estimatePlausibleSize(b.Type, remaining)
			b.PayloadSize = size - b.HeaderLen
			if b.PayloadSize < 0 {
				b.PayloadSize = 0
			}
		}

		cont, err := fn(b)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}

		next := b.PayloadOffset + b.PayloadSize
		if next <= pos {
			next = pos + b.HeaderLen
		}
		pos = next
	}
	return nil
}
