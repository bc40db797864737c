// Package chunk implements the chunk-tagged container family: RIFF/WAV
// (little-endian), IFF/AIFF (big-endian), and AIFF-C.
package chunk

// fourcc is a raw four-character code, always compared in the bit
// pattern it was read with — the container's declared endianness
// governs how these constants are interpreted, exactly as
// ChunkDemuxer.h's readChunkValue<T> dispatches between readBE/readLE.
type fourcc [4]byte

func fc(s string) fourcc {
	var f fourcc
	copy(f[:], s)
	return f
}

var (
	formFourCC = fc("FORM")
	riffFourCC = fc("RIFF")
	listFourCC = fc("LIST")

	waveFourCC = fc("WAVE")
	aiffFourCC = fc("AIFF")
	aifcFourCC = fc("AIFC")

	fmtFourCC  = fc("fmt ")
	dataFourCC = fc("data")
	factFourCC = fc("fact")

	commFourCC = fc("COMM")
	ssndFourCC = fc("SSND")
	nameFourCC = fc("NAME")
	authFourCC = fc("AUTH")
	cprFourCC  = fc("(c) ")
	annoFourCC = fc("ANNO")

	infoFourCC = fc("INFO")
	inamFourCC = fc("INAM")
	iartFourCC = fc("IART")
	iprdFourCC = fc("IPRD")
)

// isContainer reports whether f introduces a nested chunk list, per
// ChunkDemuxer.h's Chunk::isContainer.
func (f fourcc) isContainer() bool {
	return f == formFourCC || f == riffFourCC || f == listFourCC
}

// isPrintable reports whether every byte of f is a plausible ASCII
// fourcc character, used by the corrupted-header recovery scan.
func (f fourcc) isPrintable() bool {
	for _, b := range f {
		if b < 0x20 || b > 0x7e {
			return false
		}
	}
	return true
}

func (f fourcc) String() string { return string(f[:]) }

// WAVE format tags (ChunkDemuxer.h's WAVE_FORMAT_* constants).
const (
	waveFormatPCM        uint16 = 0x0001
	waveFormatIEEEFloat  uint16 = 0x0003
	waveFormatALaw       uint16 = 0x0006
	waveFormatMULaw      uint16 = 0x0007
	waveFormatMPEGLayer3 uint16 = 0x0055
	waveFormatExtensible uint16 = 0xFFFE
)

// AIFF/AIFF-C compression type fourccs.
var (
	aiffNone = fc("NONE")
	aiffSowt = fc("sowt")
	aiffFl32 = fc("fl32")
	aiffFl64 = fc("fl64")
	aiffAlaw = fc("alaw")
	aiffUlaw = fc("ulaw")
)
