package ogg

import "github.com/segin/psymp3-demux/internal/media"

// streamInfoSize is FLAC's fixed 34-byte STREAMINFO metadata block
// body length (excluding the 4-byte metadata block header).
const streamInfoSize = 34

// parseFLACIdentification parses the Ogg-FLAC mapping's first packet:
// 0x7F + "FLAC" + major + minor + num-header-packets(u16 BE) +
// "fLaC" + a native STREAMINFO metadata block.
// Sample rate (20 bits), channel count (3 bits, +1), bits per sample
// (5 bits, +1) and total samples (36 bits) are extracted from the
// big-endian bit-packed STREAMINFO fields.
func (s *logicalStream) parseFLACIdentification(data []byte) error {
	// 1(0x7F) + 4("FLAC") + 1(major) + 1(minor) + 2(num headers) +
	// 4("fLaC") + 4(metadata block header) + 34(STREAMINFO) = 51
	const headerLen = 1 + 4 + 1 + 1 + 2 + 4
	if len(data) < headerLen+4+streamInfoSize {
		return media.NewError(media.KindFormat, "ogg-flac identification packet too short")
	}
	pos := 5 // past 0x7F + "FLAC"
	// major, minor versions unused beyond presence
	pos += 2
	pos += 2 // num header packets (u16 BE), unused: we derive readiness from requiredHeaderPackets
	if string(data[pos:pos+4]) != string(flacNative) {
		return media.NewError(media.KindFormat, "ogg-flac packet missing native fLaC signature")
	}
	pos += 4

	// Metadata block header: 1 byte (last-block flag + type), 3 bytes length.
	blockType := data[pos] & 0x7F
	if blockType != 0 {
		return media.NewError(media.KindFormat, "ogg-flac first metadata block is not STREAMINFO")
	}
	pos += 4 // skip header, trust the fixed STREAMINFO length

	streamInfo := data[pos : pos+streamInfoSize]
	s.idHeader = append([]byte(nil), streamInfo...)

	br := newBitReader(streamInfo[10:]) // skip min/max block size + min/max frame size (10 bytes)
	sampleRate := br.read(20)
	channels := br.read(3) + 1
	bitsPerSample := br.read(5) + 1
	totalSamples := br.read64(36)

	s.params = codecParams{
		sampleRate:    sampleRate,
		channels:      uint16(channels),
		bitsPerSample: uint16(bitsPerSample),
		totalSamples:  totalSamples,
	}
	return nil
}

// bitReader reads big-endian bit-packed fields MSB-first, as FLAC's
// STREAMINFO block requires.
type bitReader struct {
	data []byte
	pos  int // bit position from the start of data
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (b *bitReader) read(n int) uint32 {
	return uint32(b.read64(n))
}

func (b *bitReader) read64(n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		byteIdx := b.pos / 8
		bitIdx := 7 - b.pos%8
		var bit uint64
		if byteIdx < len(b.data) {
			bit = uint64((b.data[byteIdx] >> bitIdx) & 1)
		}
		v = v<<1 | bit
		b.pos++
	}
	return v
}
