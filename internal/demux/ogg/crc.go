// Package ogg implements the page-oriented Ogg container (RFC 3533)
// with per-codec logical-stream header parsing for Vorbis, Opus, and
// Ogg-FLAC, grounded on the common capture-pattern-scan +
// segment-table packet join shared by
// _examples/other_examples/736d8ee9_SaurusXI-ogg__decode.go.go,
// _examples/other_examples/1ab10561_simonhull-audiometa__internal-ogg-container.go.go,
// _examples/other_examples/691b1f53_llehouerou-waves__internal-player-oggreader.go.go,
// and _examples/other_examples/2cf59610_pion-webrtc__pkg-media-oggreader-oggreader.go.go.
package ogg

// crcTable is the standard Ogg CRC-32 table: polynomial 0x04c11db7,
// unreflected, initial value 0, no final XOR — distinct from
// hash/crc32's IEEE and Castagnoli tables, which this package
// deliberately does not use.
var crcTable [256]uint32

const crcPolynomial = uint32(0x04c11db7)

func init() {
	for i := range crcTable {
		r := uint32(i) << 24
		for bit := 0; bit < 8; bit++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ crcPolynomial
			} else {
				r <<= 1
			}
		}
		crcTable[i] = r
	}
}

// crc32Ogg computes the Ogg page checksum over data, which must have
// its four CRC bytes (offset 22..25) zeroed by the caller first.
func crc32Ogg(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = (crc << 8) ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}
