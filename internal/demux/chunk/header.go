package chunk

import (
	"github.com/segin/psymp3-demux/internal/demux"
	"github.com/segin/psymp3-demux/internal/iohandler"
	"github.com/segin/psymp3-demux/internal/media"
)

// header mirrors ChunkDemuxer.h's Chunk struct: a fourcc, its payload
// size (excluding the 8-byte header), and the absolute file offset of
// the first payload byte.
type header struct {
	FourCC     fourcc
	Size       uint32
	DataOffset int64
}

func (h header) isContainer() bool { return h.FourCC.isContainer() }

// readHeader reads one (fourcc, size) pair using bigEndian for the size
// field's byte order; the fourcc itself is always read as raw bytes in
// file order so isContainer's comparisons are endianness-free.
func readHeader(r *demux.Reader, bigEndian bool) (header, error) {
	fccBytes, err := r.ReadFourCC()
	if err != nil {
		return header{}, err
	}
	var size uint32
	if bigEndian {
		size, err = r.ReadU32BE()
	} else {
		size, err = r.ReadU32LE()
	}
	if err != nil {
		return header{}, err
	}
	offset, err := r.Src.Tell()
	if err != nil {
		return header{}, media.Wrap(media.KindIO, "tell after chunk header failed", -1, media.RecoveryNone, err)
	}
	return header{FourCC: fourcc(fccBytes), Size: size, DataOffset: offset}, nil
}

// isPlausibleHeaderAt peeks the 4-byte fourcc at the current position
// without consuming it, used by the corrupted-header resync scan.
func isPlausibleHeaderAt(src iohandler.ByteSource) bool {
	start, err := src.Tell()
	if err != nil {
		return false
	}
	buf := make([]byte, 4)
	n, _ := src.Read(buf)
	src.Seek(start, iohandler.OriginStart)
	if n < 4 {
		return false
	}
	return fourcc(buf).isPrintable()
}
