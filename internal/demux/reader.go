package demux

import (
	"io"

	"github.com/segin/psymp3-demux/internal/iohandler"
	"github.com/segin/psymp3-demux/internal/media"
)

// Reader wraps a ByteSource with the little/big-endian integer,
// fourcc, and string helpers every concrete demuxer needs.
type Reader struct {
	Src iohandler.ByteSource
}

// NewReader wraps src.
func NewReader(src iohandler.ByteSource) *Reader {
	return &Reader{Src: src}
}

func (r *Reader) fill(n int) ([]byte, error) {
	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := r.Src.Read(buf[read:])
		if m == 0 && err == nil {
			return nil, media.NewError(media.KindIO, "unexpected eof")
		}
		read += m
		if err != nil {
			return nil, media.Wrap(media.KindIO, "read failed", -1, media.RecoveryNone, err)
		}
		if m == 0 {
			break
		}
	}
	if read < n {
		return nil, media.NewError(media.KindIO, "short read")
	}
	return buf, nil
}

// ReadU8 reads a single byte.
func (r *Reader) ReadU8() (byte, error) {
	b, err := r.fill(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU16LE reads a little-endian uint16.
func (r *Reader) ReadU16LE() (uint16, error) {
	b, err := r.fill(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

// ReadU16BE reads a big-endian uint16.
func (r *Reader) ReadU16BE() (uint16, error) {
	b, err := r.fill(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

// ReadU32LE reads a little-endian uint32.
func (r *Reader) ReadU32LE() (uint32, error) {
	b, err := r.fill(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// ReadU32BE reads a big-endian uint32.
func (r *Reader) ReadU32BE() (uint32, error) {
	b, err := r.fill(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// ReadU64LE reads a little-endian uint64.
func (r *Reader) ReadU64LE() (uint64, error) {
	b, err := r.fill(8)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

// ReadU64BE reads a big-endian uint64.
func (r *Reader) ReadU64BE() (uint64, error) {
	b, err := r.fill(8)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

// ReadFourCC reads four raw bytes, interpreted by the caller per its
// container's endianness discipline.
func (r *Reader) ReadFourCC() ([4]byte, error) {
	b, err := r.fill(4)
	if err != nil {
		return [4]byte{}, err
	}
	return [4]byte{b[0], b[1], b[2], b[3]}, nil
}

// ReadCString reads a NUL-terminated string up to maxLen bytes
// (excluding the terminator); it returns a validation error if no
// terminator is found within the budget.
func (r *Reader) ReadCString(maxLen int) (string, error) {
	buf := make([]byte, 0, 32)
	for i := 0; i < maxLen; i++ {
		b, err := r.ReadU8()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(buf), nil
		}
		buf = append(buf, b)
	}
	return "", media.NewError(media.KindValidation, "string exceeds max length without terminator")
}

// ReadFixedString reads exactly n bytes and returns them as a string,
// trimming trailing NUL padding.
func (r *Reader) ReadFixedString(n int) (string, error) {
	b, err := r.fill(n)
	if err != nil {
		return "", err
	}
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end]), nil
}

// SkipBytes discards n bytes by seeking forward when possible.
func (r *Reader) SkipBytes(n int64) error {
	if n <= 0 {
		return nil
	}
	if err := r.Src.Seek(n, iohandler.OriginCurrent); err != nil {
		return media.Wrap(media.KindIO, "skip failed", -1, media.RecoveryNone, err)
	}
	return nil
}

// AlignTo advances the current position to the next multiple of n
// bytes, used for chunk padding (the RIFF odd-size pad byte).
func (r *Reader) AlignTo(n int64) error {
	pos, err := r.Src.Tell()
	if err != nil {
		return media.Wrap(media.KindIO, "tell failed", -1, media.RecoveryNone, err)
	}
	rem := pos % n
	if rem == 0 {
		return nil
	}
	return r.SkipBytes(n - rem)
}

// ReadFull reads exactly len(p) bytes or returns an error; a thin
// wrapper kept for demuxers that want io.ReadFull semantics directly
// against the ByteSource without going through fill's error wrapping.
func (r *Reader) ReadFull(p []byte) error {
	_, err := io.ReadFull(readerAdapter{r.Src}, p)
	if err != nil {
		return media.Wrap(media.KindIO, "read failed", -1, media.RecoveryNone, err)
	}
	return nil
}

type readerAdapter struct {
	src iohandler.ByteSource
}

func (a readerAdapter) Read(p []byte) (int, error) {
	n, err := a.src.Read(p)
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}
