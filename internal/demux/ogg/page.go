package ogg

import (
	"github.com/segin/psymp3-demux/internal/demux"
	"github.com/segin/psymp3-demux/internal/iohandler"
	"github.com/segin/psymp3-demux/internal/media"
)

// Header-type flag bits, per RFC 3533 §6.
const (
	headerContinued = 0x01
	headerFirst     = 0x02
	headerLast      = 0x04
)

const (
	capturePattern = "OggS"
	fixedHeaderLen = 27 // up to and including the segment-count byte
	maxSegmentLen  = 255

	// resyncWindow bounds how many capture-pattern candidates
	// PageReader.Next tries, dropping each one that fails its CRC,
	// before giving up. It counts candidates, not bytes: the scan for
	// each next capture pattern is not itself bounded.
	resyncWindow = 1 << 20
)

// Page is one physical Ogg page.
type Page struct {
	HeaderType byte
	Granule    uint64
	Serial     uint32
	Sequence   uint32
	CRC        uint32
	Segments   []byte
	Payload    []byte
	Offset     int64 // absolute file offset of the capture pattern
}

func (p Page) continued() bool { return p.HeaderType&headerContinued != 0 }
func (p Page) first() bool     { return p.HeaderType&headerFirst != 0 }
func (p Page) last() bool      { return p.HeaderType&headerLast != 0 }

// PageReader scans a ByteSource for successive Ogg pages, grounded on
// the four independent reference decoders' shared shape: scan for the
// capture pattern, read the fixed header, read the segment table, read
// the joined payload, verify the CRC.
type PageReader struct {
	r       *demux.Reader
	crcFail int
}

// NewPageReader wraps src.
func NewPageReader(src iohandler.ByteSource) *PageReader {
	return &PageReader{r: demux.NewReader(src)}
}

// CRCFailures returns the count of pages dropped for a CRC mismatch.
func (pr *PageReader) CRCFailures() int { return pr.crcFail }

// Next reads the next valid page, resynchronising past capture-pattern
// false starts and CRC failures within resyncWindow. It returns a
// media.Error with KindIO when the source is exhausted.
func (pr *PageReader) Next() (Page, error) {
	for attempt := 0; attempt < resyncWindow; attempt++ {
		if err := pr.seekToCapture(); err != nil {
			return Page{}, err
		}

		offset, err := pr.r.Src.Tell()
		if err != nil {
			return Page{}, media.Wrap(media.KindIO, "tell failed", -1, media.RecoveryNone, err)
		}
		offset -= 4 // seekToCapture left us just past "OggS"

		page, ok, err := pr.readPageAt(offset)
		if err != nil {
			return Page{}, err
		}
		if !ok {
			// CRC mismatch: drop the page and resync from the next byte.
			if seekErr := pr.r.Src.Seek(offset+1, iohandler.OriginStart); seekErr != nil {
				return Page{}, media.Wrap(media.KindIO, "seek failed during resync", offset+1, media.RecoveryNone, seekErr)
			}
			continue
		}
		return page, nil
	}
	return Page{}, media.NewError(media.KindFormat, "ogg resync search budget exceeded")
}

// seekToCapture advances the source until the four bytes just read are
// "OggS", leaving the cursor immediately after the pattern.
func (pr *PageReader) seekToCapture() error {
	var window [4]byte
	filled := 0
	for {
		b, err := pr.r.ReadU8()
		if err != nil {
			return err
		}
		if filled < 4 {
			window[filled] = b
			filled++
		} else {
			copy(window[:], window[1:])
			window[3] = b
		}
		if filled == 4 && string(window[:]) == capturePattern {
			return nil
		}
	}
}

// readPageAt reads one page whose capture pattern starts at offset. It
// returns ok=false (and no error) on a CRC mismatch so the caller can
// resync; any I/O or structural failure is returned as an error.
func (pr *PageReader) readPageAt(offset int64) (Page, bool, error) {
	version, err := pr.r.ReadU8()
	if err != nil {
		return Page{}, false, err
	}
	if version != 0 {
		return Page{}, false, media.NewErrorAt(media.KindFormat, "unsupported ogg page version", offset, media.RecoveryNone)
	}
	headerType, err := pr.r.ReadU8()
	if err != nil {
		return Page{}, false, err
	}
	granule, err := pr.r.ReadU64LE()
	if err != nil {
		return Page{}, false, err
	}
	serial, err := pr.r.ReadU32LE()
	if err != nil {
		return Page{}, false, err
	}
	sequence, err := pr.r.ReadU32LE()
	if err != nil {
		return Page{}, false, err
	}
	crc, err := pr.r.ReadU32LE()
	if err != nil {
		return Page{}, false, err
	}
	nsegs, err := pr.r.ReadU8()
	if err != nil {
		return Page{}, false, err
	}
	if nsegs == 0 {
		return Page{}, false, media.NewErrorAt(media.KindFormat, "ogg page with zero segments", offset, media.RecoveryNone)
	}

	segs := make([]byte, nsegs)
	for i := range segs {
		b, err := pr.r.ReadU8()
		if err != nil {
			return Page{}, false, err
		}
		segs[i] = b
	}

	payloadLen := 0
	for _, s := range segs {
		payloadLen += int(s)
	}
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if err := pr.r.ReadFull(payload); err != nil {
			return Page{}, false, err
		}
	}

	// Rebuild the raw page bytes to verify the CRC, with the CRC
	// field itself zeroed as RFC 3533 requires.
	raw := make([]byte, 0, fixedHeaderLen+len(segs)+len(payload))
	raw = append(raw, capturePattern...)
	raw = append(raw, version, headerType)
	raw = appendU64LE(raw, granule)
	raw = appendU32LE(raw, serial)
	raw = appendU32LE(raw, sequence)
	raw = append(raw, 0, 0, 0, 0) // CRC field zeroed for checksum purposes
	raw = append(raw, nsegs)
	raw = append(raw, segs...)
	raw = append(raw, payload...)

	if computed := crc32Ogg(raw); computed != crc {
		pr.crcFail++
		return Page{}, false, nil
	}

	return Page{
		HeaderType: headerType,
		Granule:    granule,
		Serial:     serial,
		Sequence:   sequence,
		CRC:        crc,
		Segments:   segs,
		Payload:    payload,
		Offset:     offset,
	}, true, nil
}

func appendU64LE(b []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		b = append(b, byte(v))
		v >>= 8
	}
	return b
}

func appendU32LE(b []byte, v uint32) []byte {
	for i := 0; i < 4; i++ {
		b = append(b, byte(v))
		v >>= 8
	}
	return b
}
