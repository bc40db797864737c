package ogg

import "github.com/segin/psymp3-demux/internal/media"

// streamState tracks a logical bitstream's progress through its
// mandatory header packets.
type streamState int

const (
	stateAwaitingIdentification streamState = iota
	stateAwaitingComments
	stateAwaitingSetup
	stateReady
)

// requiredHeaderPackets is the header-packet count required before a
// logical stream is exposed via Streams(): Vorbis 3,
// Opus 2, Ogg-FLAC 1 (the native STREAMINFO packet completes it; its
// identification and "header" role are the same packet).
func requiredHeaderPackets(codec string) int {
	switch codec {
	case "vorbis":
		return 3
	case "opus":
		return 2
	case "flac":
		return 1
	default:
		return 0
	}
}

// codecParams holds the per-codec parameters parsed out of header
// packets, unified across Vorbis/Opus/FLAC.
type codecParams struct {
	sampleRate    uint32
	channels      uint16
	bitrateMax    int32
	bitrateNom    int32
	bitrateMin    int32
	preSkip       uint16 // Opus only
	outputGain    int16  // Opus only
	bitsPerSample uint16 // FLAC only
	totalSamples  uint64 // FLAC only
}

// packet is one reconstructed Ogg packet queued for delivery, carrying
// the granule position of the page that completed it.
type packet struct {
	data    []byte
	granule uint64
}

// logicalStream aggregates everything known about one Ogg serial
// number.
type logicalStream struct {
	serial uint32
	codec  string
	state  streamState

	headerPacketsSeen int
	params            codecParams

	idHeader      []byte
	commentHeader []byte
	setupHeader   []byte // Vorbis only; concatenated into CodecPrivateData

	title, artist, album string

	pending           []byte
	pendingIncomplete bool

	queue []packet

	lastGranule uint64
	eos         bool
}

func newLogicalStream(serial uint32) *logicalStream {
	return &logicalStream{serial: serial, state: stateAwaitingIdentification}
}

func (s *logicalStream) ready() bool { return s.state == stateReady }

// extractPackets splits a page's segment table + payload into zero or
// more complete packets, threading partial packets across page
// boundaries via s.pending — the join algorithm common to
// _examples/other_examples/736d8ee9_SaurusXI-ogg__decode.go.go and its
// three siblings surveyed in SPEC_FULL.md §4.F.
func (s *logicalStream) extractPackets(p Page) ([][]byte, error) {
	if p.continued() && !s.pendingIncomplete {
		// A continuation with nothing to continue: drop the
		// orphaned first packet fragment and resynchronise on
		// packet boundaries from this page onward.
		s.pending = nil
	}
	if !p.continued() && s.pendingIncomplete {
		// The stream lost a page; discard the stale partial packet.
		s.pending = nil
		s.pendingIncomplete = false
	}

	var lens []int
	more := false
	for _, l := range p.Segments {
		if more {
			lens[len(lens)-1] += int(l)
		} else {
			lens = append(lens, int(l))
		}
		more = l == maxSegmentLen
	}

	var out [][]byte
	pos := 0
	for i, l := range lens {
		chunk := p.Payload[pos : pos+l]
		pos += l
		isLastOfPage := i == len(lens)-1

		if i == 0 && p.continued() {
			s.pending = append(s.pending, chunk...)
		} else {
			s.pending = append([]byte(nil), chunk...)
		}

		if isLastOfPage && more {
			// Final packet on this page continues onto the next.
			s.pendingIncomplete = true
			continue
		}
		out = append(out, s.pending)
		s.pending = nil
		s.pendingIncomplete = false
	}
	return out, nil
}

// observeHeaderPacket feeds one completed header packet through the
// per-codec identification/comment/setup parsers and advances state.
func (s *logicalStream) observeHeaderPacket(data []byte) error {
	switch s.state {
	case stateAwaitingIdentification:
		codec, err := identifyCodec(data)
		if err != nil {
			return err
		}
		s.codec = codec
		s.idHeader = append([]byte(nil), data...)
		if err := s.parseIdentification(data); err != nil {
			return err
		}
		s.headerPacketsSeen = 1
		if s.headerPacketsSeen >= requiredHeaderPackets(s.codec) {
			s.state = stateReady
		} else {
			s.state = stateAwaitingComments
		}
		return nil

	case stateAwaitingComments:
		s.commentHeader = append([]byte(nil), data...)
		if err := s.parseComments(data); err != nil {
			return err
		}
		s.headerPacketsSeen++
		if s.codec == "vorbis" {
			s.state = stateAwaitingSetup
		} else {
			s.state = stateReady
		}
		return nil

	case stateAwaitingSetup:
		s.setupHeader = append([]byte(nil), data...)
		s.headerPacketsSeen++
		s.state = stateReady
		return nil
	}
	return media.NewError(media.KindValidation, "header packet received after stream ready")
}

// codecPrivateData concatenates the header packet bodies for
// StreamInfo.CodecPrivateData: Vorbis gets id+comment+setup, Opus gets
// the OpusHead body, FLAC gets the STREAMINFO bytes.
func (s *logicalStream) codecPrivateData() []byte {
	switch s.codec {
	case "vorbis":
		out := make([]byte, 0, len(s.idHeader)+len(s.commentHeader)+len(s.setupHeader))
		out = append(out, s.idHeader...)
		out = append(out, s.commentHeader...)
		out = append(out, s.setupHeader...)
		return out
	case "opus":
		return s.idHeader
	case "flac":
		return s.idHeader
	default:
		return nil
	}
}
