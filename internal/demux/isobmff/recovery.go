package isobmff

import (
	"encoding/binary"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// SkipToNextValidSection is a no-op here: the corrupted-box-header
// recovery (estimatePlausibleSize) is already inline in walkBoxes, so
// the base ReportError dispatch never needs a second-level pass, the
// same rationale as the Ogg demuxer's PageReader-driven resync.
func (d *Demuxer) SkipToNextValidSection() error { return nil }

// ResetInternalState rewinds every track's read cursor to the start,
// used when a caller reparses or seeks through an error path rather
// than via SeekTo directly.
func (d *Demuxer) ResetInternalState() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, tr := range d.tracks {
		tr.cursor = 0
	}
	return nil
}

// EnableFallbackMode reports whether at least one track survived
// parsing well enough to read from.
func (d *Demuxer) EnableFallbackMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tracks) > 0
}

// synthesizeCodecPrivate implements the "inferred codec configuration"
// recovery path: when a track's stsd entry carried no codec-private
// box, fabricate a minimal one from the sample-entry's own sample rate
// and channel count rather than leaving the stream unusable.
func synthesizeCodecPrivate(codecName string, sampleRate uint32, channels uint16) []byte {
	switch codecName {
	case "aac":
		return synthesizeAACConfig(sampleRate, channels)
	case "alac":
		return synthesizeALACCookie(sampleRate, channels)
	default:
		// mu-law/A-law and raw PCM carry no codec-private configuration.
		return nil
	}
}

func synthesizeAACConfig(sampleRate uint32, channels uint16) []byte {
	if sampleRate == 0 {
		sampleRate = 44100
	}
	if channels == 0 {
		channels = 2
	}
	cfg := mpeg4audio.AudioSpecificConfig{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   int(sampleRate),
		ChannelCount: int(channels),
	}
	data, err := cfg.Marshal()
	if err != nil {
		return nil
	}
	return data
}

// synthesizeALACCookie builds a minimal ALACSpecificConfig (the
// 24-byte "magic cookie" QuickTime/ALAC expects in the 'alac' child
// box) from only sample rate and channel count; mediacommon carries no
// ALAC codec type to delegate this to.
func synthesizeALACCookie(sampleRate uint32, channels uint16) []byte {
	if sampleRate == 0 {
		sampleRate = 44100
	}
	if channels == 0 {
		channels = 2
	}
	buf := make([]byte, 24)
	binary.BigEndian.PutUint32(buf[0:4], 4096) // frameLength
	buf[4] = 0                                 // compatibleVersion
	buf[5] = 16                                // bitDepth
	buf[6] = 40                                // pb
	buf[7] = 10                                // mb
	buf[8] = 14                                // kb
	buf[9] = byte(channels)
	binary.BigEndian.PutUint16(buf[10:12], 0) // maxRun
	binary.BigEndian.PutUint32(buf[12:16], 0) // maxFrameBytes
	binary.BigEndian.PutUint32(buf[16:20], 0) // avgBitRate
	binary.BigEndian.PutUint32(buf[20:24], sampleRate)
	return buf
}
