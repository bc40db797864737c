package media

// StreamInfo is the immutable-after-parse descriptor of one logical
// stream within a container, including IsValid/IsAudio/IsVideo/
// IsSubtitle convenience predicates.
type StreamInfo struct {
	// StreamID is non-zero and unique within its container.
	StreamID uint32

	// CodecType is one of "audio", "video", "subtitle".
	CodecType string

	// CodecName is free-form lower-case: "pcm", "pcm_alaw", "pcm_mulaw",
	// "mp3", "aac", "alac", "vorbis", "opus", "flac", "ieee_float".
	CodecName string

	// CodecTag is container-specific: the WAV format tag, or the BMFF
	// sample-entry fourcc packed big-endian as a uint32.
	CodecTag uint32

	SampleRate     uint32
	Channels       uint16
	BitsPerSample  uint16
	BitrateBPS     uint32
	DurationSample int64
	DurationMs     int64

	// CodecPrivateData carries codec-specific out-of-band configuration:
	// AAC AudioSpecificConfig, FLAC STREAMINFO, concatenated Vorbis
	// id/comment/setup packets, or the Opus OpusHead body.
	CodecPrivateData []byte

	Title  string
	Artist string
	Album  string
}

// IsValid reports whether the stream has a usable identity.
func (s StreamInfo) IsValid() bool {
	return s.StreamID != 0 && s.CodecName != ""
}

// IsAudio reports whether this is an audio stream.
func (s StreamInfo) IsAudio() bool { return s.CodecType == "audio" }

// IsVideo reports whether this is a video stream.
func (s StreamInfo) IsVideo() bool { return s.CodecType == "video" }

// IsSubtitle reports whether this is a subtitle stream.
func (s StreamInfo) IsSubtitle() bool { return s.CodecType == "subtitle" }
