package chunk

import (
	"sync"

	"github.com/segin/psymp3-demux/internal/demux"
	"github.com/segin/psymp3-demux/internal/iohandler"
	"github.com/segin/psymp3-demux/internal/media"
)

// maxPlausibleChunkSize bounds how large a single leaf chunk may
// declare itself before the recovery scan treats the header as
// corrupted, mirroring ChunkDemuxer.h's validateChunkHeader.
const maxPlausibleChunkSize = 1 << 32 / 2

// resyncSearchBudget caps how many bytes skipToNextValidSection will
// scan looking for a plausible fourcc before giving up.
const resyncSearchBudget = 1 << 20

// streamData is the Go rendition of ChunkDemuxer.h's AudioStreamData:
// the single audio stream every chunk-tagged container exposes.
type streamData struct {
	streamID      uint32
	dataOffset    int64
	dataSize      int64
	currentOffset int64
	bytesPerFrame uint32

	formatTag      uint16
	channels       uint16
	sampleRate     uint32
	avgBytesPerSec uint32
	blockAlign     uint16
	bitsPerSample  uint16
	compression    fourcc
	extraData      []byte

	ssndOffset    uint32
	ssndBlockSize uint32

	title, artist, album, copyright, comment string

	totalSamples uint32
	hasFact      bool
}

// Demuxer implements demux.Demuxer for RIFF/WAV, IFF, AIFF and AIFF-C.
type Demuxer struct {
	demux.Base

	src       iohandler.ByteSource
	r         *demux.Reader
	bigEndian bool
	formType  fourcc

	mu         sync.Mutex
	stream     streamData
	haveStream bool
	formEnd    int64
	fallback   bool
}

// New constructs an unparsed Demuxer bound to src — the Factory
// installed into demux.DefaultRegistry by init().
func New(src iohandler.ByteSource) demux.Demuxer {
	base := demux.NewBase()
	return &Demuxer{Base: base, src: src, r: demux.NewReader(src)}
}

func init() {
	demux.DefaultRegistry.RegisterDemuxer("riff", New, "RIFF/WAV", []string{"wav", "wave"})
	demux.DefaultRegistry.RegisterDemuxer("aiff", New, "AIFF/AIFF-C", []string{"aiff", "aif", "aifc"})
	demux.DefaultRegistry.RegisterSignature(demux.Signature{
		FormatID: "riff",
		Terms:    []demux.SignatureTerm{{Offset: 0, Bytes: []byte("RIFF")}},
	})
	demux.DefaultRegistry.RegisterSignature(demux.Signature{
		FormatID: "aiff",
		Terms:    []demux.SignatureTerm{{Offset: 0, Bytes: []byte("FORM")}},
	})
}

// ParseContainer reads the top-level FORM/RIFF header, walks leaf
// chunks, and builds the single enumerated audio stream.
func (d *Demuxer) ParseContainer() error {
	if d.IsParsed() {
		return media.NewError(media.KindValidation, "container already parsed")
	}

	topFourCC, err := d.r.ReadFourCC()
	if err != nil {
		return d.fail(media.Wrap(media.KindFormat, "failed to read container header", 0, media.RecoveryNone, err))
	}

	switch fourcc(topFourCC) {
	case riffFourCC:
		d.bigEndian = false
	case formFourCC:
		d.bigEndian = true
	default:
		return d.fail(media.NewErrorAt(media.KindFormat, "not a RIFF or FORM container", 0, media.RecoveryNone))
	}

	var topSize uint32
	if d.bigEndian {
		topSize, err = d.r.ReadU32BE()
	} else {
		topSize, err = d.r.ReadU32LE()
	}
	if err != nil {
		return d.fail(media.Wrap(media.KindFormat, "failed to read container size", 4, media.RecoveryNone, err))
	}
	topDataOffset, err := d.r.Src.Tell()
	if err != nil {
		return d.fail(media.Wrap(media.KindIO, "tell failed", 4, media.RecoveryNone, err))
	}

	formTypeBytes, err := d.r.ReadFourCC()
	if err != nil {
		return d.fail(media.Wrap(media.KindFormat, "failed to read form type", 8, media.RecoveryNone, err))
	}
	d.formType = fourcc(formTypeBytes)
	d.formEnd = topDataOffset + int64(topSize)

	switch d.formType {
	case waveFourCC:
	case aiffFourCC, aifcFourCC:
	default:
		return d.fail(media.NewErrorAt(media.KindUnsupported, "unrecognised form type "+d.formType.String(), 8, media.RecoveryNone))
	}

	d.stream = streamData{streamID: 1}

	for {
		pos, err := d.r.Src.Tell()
		if err != nil {
			return d.fail(media.Wrap(media.KindIO, "tell failed", -1, media.RecoveryNone, err))
		}
		if pos >= d.formEnd {
			break
		}

		if !isPlausibleHeaderAt(d.src) {
			if err := d.SkipToNextValidSection(); err != nil {
				break
			}
			continue
		}

		h, err := readHeader(d.r, d.bigEndian)
		if err != nil {
			break
		}
		if !d.validateHeader(h) {
			recErr := d.ReportError(d, media.NewErrorAt(media.KindFormat, "invalid chunk header "+h.FourCC.String(), h.DataOffset-8, media.RecoverySkipSection))
			if recErr != nil {
				break
			}
			continue
		}

		size := d.clampChunkSize(h)
		if size > 0 {
			d.dispatch(h)
		}

		next := h.DataOffset + int64(size)
		if size%2 == 1 {
			next++
		}
		if err := d.r.Src.Seek(next, iohandler.OriginStart); err != nil {
			break
		}
	}

	if !d.haveStream {
		return d.fail(media.NewError(media.KindFormat, "no audio stream found in container"))
	}

	info := d.buildStreamInfo()
	d.SetStreams([]media.StreamInfo{info})
	if d.stream.bytesPerFrame > 0 && d.stream.sampleRate > 0 {
		totalFrames := d.stream.dataSize / int64(d.stream.bytesPerFrame)
		d.UpdateDuration(totalFrames * 1000 / int64(d.stream.sampleRate))
	}
	d.SetParsed(true)
	return nil
}

func (d *Demuxer) fail(err *media.Error) error {
	d.ReportError(d, err)
	return err
}

// validateHeader mirrors ChunkDemuxer.h's validateChunkHeader.
func (d *Demuxer) validateHeader(h header) bool {
	if !h.FourCC.isPrintable() {
		return false
	}
	if int64(h.Size) < 0 || h.Size > maxPlausibleChunkSize {
		return false
	}
	return true
}

// clampChunkSize handles a chunk size extending past the form payload
// by clamping rather than failing.
func (d *Demuxer) clampChunkSize(h header) uint32 {
	remaining := d.formEnd - h.DataOffset
	if remaining < 0 {
		return 0
	}
	if int64(h.Size) > remaining {
		return uint32(remaining)
	}
	return h.Size
}

// clampToFormEnd bounds a declared size so offset+size never exceeds
// the container's own declared payload end — the same rule
// clampChunkSize applies to leaf-chunk headers, reused here for the
// audio-window fields parseWaveData/parseAiffSoundData set directly
// from the data/SSND chunk's own (possibly lying) size field.
func (d *Demuxer) clampToFormEnd(offset, declaredSize int64) int64 {
	remaining := d.formEnd - offset
	if remaining < 0 {
		return 0
	}
	if declaredSize > remaining {
		return remaining
	}
	return declaredSize
}

func (d *Demuxer) dispatch(h header) {
	switch h.FourCC {
	case fmtFourCC:
		d.parseWaveFormat(h)
	case dataFourCC:
		d.parseWaveData(h)
	case factFourCC:
		d.parseWaveFact(h)
	case listFourCC:
		d.parseList(h)
	case commFourCC:
		d.parseAiffCommon(h)
	case ssndFourCC:
		d.parseAiffSoundData(h)
	case nameFourCC:
		d.stream.title = d.readMetadataString(h)
	case authFourCC:
		d.stream.artist = d.readMetadataString(h)
	case cprFourCC:
		d.stream.copyright = d.readMetadataString(h)
	case annoFourCC:
		d.stream.comment = d.readMetadataString(h)
	}
}

func (d *Demuxer) readMetadataString(h header) string {
	if h.Size == 0 {
		return ""
	}
	buf := make([]byte, h.Size)
	if err := d.r.ReadFull(buf); err != nil {
		return ""
	}
	end := len(buf)
	for end > 0 && (buf[end-1] == 0 || buf[end-1] == ' ') {
		end--
	}
	return string(buf[:end])
}

func (d *Demuxer) codecName() string {
	if d.formType == waveFourCC {
		return formatTagToCodecName(d.stream.formatTag, d.stream.bitsPerSample)
	}
	return aiffCompressionToCodecName(d.stream.compression, d.stream.bitsPerSample)
}

func (d *Demuxer) buildStreamInfo() media.StreamInfo {
	s := d.stream
	codecName := d.codecName()
	info := media.StreamInfo{
		StreamID:         s.streamID,
		CodecType:        "audio",
		CodecName:        codecName,
		CodecTag:         uint32(s.formatTag),
		SampleRate:       s.sampleRate,
		Channels:         s.channels,
		BitsPerSample:    s.bitsPerSample,
		BitrateBPS:       s.avgBytesPerSec * 8,
		CodecPrivateData: s.extraData,
		Title:            s.title,
		Artist:           s.artist,
		Album:            s.album,
	}
	if s.hasFact {
		info.DurationSample = int64(s.totalSamples)
	} else if s.bytesPerFrame > 0 {
		info.DurationSample = s.dataSize / int64(s.bytesPerFrame)
	}
	if s.sampleRate > 0 {
		info.DurationMs = info.DurationSample * 1000 / int64(s.sampleRate)
	}
	return info
}

// Streams/StreamInfo/IsEOF/DurationMs/PositionMs/LastError/ErrorStats
// are inherited from demux.Base.

// Granule is not meaningful for chunk-tagged containers.
func (d *Demuxer) Granule(streamID uint32) uint64 { return 0 }

func (d *Demuxer) Close() error {
	return d.src.Close()
}
