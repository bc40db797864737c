package ogg

import (
	"sync"

	"github.com/segin/psymp3-demux/internal/demux"
	"github.com/segin/psymp3-demux/internal/iohandler"
	"github.com/segin/psymp3-demux/internal/media"
)

func init() {
	demux.DefaultRegistry.RegisterDemuxer("ogg", New, "Ogg", []string{"ogg", "oga", "ogv", "opus"})
	demux.DefaultRegistry.RegisterSignature(demux.Signature{
		FormatID: "ogg",
		Terms:    []demux.SignatureTerm{{Offset: 0, Bytes: []byte(capturePattern)}},
	})
}

// queuedPacket is one reconstructed packet awaiting delivery, kept in
// page-arrival order across logical streams.
type queuedPacket struct {
	id      uint32
	data    []byte
	granule uint64
}

// Demuxer implements demux.Demuxer for Ogg containers carrying Vorbis,
// Opus, and/or Ogg-FLAC logical streams.
type Demuxer struct {
	demux.Base

	src iohandler.ByteSource
	pr  *PageReader

	mu      sync.Mutex
	streams map[uint32]*logicalStream
	order   []uint32
	pending []queuedPacket

	crcDropThreshold int
}

// New constructs an unparsed Demuxer bound to src.
func New(src iohandler.ByteSource) demux.Demuxer {
	return &Demuxer{
		Base:             demux.NewBase(),
		src:              src,
		pr:               NewPageReader(src),
		streams:          make(map[uint32]*logicalStream),
		crcDropThreshold: 8,
	}
}

// streamID maps an Ogg serial number to the uint32 stream id exposed
// via StreamInfo; a zero serial (legal on the wire, but reserved here
// as "no stream") is remapped to a sentinel.
func streamID(serial uint32) uint32 {
	if serial == 0 {
		return 0xFFFFFFFF
	}
	return serial
}

// ParseContainer reads pages until every logical stream declared by a
// BOS page has completed its header packets.
func (d *Demuxer) ParseContainer() error {
	if d.IsParsed() {
		return media.NewError(media.KindValidation, "container already parsed")
	}

	for {
		page, err := d.pr.Next()
		if err != nil {
			if d.haveReadyStream() {
				break
			}
			return d.fail(media.Wrap(media.KindFormat, "no ready logical stream before end of input", -1, media.RecoveryNone, err))
		}

		ls, exists := d.streams[page.Serial]
		if !exists {
			if !page.first() {
				d.fail(media.NewErrorAt(media.KindFormat, "page for unknown serial without BOS flag", page.Offset, media.RecoveryNone))
				continue
			}
			ls = newLogicalStream(page.Serial)
			d.streams[page.Serial] = ls
			d.order = append(d.order, page.Serial)
		}

		pkts, _ := ls.extractPackets(page)
		added := 0
		for _, pk := range pkts {
			if !ls.ready() {
				if err := ls.observeHeaderPacket(pk); err != nil {
					d.fail(media.Wrap(media.KindFormat, "header packet rejected", page.Offset, media.RecoverySkipSection, err))
				}
				continue
			}
			d.pending = append(d.pending, queuedPacket{id: streamID(page.Serial), data: pk})
			added++
		}
		if added > 0 {
			d.pending[len(d.pending)-1].granule = page.Granule
			ls.lastGranule = page.Granule
		}

		if d.allReady() && !page.first() {
			break
		}
	}

	infos := make([]media.StreamInfo, 0, len(d.order))
	for _, serial := range d.order {
		ls := d.streams[serial]
		if !ls.ready() {
			continue
		}
		infos = append(infos, d.buildStreamInfo(ls))
	}
	if len(infos) == 0 {
		return d.fail(media.NewError(media.KindFormat, "no ready logical stream in container"))
	}
	d.SetStreams(infos)
	d.probeDuration()
	d.SetParsed(true)
	return nil
}

func (d *Demuxer) fail(err *media.Error) error {
	d.ReportError(d, err)
	return err
}

func (d *Demuxer) haveReadyStream() bool {
	for _, ls := range d.streams {
		if ls.ready() {
			return true
		}
	}
	return false
}

func (d *Demuxer) allReady() bool {
	if len(d.streams) == 0 {
		return false
	}
	for _, ls := range d.streams {
		if !ls.ready() {
			return false
		}
	}
	return true
}

func (d *Demuxer) buildStreamInfo(ls *logicalStream) media.StreamInfo {
	p := ls.params
	info := media.StreamInfo{
		StreamID:         streamID(ls.serial),
		CodecType:        "audio",
		CodecName:        ls.codec,
		SampleRate:       p.sampleRate,
		Channels:         p.channels,
		BitsPerSample:    p.bitsPerSample,
		CodecPrivateData: ls.codecPrivateData(),
		Title:            ls.title,
		Artist:           ls.artist,
		Album:            ls.album,
	}
	if p.bitrateNom > 0 {
		info.BitrateBPS = uint32(p.bitrateNom)
	}
	if ls.codec == "flac" && p.totalSamples > 0 {
		info.DurationSample = int64(p.totalSamples)
		if p.sampleRate > 0 {
			info.DurationMs = info.DurationSample * 1000 / int64(p.sampleRate)
		}
	}
	return info
}

// Granule returns the stream's most recently observed granule
// position, per the Demuxer interface.
func (d *Demuxer) Granule(id uint32) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, serial := range d.order {
		if streamID(serial) == id {
			return d.streams[serial].lastGranule
		}
	}
	return 0
}

func (d *Demuxer) Close() error {
	return d.src.Close()
}

// SkipToNextValidSection is a no-op for Ogg: resynchronisation is
// already built into PageReader.Next, so the base ReportError dispatch
// never needs a second-level recovery pass here.
func (d *Demuxer) SkipToNextValidSection() error { return nil }

// ResetInternalState clears all logical-stream tracking, used by
// SeekTo when repositioning invalidates in-flight packet assembly.
func (d *Demuxer) ResetInternalState() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ls := range d.streams {
		ls.pending = nil
		ls.pendingIncomplete = false
	}
	d.pending = nil
	return nil
}

func (d *Demuxer) EnableFallbackMode() bool { return d.haveReadyStream() }
