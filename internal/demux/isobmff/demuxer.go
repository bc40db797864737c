package isobmff

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/segin/psymp3-demux/internal/demux"
	"github.com/segin/psymp3-demux/internal/iohandler"
	"github.com/segin/psymp3-demux/internal/media"
	"github.com/segin/psymp3-demux/pkg/diskslice"
)

func init() {
	demux.DefaultRegistry.RegisterDemuxer("mp4", New, "ISO BMFF/MP4", []string{"mp4", "m4a", "m4v", "m4b", "3gp", "mov"})
	demux.DefaultRegistry.RegisterSignature(demux.Signature{
		FormatID: "mp4",
		Terms:    []demux.SignatureTerm{{Offset: 4, Bytes: []byte("ftyp")}},
	})
}

// trackRuntime is one track's reconstructed sample index plus the
// read cursor ReadChunk/ReadChunkFrom advances. samples is backed by a
// diskslice.DiskSlice so a long file's sample index — potentially
// millions of entries — spills to a temp file instead of staying
// pinned in memory for the demuxer's whole lifetime.
type trackRuntime struct {
	info        media.StreamInfo
	timescale   uint32
	samples     *diskslice.DiskSlice[sampleEntry]
	cursor      int
	lastGranule uint64
}

// sampleIndexSpillThreshold governs when a track's reconstructed
// sample index moves from its DiskSlice's in-memory items to the
// DiskSlice's disk-backed storage. Kept well below diskslice's own
// 500MB default so the spill path exercises on realistically sized
// fixtures, not only multi-gigabyte files.
const sampleIndexSpillThreshold = 2 * 1024 * 1024

func newSampleIndex(trackID uint32, samples []sampleEntry) (*diskslice.DiskSlice[sampleEntry], error) {
	idx, err := diskslice.New[sampleEntry](diskslice.Options{
		MemoryThreshold:   sampleIndexSpillThreshold,
		EstimatedItemSize: 32,
		Name:              fmt.Sprintf("isobmff-track-%d-samples", trackID),
	})
	if err != nil {
		return nil, err
	}
	if err := idx.AppendSlice(samples); err != nil {
		return nil, err
	}
	return idx, nil
}

// Demuxer implements demux.Demuxer for ISO BMFF containers: plain MP4,
// 3GPP, and fragmented MP4 alike.
type Demuxer struct {
	demux.Base

	src iohandler.ByteSource
	r   *demux.Reader

	mu     sync.Mutex
	tracks map[uint32]*trackRuntime
	order  []uint32

	fragmented bool
	fragGaps   []uint32
}

// New constructs an unparsed Demuxer bound to src.
func New(src iohandler.ByteSource) demux.Demuxer {
	return &Demuxer{
		Base:   demux.NewBase(),
		src:    src,
		r:      demux.NewReader(src),
		tracks: make(map[uint32]*trackRuntime),
	}
}

func (d *Demuxer) fail(err *media.Error) error {
	d.ReportError(d, err)
	return err
}

// ParseContainer walks the top-level box sequence, reconstructs each
// track's sample index (from stbl for a progressive file, from
// moof/traf/trun for a fragmented one), and enumerates the resulting
// streams.
func (d *Demuxer) ParseContainer() error {
	if d.IsParsed() {
		return media.NewError(media.KindValidation, "container already parsed")
	}

	size, known := d.src.Size()
	if !known || size <= 0 {
		return d.fail(media.NewErrorAt(media.KindUnsupported, "source size unknown; ISO BMFF parsing requires a seekable, sized source", -1, media.RecoveryNone))
	}

	fi, trakBoxes, err := parseTopLevel(d.r, size)
	if err != nil {
		return d.fail(media.Wrap(media.KindFormat, "top-level box walk failed", 0, media.RecoveryNone, err))
	}

	parsedTracks := make(map[uint32]*parsedTrack, len(trakBoxes))
	for _, tb := range trakBoxes {
		pt, err := parseTrak(d.r, tb, fi.mdatOffset, fi.mdatSize)
		if err != nil {
			d.fail(media.Wrap(media.KindFormat, "trak parse failed", tb.Offset, media.RecoverySkipSection, err))
			continue
		}
		if trex, ok := fi.trexDefaults[pt.id]; ok {
			pt.defaultSampleDuration = trex.defaultSampleDuration
			pt.defaultSampleSize = trex.defaultSampleSize
			pt.defaultSampleFlags = trex.defaultSampleFlags
		}
		parsedTracks[pt.id] = pt
	}

	if fi.fragmented && fi.haveFirstMoof {
		fs := newFragmentState()
		walkErr := walkBoxes(d.r, fi.firstMoof.Offset, size, func(b box) (bool, error) {
			if b.Type != moofBox {
				return true, nil
			}
			if err := parseMoofFragment(d.r, b, fi, parsedTracks, fs); err != nil {
				d.fail(media.Wrap(media.KindFormat, "fragment parse failed", b.Offset, media.RecoverySkipSection, err))
			}
			return true, nil
		})
		if walkErr != nil {
			d.fail(media.Wrap(media.KindFormat, "fragment walk failed", fi.firstMoof.Offset, media.RecoveryNone, walkErr))
		}
		d.fragGaps = fs.gaps
		d.fragmented = true
	}

	ids := make([]uint32, 0, len(parsedTracks))
	for id := range parsedTracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	infos := make([]media.StreamInfo, 0, len(ids))
	for _, id := range ids {
		pt := parsedTracks[id]
		samples := pt.fragmentSamples
		if len(samples) == 0 && !d.fragmented {
			samples = reconstructSamples(pt.tables)
		}
		if len(samples) == 0 {
			continue
		}

		info := buildTrackStreamInfo(pt, samples)
		timescale := pt.mediaTimescale
		if timescale == 0 {
			timescale = 1
		}
		idx, err := newSampleIndex(id, samples)
		if err != nil {
			d.fail(media.Wrap(media.KindIO, "sample index construction failed", -1, media.RecoveryNone, err))
			continue
		}
		d.tracks[id] = &trackRuntime{info: info, timescale: timescale, samples: idx}
		d.order = append(d.order, id)
		infos = append(infos, info)
	}

	if len(infos) == 0 {
		return d.fail(media.NewError(media.KindFormat, "no usable track found in container"))
	}

	d.SetStreams(infos)

	var maxDuration int64
	for _, info := range infos {
		if info.DurationMs > maxDuration {
			maxDuration = info.DurationMs
		}
	}
	d.UpdateDuration(maxDuration)
	d.SetParsed(true)
	return nil
}

// buildTrackStreamInfo derives a media.StreamInfo from a parsed
// track's sample-entry and reconstructed sample index, synthesising
// codec-private configuration when the container didn't carry one.
func buildTrackStreamInfo(pt *parsedTrack, samples []sampleEntry) media.StreamInfo {
	codecType := handlerTypeToCodecType(pt.handlerType)
	if codecType == "" {
		codecType = "data"
	}
	codecName := codecNameFor(pt.sampleEntry.format)

	privateData := pt.sampleEntry.privateData
	if len(privateData) == 0 {
		privateData = synthesizeCodecPrivate(codecName, pt.sampleEntry.sampleRate, pt.sampleEntry.channels)
	}

	timescale := pt.mediaTimescale
	if timescale == 0 {
		timescale = 1
	}

	last := samples[len(samples)-1]
	endTicks := last.DecodeTime + int64(last.Duration)

	var totalBytes int64
	for _, s := range samples {
		totalBytes += int64(s.Size)
	}

	info := media.StreamInfo{
		StreamID:         pt.id,
		CodecType:        codecType,
		CodecName:        codecName,
		CodecTag:         binary.BigEndian.Uint32(pt.sampleEntry.format[:]),
		SampleRate:       pt.sampleEntry.sampleRate,
		Channels:         pt.sampleEntry.channels,
		BitsPerSample:    pt.sampleEntry.bitsPerSample,
		CodecPrivateData: privateData,
		DurationSample:   int64(len(samples)),
	}
	info.DurationMs = endTicks * 1000 / int64(timescale)
	if info.DurationMs > 0 {
		info.BitrateBPS = uint32(totalBytes * 8000 / info.DurationMs)
	}
	return info
}

func (d *Demuxer) decodeMsLocked(tr *trackRuntime) (int64, bool) {
	if tr.cursor >= tr.samples.Len() {
		return 0, false
	}
	s, err := tr.samples.Get(tr.cursor)
	if err != nil {
		return 0, false
	}
	ts := tr.timescale
	if ts == 0 {
		ts = 1
	}
	return s.DecodeTime * 1000 / int64(ts), true
}

// pickNextTrackLocked selects the track whose next sample has the
// smallest decode time, breaking ties by ascending track id.
func (d *Demuxer) pickNextTrackLocked() (uint32, bool) {
	var bestID uint32
	var bestMs int64
	found := false
	for _, id := range d.order {
		tr := d.tracks[id]
		ms, ok := d.decodeMsLocked(tr)
		if !ok {
			continue
		}
		if !found || ms < bestMs {
			bestID, bestMs, found = id, ms, true
		}
	}
	return bestID, found
}

// ReadChunk advances whichever track has the earliest next sample.
func (d *Demuxer) ReadChunk() (*media.MediaChunk, error) {
	d.mu.Lock()
	id, ok := d.pickNextTrackLocked()
	d.mu.Unlock()
	if !ok {
		d.SetEOF(true)
		var emptyID uint32
		if len(d.order) > 0 {
			emptyID = d.order[0]
		}
		return media.NewMediaChunk(media.Pool, emptyID, 0), nil
	}
	return d.ReadChunkFrom(id)
}

// ReadChunkFrom reads the next un-consumed sample from the named
// track's reconstructed sample index.
func (d *Demuxer) ReadChunkFrom(streamID uint32) (*media.MediaChunk, error) {
	if !d.IsParsed() {
		return nil, media.NewError(media.KindValidation, "container not parsed")
	}

	d.mu.Lock()
	tr, ok := d.tracks[streamID]
	if !ok {
		d.mu.Unlock()
		return nil, media.NewError(media.KindValidation, "unknown stream id")
	}
	if tr.cursor >= tr.samples.Len() {
		d.mu.Unlock()
		return media.NewMediaChunk(media.Pool, streamID, 0), nil
	}
	sp, err := tr.samples.Get(tr.cursor)
	if err != nil {
		d.mu.Unlock()
		return nil, d.fail(media.Wrap(media.KindIO, "sample index read failed", -1, media.RecoveryNone, err))
	}
	s := *sp
	tr.cursor++
	ts := tr.timescale
	if ts == 0 {
		ts = 1
	}
	tr.lastGranule = uint64(s.DecodeTime)
	allDone := true
	for _, t := range d.tracks {
		if t.cursor < t.samples.Len() {
			allDone = false
			break
		}
	}
	d.mu.Unlock()

	if err := d.r.Src.Seek(s.Offset, iohandler.OriginStart); err != nil {
		return nil, d.fail(media.Wrap(media.KindIO, "seek to sample failed", s.Offset, media.RecoveryNone, err))
	}
	mc := media.NewMediaChunk(media.Pool, streamID, int(s.Size))
	mc.Data = mc.Data[:s.Size]
	if err := d.r.ReadFull(mc.Data); err != nil {
		mc.Release()
		return nil, d.fail(media.Wrap(media.KindIO, "sample read failed", s.Offset, media.RecoverySkipSection, err))
	}

	ms := s.DecodeTime * 1000 / int64(ts)
	mc.FileOffset = s.Offset
	mc.TimestampSample = int64(tr.cursor - 1)
	mc.TimestampMs = ms
	mc.GranulePosition = uint64(s.DecodeTime)
	mc.IsKeyframe = s.IsSync

	d.UpdateStreamPosition(streamID, ms)
	d.UpdatePosition(ms)
	if allDone {
		d.SetEOF(true)
	}
	return mc, nil
}

// SeekTo retargets every track's read cursor to the sample covering
// target ms: the latest sample at or before it, snapped back to the
// preceding sync sample for non-audio tracks (audio tracks accept any
// sample as a seek target).
func (d *Demuxer) SeekTo(ms int64) error {
	if !d.IsParsed() {
		return media.NewError(media.KindValidation, "container not parsed")
	}
	if ms < 0 {
		ms = 0
	}
	if d.DurationMs() > 0 && ms > d.DurationMs() {
		ms = d.DurationMs()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for id, tr := range d.tracks {
		ts := tr.timescale
		if ts == 0 {
			ts = 1
		}
		target := ms * int64(ts) / 1000
		idx := sort.Search(tr.samples.Len(), func(i int) bool {
			sp, err := tr.samples.Get(i)
			if err != nil {
				return true
			}
			return sp.DecodeTime > target
		})
		if idx > 0 {
			idx--
		}
		if tr.info.CodecType != "audio" {
			for idx > 0 {
				sp, err := tr.samples.Get(idx)
				if err == nil && sp.IsSync {
					break
				}
				idx--
			}
		}
		tr.cursor = idx
		d.UpdateStreamPosition(id, ms)
	}
	d.SetEOF(false)
	d.UpdatePosition(ms)
	return nil
}

// Granule returns the decode time (in the track's own timescale) of
// the most recently read sample from streamID.
func (d *Demuxer) Granule(streamID uint32) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	tr, ok := d.tracks[streamID]
	if !ok {
		return 0
	}
	return tr.lastGranule
}

func (d *Demuxer) Close() error {
	d.mu.Lock()
	for _, tr := range d.tracks {
		tr.samples.Close()
	}
	d.mu.Unlock()
	return d.src.Close()
}
