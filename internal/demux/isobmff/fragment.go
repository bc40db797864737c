package isobmff

import (
	"github.com/segin/psymp3-demux/internal/demux"
	"github.com/segin/psymp3-demux/internal/iohandler"
	"github.com/segin/psymp3-demux/internal/media"
)

// tfhd flag bits (ISO/IEC 14496-12 §8.8.7).
const (
	tfhdBaseDataOffsetPresent         = 0x000001
	tfhdSampleDescriptionIndexPresent = 0x000002
	tfhdDefaultSampleDurationPresent  = 0x000008
	tfhdDefaultSampleSizePresent      = 0x000010
	tfhdDefaultSampleFlagsPresent     = 0x000020
	tfhdDurationIsEmpty               = 0x010000
)

// trun flag bits.
const (
	trunDataOffsetPresent              = 0x000001
	trunFirstSampleFlagsPresent        = 0x000004
	trunSampleDurationPresent          = 0x000100
	trunSampleSizePresent              = 0x000200
	trunSampleFlagsPresent             = 0x000400
	trunSampleCompositionOffsetPresent = 0x000800
)

// sampleFlagsNonSync is the "sample_is_difference_sample" bit within
// the packed sample_flags field used by tfhd/trun (and
// first_sample_flags): when set, the sample is NOT a sync sample.
const sampleFlagsNonSync = 1 << 16

// fragmentState tracks cross-fragment bookkeeping:
// gap detection from mfhd.sequence_number, and each track's running
// decode-time cursor for fragments that omit tfdt.
type fragmentState struct {
	lastSequence    uint32
	haveSequence    bool
	gaps            []uint32
	trackDecodeTime map[uint32]int64
}

func newFragmentState() *fragmentState {
	return &fragmentState{trackDecodeTime: make(map[uint32]int64)}
}

// observeSequence records mfhd.sequence_number and, when a sequence
// gap is detected, appends the missing numbers to gaps
// ("gaps are recorded").
func (fs *fragmentState) observeSequence(seq uint32) {
	if fs.haveSequence && seq > fs.lastSequence+1 {
		for missing := fs.lastSequence + 1; missing < seq; missing++ {
			fs.gaps = append(fs.gaps, missing)
		}
	}
	fs.lastSequence = seq
	fs.haveSequence = true
}

// parseMoofFragment reads one moof box and appends the samples it
// describes to the matching track's sample index, per the
// fragment-table algorithm: base = tfhd.base_data_offset (if present)
// else the moof's own offset, plus trun.data_offset if present, then
// running per-sample sizes; decode times come from tfdt as the
// fragment base, falling back to the previous fragment's end decode
// time.
func parseMoofFragment(r *demux.Reader, moof box, fi *fileInfo, tracks map[uint32]*parsedTrack, fs *fragmentState) error {
	return walkBoxes(r, moof.PayloadOffset, moof.End(), func(b box) (bool, error) {
		switch b.Type {
		case mfhdBox:
			seq, err := parseMfhd(r, b)
			if err != nil {
				return false, err
			}
			fs.observeSequence(seq)
		case trafBox:
			if err := parseTraf(r, b, moof, fi, tracks, fs); err != nil {
				return false, err
			}
		}
		return true, nil
	})
}

func parseMfhd(r *demux.Reader, b box) (uint32, error) {
	if err := r.Src.Seek(b.PayloadOffset, iohandler.OriginStart); err != nil {
		return 0, err
	}
	if _, _, err := readFullBoxVersionFlags(r); err != nil {
		return 0, err
	}
	return r.ReadU32BE()
}

type tfhdInfo struct {
	trackID                uint32
	baseDataOffset         int64
	haveBaseDataOffset     bool
	defaultSampleDuration  uint32
	defaultSampleSize      uint32
	defaultSampleFlags     uint32
	durationIsEmpty        bool
}

func parseTfhd(r *demux.Reader, b box) (tfhdInfo, error) {
	var info tfhdInfo
	if err := r.Src.Seek(b.PayloadOffset, iohandler.OriginStart); err != nil {
		return info, err
	}
	_, flags, err := readFullBoxVersionFlags(r)
	if err != nil {
		return info, err
	}
	id, err := r.ReadU32BE()
	if err != nil {
		return info, err
	}
	info.trackID = id
	info.durationIsEmpty = flags&tfhdDurationIsEmpty != 0

	if flags&tfhdBaseDataOffsetPresent != 0 {
		off, err := r.ReadU64BE()
		if err != nil {
			return info, err
		}
		info.baseDataOffset = int64(off)
		info.haveBaseDataOffset = true
	}
	if flags&tfhdSampleDescriptionIndexPresent != 0 {
		if _, err := r.ReadU32BE(); err != nil {
			return info, err
		}
	}
	if flags&tfhdDefaultSampleDurationPresent != 0 {
		v, err := r.ReadU32BE()
		if err != nil {
			return info, err
		}
		info.defaultSampleDuration = v
	}
	if flags&tfhdDefaultSampleSizePresent != 0 {
		v, err := r.ReadU32BE()
		if err != nil {
			return info, err
		}
		info.defaultSampleSize = v
	}
	if flags&tfhdDefaultSampleFlagsPresent != 0 {
		v, err := r.ReadU32BE()
		if err != nil {
			return info, err
		}
		info.defaultSampleFlags = v
	}
	return info, nil
}

// parseTfdt returns the fragment's base_media_decode_time; whether the
// box was present at all is tracked by the caller.
func parseTfdt(r *demux.Reader, b box) (int64, error) {
	if err := r.Src.Seek(b.PayloadOffset, iohandler.OriginStart); err != nil {
		return 0, err
	}
	version, _, err := readFullBoxVersionFlags(r)
	if err != nil {
		return 0, err
	}
	if version == 1 {
		v, err := r.ReadU64BE()
		if err != nil {
			return 0, err
		}
		return int64(v), nil
	}
	v, err := r.ReadU32BE()
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

func parseTraf(r *demux.Reader, traf box, moof box, fi *fileInfo, tracks map[uint32]*parsedTrack, fs *fragmentState) error {
	var tfhd tfhdInfo
	var haveTfhd bool
	var tfdtTime int64
	var haveTfdt bool
	var trunBoxes []box

	if err := walkBoxes(r, traf.PayloadOffset, traf.End(), func(b box) (bool, error) {
		switch b.Type {
		case tfhdBox:
			info, err := parseTfhd(r, b)
			if err != nil {
				return false, err
			}
			tfhd = info
			haveTfhd = true
		case tfdtBox:
			t, err := parseTfdt(r, b)
			if err != nil {
				return false, err
			}
			tfdtTime = t
			haveTfdt = true
		case trunBox:
			trunBoxes = append(trunBoxes, b)
		}
		return true, nil
	}); err != nil {
		return err
	}
	if !haveTfhd {
		return media.NewErrorAt(media.KindFormat, "traf missing tfhd", traf.Offset, media.RecoverySkipSection)
	}

	pt, ok := tracks[tfhd.trackID]
	if !ok {
		return nil // fragment for a track we don't know about; ignore
	}

	trex := fi.trexDefaults[tfhd.trackID]
	defaultDuration := tfhd.defaultSampleDuration
	if defaultDuration == 0 {
		defaultDuration = trex.defaultSampleDuration
	}
	defaultSize := tfhd.defaultSampleSize
	if defaultSize == 0 {
		defaultSize = trex.defaultSampleSize
	}
	defaultFlags := tfhd.defaultSampleFlags
	if defaultFlags == 0 {
		defaultFlags = trex.defaultSampleFlags
	}

	// When tfdt is absent, fall back to the previous fragment's end
	// decode time for this track, or zero for the first fragment.
	decodeTime, haveDecodeTime := fs.trackDecodeTime[tfhd.trackID]
	if haveTfdt {
		decodeTime = tfdtTime
	} else if !haveDecodeTime {
		decodeTime = 0
	}

	baseOffset := moof.Offset
	if tfhd.haveBaseDataOffset {
		baseOffset = tfhd.baseDataOffset
	}

	for _, trunB := range trunBoxes {
		samples, consumedOffset, newDecodeTime, err := parseTrun(r, trunB, baseOffset, decodeTime, defaultDuration, defaultSize, defaultFlags)
		if err != nil {
			return err
		}
		pt.fragmentSamples = append(pt.fragmentSamples, samples...)
		baseOffset = consumedOffset
		decodeTime = newDecodeTime
	}
	fs.trackDecodeTime[tfhd.trackID] = decodeTime
	return nil
}

// parseTrun reads one trun box's per-sample fields, returning the
// reconstructed samples, the file offset immediately after the last
// sample (for a following trun without its own data_offset), and the
// decode-time cursor advanced by each sample's duration.
func parseTrun(r *demux.Reader, b box, baseOffset int64, decodeTime int64, defaultDuration, defaultSize, defaultFlags uint32) ([]sampleEntry, int64, int64, error) {
	if err := r.Src.Seek(b.PayloadOffset, iohandler.OriginStart); err != nil {
		return nil, baseOffset, decodeTime, err
	}
	_, flags, err := readFullBoxVersionFlags(r)
	if err != nil {
		return nil, baseOffset, decodeTime, err
	}
	count, err := r.ReadU32BE()
	if err != nil {
		return nil, baseOffset, decodeTime, err
	}

	dataOffset := baseOffset
	if flags&trunDataOffsetPresent != 0 {
		off, err := r.ReadU32BE()
		if err != nil {
			return nil, baseOffset, decodeTime, err
		}
		dataOffset = baseOffset + int64(int32(off))
	}

	firstSampleFlags := defaultFlags
	haveFirstSampleFlags := false
	if flags&trunFirstSampleFlagsPresent != 0 {
		v, err := r.ReadU32BE()
		if err != nil {
			return nil, baseOffset, decodeTime, err
		}
		firstSampleFlags = v
		haveFirstSampleFlags = true
	}

	samples := make([]sampleEntry, 0, count)
	runningOffset := dataOffset
	for i := uint32(0); i < count; i++ {
		duration := defaultDuration
		if flags&trunSampleDurationPresent != 0 {
			v, err := r.ReadU32BE()
			if err != nil {
				break
			}
			duration = v
		}
		size := defaultSize
		if flags&trunSampleSizePresent != 0 {
			v, err := r.ReadU32BE()
			if err != nil {
				break
			}
			size = v
		}
		sampleFlags := defaultFlags
		if flags&trunSampleFlagsPresent != 0 {
			v, err := r.ReadU32BE()
			if err != nil {
				break
			}
			sampleFlags = v
		} else if i == 0 && haveFirstSampleFlags {
			sampleFlags = firstSampleFlags
		}
		if flags&trunSampleCompositionOffsetPresent != 0 {
			if _, err := r.ReadU32BE(); err != nil {
				break
			}
		}

		samples = append(samples, sampleEntry{
			Offset:     runningOffset,
			Size:       size,
			DecodeTime: decodeTime,
			Duration:   duration,
			IsSync:     sampleFlags&sampleFlagsNonSync == 0,
		})
		runningOffset += int64(size)
		decodeTime += int64(duration)
	}
	return samples, runningOffset, decodeTime, nil
}
