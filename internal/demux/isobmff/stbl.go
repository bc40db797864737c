package isobmff

import (
	"github.com/segin/psymp3-demux/internal/demux"
	"github.com/segin/psymp3-demux/internal/iohandler"
	"github.com/segin/psymp3-demux/internal/media"
)

// sttsEntry is one (sample_count, sample_delta) run of the
// time-to-sample table.
type sttsEntry struct {
	count uint32
	delta uint32
}

// stscEntry is one (first_chunk, samples_per_chunk,
// sample_description_index) entry of the sample-to-chunk table.
type stscEntry struct {
	firstChunk      uint32
	samplesPerChunk uint32
	sampleDescIndex uint32
}

// sampleTables carries the five core stbl children plus the optional
// sync-sample table, each still in its raw parsed form — the input to
// reconstructSamples.
type sampleTables struct {
	stts []sttsEntry
	stsc []stscEntry

	// sampleSizes holds a per-sample array when sizes vary; fixedSize
	// is nonzero when every sample shares one size (stsz's "nonzero
	// default" case), in which case sampleSizes is nil but
	// sampleCount still gives the total.
	fixedSize   uint32
	sampleSizes []uint32
	sampleCount uint32

	chunkOffsets []int64

	// syncSamples holds the 1-based sample numbers from stss; nil
	// means "no sync-sample table": every sample is treated as
	// a sync sample in that case.
	syncSamples []uint32
}

// sampleEntry is one reconstructed sample: its absolute file offset,
// size, decode time (in the track's timescale), duration, and whether
// it is a sync (key) sample. Fields are exported so the type satisfies
// encoding/json, the wire format diskslice.DiskSlice uses when a
// track's sample index spills to disk.
type sampleEntry struct {
	Offset     int64
	Size       uint32
	DecodeTime int64
	Duration   uint32
	IsSync     bool
}

func readFullBoxVersionFlags(r *demux.Reader) (byte, uint32, error) {
	v, err := r.ReadU8()
	if err != nil {
		return 0, 0, err
	}
	f1, err := r.ReadU8()
	if err != nil {
		return 0, 0, err
	}
	f2, err := r.ReadU8()
	if err != nil {
		return 0, 0, err
	}
	f3, err := r.ReadU8()
	if err != nil {
		return 0, 0, err
	}
	return v, uint32(f1)<<16 | uint32(f2)<<8 | uint32(f3), nil
}

func parseSTTS(r *demux.Reader, b box) ([]sttsEntry, error) {
	if err := r.Src.Seek(b.PayloadOffset, iohandler.OriginStart); err != nil {
		return nil, media.Wrap(media.KindIO, "seek into stts failed", b.PayloadOffset, media.RecoveryNone, err)
	}
	if _, _, err := readFullBoxVersionFlags(r); err != nil {
		return nil, media.Wrap(media.KindFormat, "stts header read failed", b.PayloadOffset, media.RecoverySkipSection, err)
	}
	count, err := r.ReadU32BE()
	if err != nil {
		return nil, media.Wrap(media.KindFormat, "stts entry count read failed", b.PayloadOffset+4, media.RecoverySkipSection, err)
	}
	entries := make([]sttsEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		c, err := r.ReadU32BE()
		if err != nil {
			break
		}
		d, err := r.ReadU32BE()
		if err != nil {
			break
		}
		entries = append(entries, sttsEntry{count: c, delta: d})
	}
	return patchNonMonotonicSTTS(entries), nil
}

// patchNonMonotonicSTTS handles a non-monotonic stts
// recovery: a zero sample_delta after the first entry is patched to
// the previous entry's delta, keeping decode time strictly
// non-decreasing without discarding the run.
func patchNonMonotonicSTTS(entries []sttsEntry) []sttsEntry {
	for i := 1; i < len(entries); i++ {
		if entries[i].delta == 0 && entries[i-1].delta != 0 {
			entries[i].delta = entries[i-1].delta
		}
	}
	return entries
}

func parseSTSC(r *demux.Reader, b box) ([]stscEntry, error) {
	if err := r.Src.Seek(b.PayloadOffset, iohandler.OriginStart); err != nil {
		return nil, media.Wrap(media.KindIO, "seek into stsc failed", b.PayloadOffset, media.RecoveryNone, err)
	}
	if _, _, err := readFullBoxVersionFlags(r); err != nil {
		return nil, media.Wrap(media.KindFormat, "stsc header read failed", b.PayloadOffset, media.RecoverySkipSection, err)
	}
	count, err := r.ReadU32BE()
	if err != nil {
		return nil, media.Wrap(media.KindFormat, "stsc entry count read failed", b.PayloadOffset+4, media.RecoverySkipSection, err)
	}
	entries := make([]stscEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		first, err := r.ReadU32BE()
		if err != nil {
			break
		}
		per, err := r.ReadU32BE()
		if err != nil {
			break
		}
		idx, err := r.ReadU32BE()
		if err != nil {
			break
		}
		entries = append(entries, stscEntry{firstChunk: first, samplesPerChunk: per, sampleDescIndex: idx})
	}
	return entries, nil
}

func parseSTSZ(r *demux.Reader, b box, isStz2 bool) (fixedSize uint32, sizes []uint32, count uint32, err error) {
	if err := r.Src.Seek(b.PayloadOffset, iohandler.OriginStart); err != nil {
		return 0, nil, 0, media.Wrap(media.KindIO, "seek into stsz failed", b.PayloadOffset, media.RecoveryNone, err)
	}
	if _, _, err := readFullBoxVersionFlags(r); err != nil {
		return 0, nil, 0, media.Wrap(media.KindFormat, "stsz header read failed", b.PayloadOffset, media.RecoverySkipSection, err)
	}

	var fieldSize byte = 32
	if isStz2 {
		if _, err := r.ReadU8(); err != nil {
			return 0, nil, 0, err
		}
		if _, err := r.ReadU8(); err != nil {
			return 0, nil, 0, err
		}
		fs, err := r.ReadU8()
		if err != nil {
			return 0, nil, 0, err
		}
		fieldSize = fs
	} else {
		fs, err := r.ReadU32BE()
		if err != nil {
			return 0, nil, 0, err
		}
		fixedSize = fs
	}

	n, err := r.ReadU32BE()
	if err != nil {
		return 0, nil, 0, media.Wrap(media.KindFormat, "stsz sample count read failed", b.PayloadOffset, media.RecoverySkipSection, err)
	}
	count = n

	if fixedSize != 0 {
		return fixedSize, nil, count, nil
	}

	sizes = make([]uint32, 0, count)
	switch fieldSize {
	case 32:
		for i := uint32(0); i < n; i++ {
			v, err := r.ReadU32BE()
			if err != nil {
				break
			}
			sizes = append(sizes, v)
		}
	case 16:
		for i := uint32(0); i < n; i++ {
			v, err := r.ReadU16BE()
			if err != nil {
				break
			}
			sizes = append(sizes, uint32(v))
		}
	case 8, 4:
		// Packed nibble/byte sizes: read as bytes and, for 4-bit
		// fields, split high/low nibbles.
		for i := uint32(0); i < n; {
			v, err := r.ReadU8()
			if err != nil {
				break
			}
			if fieldSize == 8 {
				sizes = append(sizes, uint32(v))
				i++
			} else {
				sizes = append(sizes, uint32(v>>4))
				i++
				if i < n {
					sizes = append(sizes, uint32(v&0x0f))
					i++
				}
			}
		}
	}
	return 0, sizes, count, nil
}

func parseChunkOffsets(r *demux.Reader, b box, is64 bool) ([]int64, error) {
	if err := r.Src.Seek(b.PayloadOffset, iohandler.OriginStart); err != nil {
		return nil, media.Wrap(media.KindIO, "seek into chunk offset table failed", b.PayloadOffset, media.RecoveryNone, err)
	}
	if _, _, err := readFullBoxVersionFlags(r); err != nil {
		return nil, media.Wrap(media.KindFormat, "chunk offset header read failed", b.PayloadOffset, media.RecoverySkipSection, err)
	}
	count, err := r.ReadU32BE()
	if err != nil {
		return nil, media.Wrap(media.KindFormat, "chunk offset count read failed", b.PayloadOffset+4, media.RecoverySkipSection, err)
	}
	offsets := make([]int64, 0, count)
	for i := uint32(0); i < count; i++ {
		if is64 {
			v, err := r.ReadU64BE()
			if err != nil {
				break
			}
			offsets = append(offsets, int64(v))
		} else {
			v, err := r.ReadU32BE()
			if err != nil {
				break
			}
			offsets = append(offsets, int64(v))
		}
	}
	return patchInvalidChunkOffsets(offsets), nil
}

// patchInvalidChunkOffsets handles an invalid-chunk-offset
// recovery: a non-increasing offset is replaced by the previous valid
// offset plus the running average chunk stride; with no valid baseline
// yet, the offending entry is dropped rather than guessed at.
func patchInvalidChunkOffsets(offsets []int64) []int64 {
	if len(offsets) < 2 {
		return offsets
	}
	out := make([]int64, 0, len(offsets))
	var sumStride int64
	var strideCount int64
	for i, off := range offsets {
		if i == 0 {
			out = append(out, off)
			continue
		}
		prev := out[len(out)-1]
		if off <= prev {
			if strideCount == 0 {
				continue
			}
			avg := sumStride / strideCount
			out = append(out, prev+avg)
			continue
		}
		sumStride += off - prev
		strideCount++
		out = append(out, off)
	}
	return out
}

func parseSTSS(r *demux.Reader, b box) ([]uint32, error) {
	if err := r.Src.Seek(b.PayloadOffset, iohandler.OriginStart); err != nil {
		return nil, media.Wrap(media.KindIO, "seek into stss failed", b.PayloadOffset, media.RecoveryNone, err)
	}
	if _, _, err := readFullBoxVersionFlags(r); err != nil {
		return nil, err
	}
	count, err := r.ReadU32BE()
	if err != nil {
		return nil, err
	}
	nums := make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		v, err := r.ReadU32BE()
		if err != nil {
			break
		}
		nums = append(nums, v)
	}
	return nums, nil
}

// synthesiseMissingTables handles "missing sample
// tables" recovery when stbl lacks one or more of stts/stsc/stsz/stco:
// a fixed 1024-byte sample size, one sample-per-chunk derived from the
// chunk count, and a common 1024-sample audio frame length.
func synthesiseMissingTables(t *sampleTables, mdatOffset, mdatSize int64) {
	const syntheticFrameLen = 1024
	const syntheticSampleSize = 1024

	if len(t.chunkOffsets) == 0 {
		t.chunkOffsets = []int64{mdatOffset}
	}
	if t.fixedSize == 0 && len(t.sampleSizes) == 0 {
		t.fixedSize = syntheticSampleSize
		if t.fixedSize > 0 {
			t.sampleCount = uint32(mdatSize / int64(t.fixedSize))
		}
	}
	if len(t.stsc) == 0 {
		t.stsc = []stscEntry{{firstChunk: 1, samplesPerChunk: t.sampleCount / uint32(len(t.chunkOffsets)), sampleDescIndex: 1}}
		if t.stsc[0].samplesPerChunk == 0 {
			t.stsc[0].samplesPerChunk = 1
		}
	}
	if len(t.stts) == 0 {
		t.stts = []sttsEntry{{count: t.sampleCount, delta: syntheticFrameLen}}
	}
}

// reconstructSamples implements the five-step sample reconstruction algorithm:
// walk stsc to learn each chunk's sample count and sample-description
// index, derive per-sample offsets within each chunk from the running
// size (stsz/stz2), and assign decode times from the stts runs. ctts
// composition offsets are intentionally not applied: they only matter
// for video B-frame reordering, out of scope for the audio-oriented
// demultiplexer described here.
func reconstructSamples(t sampleTables) []sampleEntry {
	totalSamples := t.sampleCount
	if totalSamples == 0 {
		if len(t.sampleSizes) > 0 {
			totalSamples = uint32(len(t.sampleSizes))
		}
	}
	samples := make([]sampleEntry, 0, totalSamples)

	sizeAt := func(i uint32) uint32 {
		if t.fixedSize != 0 {
			return t.fixedSize
		}
		if int(i) < len(t.sampleSizes) {
			return t.sampleSizes[i]
		}
		return 0
	}

	// Expand stts runs into a flat decode-time cursor function.
	var sttsRunIdx int
	var sttsRemaining uint32
	var decodeTime int64
	nextDecodeTime := func() (int64, uint32) {
		for sttsRemaining == 0 && sttsRunIdx < len(t.stts) {
			sttsRemaining = t.stts[sttsRunIdx].count
			sttsRunIdx++
		}
		if sttsRemaining == 0 {
			return decodeTime, 0
		}
		delta := t.stts[sttsRunIdx-1].delta
		dt := decodeTime
		decodeTime += int64(delta)
		sttsRemaining--
		return dt, delta
	}

	syncSet := make(map[uint32]bool, len(t.syncSamples))
	for _, n := range t.syncSamples {
		syncSet[n] = true
	}
	hasSyncTable := len(t.syncSamples) > 0

	sampleIdx := uint32(0)
	for entryIdx, entry := range t.stsc {
		chunkEnd := uint32(len(t.chunkOffsets)) + 1
		if entryIdx+1 < len(t.stsc) {
			chunkEnd = t.stsc[entryIdx+1].firstChunk
		}
		for chunkNum := entry.firstChunk; chunkNum < chunkEnd; chunkNum++ {
			if int(chunkNum-1) >= len(t.chunkOffsets) {
				break
			}
			chunkOffset := t.chunkOffsets[chunkNum-1]
			runningOffset := chunkOffset
			for s := uint32(0); s < entry.samplesPerChunk; s++ {
				if sampleIdx >= totalSamples {
					break
				}
				size := sizeAt(sampleIdx)
				dt, duration := nextDecodeTime()
				isSync := !hasSyncTable || syncSet[sampleIdx+1]
				samples = append(samples, sampleEntry{
					Offset:     runningOffset,
					Size:       size,
					DecodeTime: dt,
					Duration:   duration,
					IsSync:     isSync,
				})
				runningOffset += int64(size)
				sampleIdx++
			}
		}
	}
	return samples
}
