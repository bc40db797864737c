package isobmff

import (
	"github.com/segin/psymp3-demux/internal/demux"
	"github.com/segin/psymp3-demux/internal/iohandler"
	"github.com/segin/psymp3-demux/internal/media"
)

// sampleEntryBox is what parseStsd extracts from the first entry of a
// sample-description table: the codec sample-entry fourcc, the basic
// audio parameters carried by the QuickTime/ISO sound sample entry
// header, and whatever codec-private configuration its child boxes
// carry (esds/dOps/dfLa/alac).
type sampleEntryBox struct {
	format        fourcc
	channels      uint16
	bitsPerSample uint16
	sampleRate    uint32
	privateData   []byte
}

// parsedTrack accumulates everything ParseContainer needs from a
// trak's mdia/minf/stbl subtree before stbl.go's reconstructSamples
// turns it into a flat sample index.
type parsedTrack struct {
	id            uint32
	handlerType   fourcc
	mediaTimescale uint32
	mediaDuration  uint64

	sampleEntry sampleEntryBox
	tables      sampleTables

	// defaultSampleDuration/Size/Flags, populated from a matching
	// mvex/trex entry, back-fill tfhd fields the fragment declares as
	// "use the default" (the fragment-table description).
	defaultSampleDuration uint32
	defaultSampleSize     uint32
	defaultSampleFlags    uint32

	// fragmentSamples accumulates samples discovered across moof/traf
	// boxes, in fragment (and therefore decode-time) order, for a
	// fragmented file. Empty for a progressive file, where samples come
	// from tables instead via reconstructSamples.
	fragmentSamples []sampleEntry
}

func handlerTypeToCodecType(h fourcc) string {
	switch h.String() {
	case "soun":
		return "audio"
	case "vide":
		return "video"
	case "subt", "text", "sbtl":
		return "subtitle"
	default:
		return ""
	}
}

// parseTrak walks one trak box and returns the accumulated track
// state. mdatOffset/mdatSize are passed through for the
// missing-sample-table synthesis recovery path.
func parseTrak(r *demux.Reader, trak box, mdatOffset, mdatSize int64) (*parsedTrack, error) {
	pt := &parsedTrack{}
	var stblBoxVal box
	haveStbl := false

	err := walkBoxes(r, trak.PayloadOffset, trak.End(), func(b box) (bool, error) {
		switch b.Type {
		case tkhdBox:
			id, perr := parseTkhd(r, b)
			if perr == nil {
				pt.id = id
			}
		case mdiaBox:
			if perr := parseMdia(r, b, pt); perr != nil {
				return false, perr
			}
			if s, ok := findChildStbl(r, b); ok {
				stblBoxVal = s
				haveStbl = true
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if pt.id == 0 {
		return nil, media.NewError(media.KindFormat, "trak missing tkhd track id")
	}

	if haveStbl {
		if err := parseStbl(r, stblBoxVal, pt); err != nil {
			return nil, err
		}
	} else {
		synthesiseMissingTables(&pt.tables, mdatOffset, mdatSize)
	}

	return pt, nil
}

func parseTkhd(r *demux.Reader, b box) (uint32, error) {
	if err := r.Src.Seek(b.PayloadOffset, iohandler.OriginStart); err != nil {
		return 0, err
	}
	version, _, err := readFullBoxVersionFlags(r)
	if err != nil {
		return 0, err
	}
	if version == 1 {
		if err := r.SkipBytes(8 + 8); err != nil {
			return 0, err
		}
	} else {
		if err := r.SkipBytes(4 + 4); err != nil {
			return 0, err
		}
	}
	id, err := r.ReadU32BE()
	if err != nil {
		return 0, err
	}
	return id, nil
}

// parseMdia walks mdia for mdhd (timescale/duration) and hdlr (track
// kind); the minf/stbl subtree is located separately by
// findChildStbl so parseTrak can hand it to parseStbl once mdia's
// other fields are known.
func parseMdia(r *demux.Reader, mdia box, pt *parsedTrack) error {
	return walkBoxes(r, mdia.PayloadOffset, mdia.End(), func(b box) (bool, error) {
		switch b.Type {
		case mdhdBox:
			ts, dur, err := parseMdhd(r, b)
			if err != nil {
				return false, err
			}
			pt.mediaTimescale = ts
			pt.mediaDuration = dur
		case hdlrBox:
			ht, err := parseHdlr(r, b)
			if err != nil {
				return false, err
			}
			pt.handlerType = ht
		}
		return true, nil
	})
}

func parseMdhd(r *demux.Reader, b box) (timescale uint32, duration uint64, err error) {
	if err := r.Src.Seek(b.PayloadOffset, iohandler.OriginStart); err != nil {
		return 0, 0, err
	}
	version, _, err := readFullBoxVersionFlags(r)
	if err != nil {
		return 0, 0, err
	}
	if version == 1 {
		if err := r.SkipBytes(16); err != nil {
			return 0, 0, err
		}
		ts, err := r.ReadU32BE()
		if err != nil {
			return 0, 0, err
		}
		dur, err := r.ReadU64BE()
		if err != nil {
			return 0, 0, err
		}
		return ts, dur, nil
	}
	if err := r.SkipBytes(8); err != nil {
		return 0, 0, err
	}
	ts, err := r.ReadU32BE()
	if err != nil {
		return 0, 0, err
	}
	dur32, err := r.ReadU32BE()
	if err != nil {
		return 0, 0, err
	}
	return ts, uint64(dur32), nil
}

func parseHdlr(r *demux.Reader, b box) (fourcc, error) {
	if err := r.Src.Seek(b.PayloadOffset, iohandler.OriginStart); err != nil {
		return fourcc{}, err
	}
	if _, _, err := readFullBoxVersionFlags(r); err != nil {
		return fourcc{}, err
	}
	if err := r.SkipBytes(4); err != nil { // pre_defined
		return fourcc{}, err
	}
	ht, err := r.ReadFourCC()
	if err != nil {
		return fourcc{}, err
	}
	return fourcc(ht), nil
}

// findChildStbl locates mdia/minf/stbl without consuming mdhd/hdlr
// state, since walkBoxes's callback signature only reports booleans.
func findChildStbl(r *demux.Reader, mdia box) (box, bool) {
	var found box
	var ok bool
	walkBoxes(r, mdia.PayloadOffset, mdia.End(), func(b box) (bool, error) {
		if b.Type != minfBox {
			return true, nil
		}
		walkBoxes(r, b.PayloadOffset, b.End(), func(b2 box) (bool, error) {
			if b2.Type == stblBox {
				found = b2
				ok = true
				return false, nil
			}
			return true, nil
		})
		return false, nil
	})
	return found, ok
}

func parseStbl(r *demux.Reader, stbl box, pt *parsedTrack) error {
	return walkBoxes(r, stbl.PayloadOffset, stbl.End(), func(b box) (bool, error) {
		var err error
		switch b.Type {
		case stsdBox:
			pt.sampleEntry, err = parseStsd(r, b)
		case sttsBox:
			pt.tables.stts, err = parseSTTS(r, b)
		case stscBox:
			pt.tables.stsc, err = parseSTSC(r, b)
		case stszBox:
			pt.tables.fixedSize, pt.tables.sampleSizes, pt.tables.sampleCount, err = parseSTSZ(r, b, false)
		case stz2Box:
			pt.tables.fixedSize, pt.tables.sampleSizes, pt.tables.sampleCount, err = parseSTSZ(r, b, true)
		case stcoBox:
			pt.tables.chunkOffsets, err = parseChunkOffsets(r, b, false)
		case co64Box:
			pt.tables.chunkOffsets, err = parseChunkOffsets(r, b, true)
		case stssBox:
			pt.tables.syncSamples, err = parseSTSS(r, b)
		}
		if err != nil {
			return false, err
		}
		return true, nil
	})
}

// parseStsd reads the sample-description box's entry count and the
// first entry's sample-entry header (format fourcc, reserved fields,
// data-reference index) plus its audio fields, then dispatches on
// format to extract codec-private configuration from child boxes.
func parseStsd(r *demux.Reader, b box) (sampleEntryBox, error) {
	if err := r.Src.Seek(b.PayloadOffset, iohandler.OriginStart); err != nil {
		return sampleEntryBox{}, err
	}
	if _, _, err := readFullBoxVersionFlags(r); err != nil {
		return sampleEntryBox{}, err
	}
	count, err := r.ReadU32BE()
	if err != nil || count == 0 {
		return sampleEntryBox{}, media.NewErrorAt(media.KindFormat, "stsd has no sample entries", b.PayloadOffset, media.RecoveryFallbackMode)
	}

	entryStart, err := r.Src.Tell()
	if err != nil {
		return sampleEntryBox{}, err
	}
	entryHdr, err := readBoxHeader(r)
	if err != nil {
		return sampleEntryBox{}, err
	}

	se := sampleEntryBox{format: entryHdr.Type}

	// AudioSampleEntry: 6 reserved bytes, data_reference_index(2),
	// 8 reserved bytes (version/revision/vendor in QuickTime layout),
	// channelcount(2), samplesize(2), pre_defined(2), reserved(2),
	// samplerate as 16.16 fixed point(4).
	if err := r.SkipBytes(6 + 2 + 8); err != nil {
		return se, nil
	}
	ch, err := r.ReadU16BE()
	if err == nil {
		se.channels = ch
	}
	bits, err := r.ReadU16BE()
	if err == nil {
		se.bitsPerSample = bits
	}
	if err := r.SkipBytes(4); err != nil {
		return se, nil
	}
	srFixed, err := r.ReadU32BE()
	if err == nil {
		se.sampleRate = srFixed >> 16
	}

	childStart, _ := r.Src.Tell()
	walkBoxes(r, childStart, entryHdr.End(), func(cb box) (bool, error) {
		switch cb.Type {
		case esdsBox:
			se.privateData = extractESDSConfig(r, cb)
		case dOpsBox:
			se.privateData = readBoxPayload(r, cb)
		case dfLaBox:
			se.privateData = readFLACStreamInfoFromDfLa(r, cb)
		case waveBox, fc("alac"):
			se.privateData = extractNestedPrivateData(r, cb)
		}
		return true, nil
	})

	_ = entryStart
	return se, nil
}

func readBoxPayload(r *demux.Reader, b box) []byte {
	if b.PayloadSize <= 0 || b.PayloadSize > 1<<20 {
		return nil
	}
	if err := r.Src.Seek(b.PayloadOffset, iohandler.OriginStart); err != nil {
		return nil
	}
	buf := make([]byte, b.PayloadSize)
	if err := r.ReadFull(buf); err != nil {
		return nil
	}
	return buf
}

// readFLACStreamInfoFromDfLa reads the FLACSpecificBox: a
// version/flags header followed by one or more native FLAC metadata
// blocks. The STREAMINFO block (type 0) is returned verbatim, matching
// what a bare .flac file's STREAMINFO block would carry.
func readFLACStreamInfoFromDfLa(r *demux.Reader, b box) []byte {
	if err := r.Src.Seek(b.PayloadOffset, iohandler.OriginStart); err != nil {
		return nil
	}
	if _, _, err := readFullBoxVersionFlags(r); err != nil {
		return nil
	}
	for {
		hdr, err := r.ReadU8()
		if err != nil {
			return nil
		}
		lenBytes := make([]byte, 3)
		if err := r.ReadFull(lenBytes); err != nil {
			return nil
		}
		blockLen := int(lenBytes[0])<<16 | int(lenBytes[1])<<8 | int(lenBytes[2])
		blockType := hdr & 0x7f
		data := make([]byte, blockLen)
		if err := r.ReadFull(data); err != nil {
			return nil
		}
		if blockType == 0 {
			return data
		}
		if hdr&0x80 != 0 {
			return nil
		}
	}
}

// extractNestedPrivateData handles sample-entry children that
// themselves nest a same- or similarly-named box carrying a codec
// magic cookie (ALAC's 'alac' child, QuickTime's legacy 'wave' atom),
// returning the immediate payload bytes of the first child box found.
func extractNestedPrivateData(r *demux.Reader, b box) []byte {
	var out []byte
	walkBoxes(r, b.PayloadOffset, b.End(), func(cb box) (bool, error) {
		if out == nil {
			out = readBoxPayload(r, cb)
		}
		return out == nil, nil
	})
	if out == nil {
		return readBoxPayload(r, b)
	}
	return out
}

// extractESDSConfig walks the MPEG-4 esds box's descriptor tree
// (ES_Descriptor -> DecoderConfigDescriptor -> DecoderSpecificInfo)
// and returns the DecoderSpecificInfo payload verbatim: for mp4a/AAC
// this is the AudioSpecificConfig expected in
// CodecPrivateData.
func extractESDSConfig(r *demux.Reader, b box) []byte {
	if err := r.Src.Seek(b.PayloadOffset, iohandler.OriginStart); err != nil {
		return nil
	}
	if _, _, err := readFullBoxVersionFlags(r); err != nil {
		return nil
	}
	end := b.End()
	for {
		pos, _ := r.Src.Tell()
		if pos >= end {
			return nil
		}
		tag, err := r.ReadU8()
		if err != nil {
			return nil
		}
		length, err := readDescriptorLength(r)
		if err != nil {
			return nil
		}
		descEnd, _ := r.Src.Tell()
		descEnd += int64(length)

		switch tag {
		case 0x03: // ES_DescrTag
			if err := r.SkipBytes(2 + 1); err != nil { // ES_ID, flags
				return nil
			}
			continue
		case 0x04: // DecoderConfigDescrTag
			if err := r.SkipBytes(1 + 4 + 4 + 4); err != nil { // objType, streamType+bufSizeDB(3 effectively packed as 4), maxBitrate, avgBitrate
				return nil
			}
			continue
		case 0x05: // DecoderSpecificInfoTag
			data := make([]byte, length)
			if err := r.ReadFull(data); err != nil {
				return nil
			}
			return data
		default:
			if err := r.Src.Seek(descEnd, iohandler.OriginStart); err != nil {
				return nil
			}
		}
	}
}

// readDescriptorLength reads an MPEG-4 descriptor's variable-length
// size field: up to four bytes, each contributing 7 bits, MSB set on
// every byte but the last.
func readDescriptorLength(r *demux.Reader) (int, error) {
	var length int
	for i := 0; i < 4; i++ {
		b, err := r.ReadU8()
		if err != nil {
			return 0, err
		}
		length = length<<7 | int(b&0x7f)
		if b&0x80 == 0 {
			break
		}
	}
	return length, nil
}

// codecNameFor maps a sample-entry fourcc to the free-form lower-case
// codec_name tokens expected; ulaw/alaw get their pcm_* name
// directly since they carry no codec-private configuration.
func codecNameFor(format fourcc) string {
	switch format.String() {
	case "mp4a":
		return "aac"
	case "alac":
		return "alac"
	case "Opus", "opus":
		return "opus"
	case "fLaC":
		return "flac"
	case "ulaw":
		return "pcm_mulaw"
	case "alaw":
		return "pcm_alaw"
	case "twos", "sowt", "raw ", "lpcm", "in24", "in32":
		return "pcm"
	default:
		return format.String()
	}
}
