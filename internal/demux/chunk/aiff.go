package chunk

// parseAiffCommon handles the AIFF/AIFF-C "COMM" chunk: channel count,
// sample frame count, bits per sample, and an 80-bit IEEE-754 extended
// precision sample rate, with an optional AIFF-C compression fourcc.
func (d *Demuxer) parseAiffCommon(h header) {
	channels, err := d.r.ReadU16BE()
	if err != nil {
		return
	}
	numFrames, err := d.r.ReadU32BE()
	if err != nil {
		return
	}
	bitsPerSample, err := d.r.ReadU16BE()
	if err != nil {
		return
	}
	var rateBytes [10]byte
	if err := d.r.ReadFull(rateBytes[:]); err != nil {
		return
	}
	sampleRate := ieee80ToDouble(rateBytes)

	d.stream.channels = channels
	d.stream.bitsPerSample = bitsPerSample
	d.stream.sampleRate = uint32(sampleRate)
	d.stream.totalSamples = numFrames
	d.stream.hasFact = true
	d.stream.compression = aiffNone
	d.haveStream = true

	const fixedCOMMSize = 18
	if int64(h.Size) > fixedCOMMSize {
		compBytes, err := d.r.ReadFourCC()
		if err == nil {
			d.stream.compression = fourcc(compBytes)
		}
	}

	bytesPerFrame := uint32(channels) * uint32(bitsPerSample) / 8
	d.stream.bytesPerFrame = bytesPerFrame
	d.stream.avgBytesPerSec = bytesPerFrame * d.stream.sampleRate
	d.stream.blockAlign = uint16(bytesPerFrame)
}

// parseAiffSoundData handles "SSND": a fixed 8-byte offset/blockSize
// header followed by the raw sample payload.
func (d *Demuxer) parseAiffSoundData(h header) {
	offset, err := d.r.ReadU32BE()
	if err != nil {
		return
	}
	blockSize, err := d.r.ReadU32BE()
	if err != nil {
		return
	}
	d.stream.ssndOffset = offset
	d.stream.ssndBlockSize = blockSize
	dataOffset := h.DataOffset + 8 + int64(offset)
	declaredSize := int64(h.Size) - 8 - int64(offset)
	d.stream.dataOffset = dataOffset
	d.stream.dataSize = d.clampToFormEnd(dataOffset, declaredSize)
	d.stream.currentOffset = dataOffset
	d.haveStream = true
}

// ieee80ToDouble converts an 80-bit IEEE-754 extended precision value
// (big-endian, as used by AIFF's COMM sampleRate field) to a float64.
func ieee80ToDouble(b [10]byte) float64 {
	sign := 1.0
	if b[0]&0x80 != 0 {
		sign = -1.0
	}
	exponent := int(b[0]&0x7f)<<8 | int(b[1])
	var mantissa uint64
	for i := 2; i < 10; i++ {
		mantissa = mantissa<<8 | uint64(b[i])
	}
	if exponent == 0 && mantissa == 0 {
		return 0
	}
	// Exponent bias for 80-bit extended is 16383; the mantissa's
	// explicit integer bit (bit 63) is included verbatim.
	f := float64(mantissa) * pow2(float64(exponent-16383-63))
	return sign * f
}

func pow2(exp float64) float64 {
	result := 1.0
	neg := exp < 0
	if neg {
		exp = -exp
	}
	for exp >= 32 {
		result *= 4294967296.0
		exp -= 32
	}
	for exp >= 1 {
		result *= 2
		exp--
	}
	if neg {
		return 1 / result
	}
	return result
}

// aiffCompressionToCodecName maps an AIFF-C compression fourcc to a
// codec name; plain AIFF (no compression chunk) is always PCM.
func aiffCompressionToCodecName(comp fourcc, bitsPerSample uint16) string {
	switch comp {
	case aiffNone, fourcc{}:
		if bitsPerSample == 8 {
			return "pcm_u8"
		}
		return "pcm_s16be"
	case aiffSowt:
		return "pcm_s16le"
	case aiffFl32:
		return "pcm_f32be"
	case aiffFl64:
		return "pcm_f64be"
	case aiffAlaw:
		return "pcm_alaw"
	case aiffUlaw:
		return "pcm_mulaw"
	default:
		return "unknown"
	}
}
