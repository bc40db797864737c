package isobmff

import (
	"github.com/segin/psymp3-demux/internal/demux"
	"github.com/segin/psymp3-demux/internal/iohandler"
	"github.com/segin/psymp3-demux/internal/media"
)

// fileInfo is everything parseTopLevel collects about the container
// before per-track sample tables are built: the brand, the movie
// timescale/duration, per-track trex defaults, the mdat window used
// by the missing-table-synthesis recovery path, and whether any moof
// boxes follow (marking this a fragmented MP4).
type fileInfo struct {
	majorBrand       fourcc
	compatibleBrands []fourcc
	movieTimescale   uint32
	movieDuration    uint64

	mdatOffset int64
	mdatSize   int64

	trexDefaults map[uint32]trexEntry

	fragmented  bool
	firstMoof   box
	haveFirstMoof bool
}

type trexEntry struct {
	trackID               uint32
	defaultSampleDuration uint32
	defaultSampleSize     uint32
	defaultSampleFlags    uint32
}

// recognisedBrands lists the major/compatible brands this demuxer
// recognises across MP4/3GPP/HEIC/fragmented profiles.
var recognisedBrands = map[string]bool{
	"isom": true, "iso2": true, "iso4": true, "iso5": true, "iso6": true,
	"mp41": true, "mp42": true, "3gp4": true, "3gp5": true, "3gp6": true,
	"heic": true, "mif1": true, "msnv": true, "M4A ": true, "dash": true,
	"avc1": true, "qt  ": true,
}

func parseFtyp(r *demux.Reader, b box) (fourcc, []fourcc, error) {
	if err := r.Src.Seek(b.PayloadOffset, iohandler.OriginStart); err != nil {
		return fourcc{}, nil, err
	}
	major, err := r.ReadFourCC()
	if err != nil {
		return fourcc{}, nil, err
	}
	if err := r.SkipBytes(4); err != nil { // minor_version
		return fourcc{}, nil, err
	}
	remaining := b.End()
	var compat []fourcc
	for {
		pos, _ := r.Src.Tell()
		if pos+4 > remaining {
			break
		}
		cb, err := r.ReadFourCC()
		if err != nil {
			break
		}
		compat = append(compat, fourcc(cb))
	}
	return fourcc(major), compat, nil
}

func parseMvhd(r *demux.Reader, b box) (timescale uint32, duration uint64, err error) {
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

func parseMvex(r *demux.Reader, mvex box) map[uint32]trexEntry {
	out := make(map[uint32]trexEntry)
	walkBoxes(r, mvex.PayloadOffset, mvex.End(), func(b box) (bool, error) {
		if b.Type != trexBox {
			return true, nil
		}
		if err := r.Src.Seek(b.PayloadOffset, iohandler.OriginStart); err != nil {
			return true, nil
		}
		if _, _, err := readFullBoxVersionFlags(r); err != nil {
			return true, nil
		}
		id, err := r.ReadU32BE()
		if err != nil {
			return true, nil
		}
		_, _ = r.ReadU32BE() // default_sample_description_index
		dur, _ := r.ReadU32BE()
		size, _ := r.ReadU32BE()
		flags, _ := r.ReadU32BE()
		out[id] = trexEntry{trackID: id, defaultSampleDuration: dur, defaultSampleSize: size, defaultSampleFlags: flags}
		return true, nil
	})
	return out
}

// parseTopLevel walks the file's top-level boxes once, collecting
// ftyp/mvhd/mvex state and locating every trak plus the first mdat and
// (for fragmented files) the first moof, without yet building sample
// tables — parseTrak is invoked per-track afterward so trak parsing
// can see the whole file's mdat window for the missing-table recovery
// path.
func parseTopLevel(r *demux.Reader, size int64) (*fileInfo, []box, error) {
	fi := &fileInfo{trexDefaults: make(map[uint32]trexEntry)}
	var traks []box
	var moovFound bool

	err := walkBoxes(r, 0, size, func(b box) (bool, error) {
		switch b.Type {
		case ftypBox:
			major, compat, err := parseFtyp(r, b)
			if err != nil {
				return false, err
			}
			fi.majorBrand = major
			fi.compatibleBrands = compat
		case moovBox:
			moovFound = true
			return true, walkBoxes(r, b.PayloadOffset, b.End(), func(mb box) (bool, error) {
				switch mb.Type {
				case mvhdBox:
					ts, dur, err := parseMvhd(r, mb)
					if err != nil {
						return false, err
					}
					fi.movieTimescale = ts
					fi.movieDuration = dur
				case trakBox:
					traks = append(traks, mb)
				case mvexBox:
					fi.trexDefaults = parseMvex(r, mb)
				}
				return true, nil
			})
		case mdatBox:
			if fi.mdatOffset == 0 {
				fi.mdatOffset = b.PayloadOffset
				fi.mdatSize = b.PayloadSize
			}
		case moofBox:
			fi.fragmented = true
			if !fi.haveFirstMoof {
				fi.firstMoof = b
				fi.haveFirstMoof = true
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if !moovFound {
		return nil, nil, media.NewError(media.KindFormat, "no moov box found")
	}
	return fi, traks, nil
}
