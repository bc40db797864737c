package demux

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/segin/psymp3-demux/internal/iohandler"
	"github.com/segin/psymp3-demux/internal/media"
)

// Factory builds a fresh, unparsed Demuxer bound to src.
type Factory func(src iohandler.ByteSource) Demuxer

// SignatureTerm is one (offset, bytes) match condition within a
// Signature. All terms of a Signature must match for it to win.
type SignatureTerm struct {
	Offset int
	Bytes  []byte
}

// Signature is a magic-byte pattern identifying one format.
type Signature struct {
	FormatID string
	Terms    []SignatureTerm
}

type formatRegistration struct {
	factory    Factory
	name       string
	extensions []string
}

// Registry maps byte signatures and extensions to concrete Demuxer
// factories: a sync.RWMutex-guarded map with Register* and
// IsFormatSupported/IsExtensionSupported accessors, probing candidates
// by signature first and falling back to extension.
type Registry struct {
	mu         sync.RWMutex
	formats    map[string]formatRegistration
	extToFmt   map[string]string
	signatures []Signature
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		formats:  make(map[string]formatRegistration),
		extToFmt: make(map[string]string),
	}
}

// DefaultRegistry is populated by each concrete demuxer package's
// init() function — the Go idiom standing in for
// DemuxerRegistry.h's DemuxerRegistration RAII auto-registration
// helper.
var DefaultRegistry = NewRegistry()

// RegisterDemuxer registers a factory under formatID with a human name
// and the path extensions it claims (without the leading dot).
func (r *Registry) RegisterDemuxer(formatID string, f Factory, name string, extensions []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formats[formatID] = formatRegistration{factory: f, name: name, extensions: extensions}
	for _, ext := range extensions {
		r.extToFmt[strings.ToLower(ext)] = formatID
	}
}

// RegisterSignature adds a magic-byte pattern. First matching
// signature wins; ties are broken by registration order.
func (r *Registry) RegisterSignature(sig Signature) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signatures = append(r.signatures, sig)
}

// maxProbeBytes bounds how many leading bytes Create reads to evaluate
// signatures.
const maxProbeBytes = 64

// Create detects the container format from src's leading bytes and
// returns a constructed, not-yet-parsed Demuxer. It does not consume
// src's position permanently: it seeks back to the original offset
// before returning.
func (r *Registry) Create(src iohandler.ByteSource) (Demuxer, error) {
	return r.create(src, "")
}

// CreateWithHint is like Create but falls back to pathHint's extension
// when no signature matches; when several signatures match, the first
// registered one wins and the hint is not consulted.
func (r *Registry) CreateWithHint(src iohandler.ByteSource, pathHint string) (Demuxer, error) {
	return r.create(src, pathHint)
}

func (r *Registry) create(src iohandler.ByteSource, pathHint string) (Demuxer, error) {
	start, err := src.Tell()
	if err != nil {
		return nil, media.Wrap(media.KindIO, "tell failed before probe", -1, media.RecoveryNone, err)
	}

	head := make([]byte, maxProbeBytes)
	n, _ := src.Read(head)
	head = head[:n]

	if err := src.Seek(start, iohandler.OriginStart); err != nil {
		return nil, media.Wrap(media.KindIO, "seek failed after probe", start, media.RecoveryNone, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if formatID, ok := r.matchSignatureLocked(head); ok {
		reg := r.formats[formatID]
		return reg.factory(src), nil
	}

	if pathHint != "" {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(pathHint)), ".")
		if formatID, ok := r.extToFmt[ext]; ok {
			reg := r.formats[formatID]
			return reg.factory(src), nil
		}
	}

	// No signature or extension matched: fall back to the generic raw
	// demuxer rather than failing, per spec.md §4.D step (3).
	return NewRaw(src), nil
}

func (r *Registry) matchSignatureLocked(head []byte) (string, bool) {
	for _, sig := range r.signatures {
		if matchSignature(head, sig) {
			return sig.FormatID, true
		}
	}
	return "", false
}

func matchSignature(head []byte, sig Signature) bool {
	for _, term := range sig.Terms {
		end := term.Offset + len(term.Bytes)
		if end > len(head) {
			return false
		}
		for i, b := range term.Bytes {
			if head[term.Offset+i] != b {
				return false
			}
		}
	}
	return len(sig.Terms) > 0
}

// IsFormatSupported reports whether formatID has a registered factory.
func (r *Registry) IsFormatSupported(formatID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.formats[formatID]
	return ok
}

// IsExtensionSupported reports whether ext (without leading dot) maps
// to a registered format.
func (r *Registry) IsExtensionSupported(ext string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.extToFmt[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return ok
}
