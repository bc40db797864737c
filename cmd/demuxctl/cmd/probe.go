package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/spf13/cobra"

	"github.com/segin/psymp3-demux/internal/config"
	"github.com/segin/psymp3-demux/internal/demux"
	_ "github.com/segin/psymp3-demux/internal/demux/chunk"
	_ "github.com/segin/psymp3-demux/internal/demux/isobmff"
	_ "github.com/segin/psymp3-demux/internal/demux/ogg"
	"github.com/segin/psymp3-demux/internal/iohandler"
	"github.com/segin/psymp3-demux/internal/media"
	"github.com/segin/psymp3-demux/pkg/format"
)

var probeVerify bool

var probeCmd = &cobra.Command{
	Use:   "probe <path>",
	Short: "Detect a container's format and enumerate its streams",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

func init() {
	probeCmd.Flags().BoolVar(&probeVerify, "verify", false, "cross-check an ISO BMFF file's codec list against mediacommon/v2")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	media.Pool = media.NewBufferPool(cfg.Buffer.MemMaxMB.Bytes())

	src, err := openSource(cmd.Context(), args[0], cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	d, formatID, err := createDemuxer(src, args[0])
	if err != nil {
		return err
	}
	if err := d.ParseContainer(); err != nil {
		return err
	}
	defer d.Close()

	fmt.Printf("format: %s\n", formatID)
	if size, known := src.Size(); known {
		fmt.Printf("size: %s\n", format.Bytes(size))
	}
	fmt.Printf("duration: %s ms\n", format.Number(d.DurationMs()))

	for _, s := range d.Streams() {
		fmt.Printf("stream %d: type=%s codec=%s rate=%d channels=%d bits=%d duration_ms=%s samples=%s bitrate_bps=%d\n",
			s.StreamID, s.CodecType, s.CodecName, s.SampleRate, s.Channels, s.BitsPerSample,
			format.Number(s.DurationMs), format.Number(s.DurationSample), s.BitrateBPS)
	}

	for kind, count := range d.ErrorStats() {
		slog.Warn("recovery actions taken", slog.String("kind", kind.String()), slog.Int("count", count))
	}

	for _, cb := range iohandler.DefaultHostPool.CircuitBreakerStatuses() {
		slog.Debug("http circuit breaker", slog.String("host", cb.Name), slog.String("state", cb.State), slog.Int("failures", cb.Failures))
	}

	if probeVerify && formatID == "mp4" {
		verifyAgainstMediaCommon(src, d)
	}
	return nil
}

// createDemuxer probes the registry and also reports which family won,
// since demux.Demuxer itself carries no format-name accessor.
func createDemuxer(src iohandler.ByteSource, path string) (demux.Demuxer, string, error) {
	d, err := demux.DefaultRegistry.CreateWithHint(src, path)
	if err != nil {
		return nil, "", err
	}
	pkgPath := fmt.Sprintf("%T", d)
	switch {
	case strings.Contains(pkgPath, "isobmff"):
		return d, "mp4", nil
	case strings.Contains(pkgPath, "ogg"):
		return d, "ogg", nil
	case strings.Contains(pkgPath, "chunk"):
		return d, "riff", nil
	default:
		return d, "unknown", nil
	}
}

// byteSourceReadSeeker adapts iohandler.ByteSource to io.ReadSeeker for
// handing to mediacommon/v2, which expects the standard library
// interface.
type byteSourceReadSeeker struct {
	src iohandler.ByteSource
}

func (b byteSourceReadSeeker) Read(p []byte) (int, error) { return b.src.Read(p) }

func (b byteSourceReadSeeker) Seek(offset int64, whence int) (int64, error) {
	var origin iohandler.Origin
	switch whence {
	case io.SeekStart:
		origin = iohandler.OriginStart
	case io.SeekCurrent:
		origin = iohandler.OriginCurrent
	case io.SeekEnd:
		origin = iohandler.OriginEnd
	}
	if err := b.src.Seek(offset, origin); err != nil {
		return 0, err
	}
	return b.src.Tell()
}

// verifyAgainstMediaCommon re-parses the moov box via mediacommon/v2's
// own fmp4.Init.Unmarshal and logs a warning if its track count
// disagrees with this module's own box walker. It is a diagnostic
// cross-check only; mediacommon is never used to build the sample
// index this module reports.
func verifyAgainstMediaCommon(src iohandler.ByteSource, d demux.Demuxer) {
	if err := src.Seek(0, iohandler.OriginStart); err != nil {
		slog.Warn("verify: seek failed", slog.String("error", err.Error()))
		return
	}
	data, err := io.ReadAll(byteSourceReadSeeker{src: src})
	if err != nil {
		slog.Warn("verify: read failed", slog.String("error", err.Error()))
		return
	}

	init := &fmp4.Init{}
	if err := init.Unmarshal(bytes.NewReader(data)); err != nil {
		slog.Warn("verify: mediacommon could not parse moov (file may lack fragmentation boxes or use an unsupported codec)",
			slog.String("error", err.Error()))
		return
	}

	ours, theirs := len(d.Streams()), len(init.Tracks)
	if ours != theirs {
		slog.Warn("verify: track count disagreement",
			slog.Int("this_module", ours), slog.Int("mediacommon", theirs))
		return
	}
	slog.Info("verify: track count agrees", slog.Int("tracks", ours))
}

// openSource opens path as a local file or, given an http(s):// URL, a
// range-GET HTTP source honoring the configured timeout.
func openSource(ctx context.Context, path string, cfg *config.Config) (iohandler.ByteSource, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return iohandler.OpenHTTP(ctx, path, iohandler.HTTPSourceOptions{Timeout: cfg.HTTP.TimeoutMs.Duration()})
	}
	return iohandler.OpenFile(path)
}
