package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/segin/psymp3-demux/internal/media"
)

var (
	dumpStreamID uint32
	dumpOutPath  string
)

var dumpCmd = &cobra.Command{
	Use:   "dump <path>",
	Short: "Write a single stream's raw chunks to a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runDump,
}

func init() {
	dumpCmd.Flags().Uint32Var(&dumpStreamID, "stream", 0, "stream id to extract (required)")
	dumpCmd.Flags().StringVar(&dumpOutPath, "out", "", "output file for the raw chunk stream (required)")
	_ = dumpCmd.MarkFlagRequired("stream")
	_ = dumpCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
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

	d, _, err := createDemuxer(src, args[0])
	if err != nil {
		return err
	}
	if err := d.ParseContainer(); err != nil {
		return err
	}
	defer d.Close()

	if _, ok := d.StreamInfo(dumpStreamID); !ok {
		return media.NewError(media.KindValidation, fmt.Sprintf("no stream with id %d", dumpStreamID))
	}

	out, err := os.Create(dumpOutPath)
	if err != nil {
		return media.Wrap(media.KindIO, "creating output file", -1, media.RecoveryNone, err)
	}
	defer out.Close()

	var chunks, bytesWritten int64
	for {
		chunk, err := d.ReadChunkFrom(dumpStreamID)
		if err != nil {
			return err
		}
		if chunk.IsEmpty() {
			break
		}
		if _, err := out.Write(chunk.Data); err != nil {
			chunk.Release()
			return media.Wrap(media.KindIO, "writing output file", chunk.FileOffset, media.RecoveryNone, err)
		}
		bytesWritten += int64(chunk.DataSize())
		chunks++
		chunk.Release()
	}

	fmt.Printf("wrote %d chunks, %d bytes, to %s\n", chunks, bytesWritten, dumpOutPath)

	for kind, count := range d.ErrorStats() {
		fmt.Fprintf(os.Stderr, "recovery: %s x%d\n", kind, count)
	}
	return nil
}
