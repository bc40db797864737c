// Package cmd implements the CLI commands for demuxctl.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/segin/psymp3-demux/internal/config"
	"github.com/segin/psymp3-demux/internal/media"
	"github.com/segin/psymp3-demux/internal/observability"
	"github.com/segin/psymp3-demux/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "demuxctl",
	Short:   "Probe and extract container-demultiplexed media streams",
	Version: version.Short(),
	Long: `demuxctl inspects and extracts elementary streams from RIFF/IFF/AIFF,
Ogg, and ISO BMFF/MP4 containers without decoding audio or video
samples: it walks container structure, reconstructs each stream's
sample index, and hands back raw chunks plus per-stream metadata.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initLogging()
	},
}

// Execute runs the root command and returns the process exit code:
// 0 on success, 2 (unsupported container/codec), 3 (malformed
// container, recovery exhausted), 4 (I/O failure), or 5 (flag-parsing
// or usage error).
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, "demuxctl:", err)
	return exitCodeFor(err)
}

// exitCodeFor maps a media.ErrorKind onto the CLI's fixed exit-code
// contract; any other error (flag parsing, usage) exits 5.
func exitCodeFor(err error) int {
	var merr *media.Error
	if errors.As(err, &merr) {
		switch merr.Category {
		case media.KindUnsupported:
			return 2
		case media.KindFormat:
			return 3
		case media.KindIO, media.KindTimeout:
			return 4
		default:
			return 3
		}
	}
	return 5
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.demuxctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	mustBindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/demuxctl")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".demuxctl")
	}

	viper.SetEnvPrefix("DEMUX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if level := viper.GetString("log"); level != "" {
		viper.Set("logging.level", level)
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// initLogging builds the slog default logger from the bound config.
func initLogging() error {
	logCfg := config.LoggingConfig{
		Level:      viper.GetString("logging.level"),
		Format:     viper.GetString("logging.format"),
		AddSource:  viper.GetBool("logging.add_source"),
		TimeFormat: viper.GetString("logging.time_format"),
	}
	observability.SetDefault(observability.NewLoggerWithWriter(logCfg, os.Stderr))
	return nil
}

// loadConfig loads the full Config (buffer cap, HTTP timeout, logging)
// for subcommands that need more than the logger.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
