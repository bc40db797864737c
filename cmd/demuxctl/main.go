// Package main is the entry point for demuxctl.
package main

import (
	"os"

	"github.com/segin/psymp3-demux/cmd/demuxctl/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
