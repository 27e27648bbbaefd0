// Package cli implements the shaper command line: probing a rate limited
// endpoint through the shaping transport and decoding header values by hand.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"shaper/internal/config"
	"shaper/internal/logger"
	"shaper/internal/models"
	"shaper/internal/version"
)

type rootOptions struct {
	configFile string
	verbose    bool
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "shaper",
		Short: "Client-side traffic shaping from RateLimit headers",
		Long: `shaper reads the RateLimit-Policy, RateLimit and Retry-After headers an
upstream returns, tracks the remaining quota per target and partition, and
delays requests so the quota is not exhausted.

  shaper probe URL      send requests through the shaping transport
  shaper inspect        decode header values given on the command line`,
		Version:       version.GetInfo().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file path")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(
		newProbeCommand(opts),
		newInspectCommand(),
		newVersionCommand(),
	)
	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// load reads configuration and builds the logger it describes. Logs go to
// errOut unless the configuration names a file, so they never interleave with
// command output. --verbose only raises the level.
func (o *rootOptions) load(errOut io.Writer) (*models.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, nil, nil, err
	}

	logCfg := cfg.Logging
	if o.verbose {
		logCfg.Level = "debug"
	}

	ver := version.GetInfo()
	if logCfg.Output == "file" {
		log, closer, err := logger.Setup(logCfg, ver)
		if err != nil {
			return nil, nil, nil, err
		}
		return cfg, log, closer, nil
	}

	log, err := logger.New(errOut, logCfg, ver)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, nil, nil
}
