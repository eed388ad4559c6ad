// Command miniuid is the local management agent. It serves the miniui RPC
// object (status, apply_lan, reload_network, sysupgrade) on a unix socket.
//
// Exit status is 0 after a normal shutdown (SIGINT/SIGTERM) and 1 when the
// socket cannot be set up or the service cannot be served.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"hackohio/miniui/internal/config"
	"hackohio/miniui/pkg/procexec"
)

type flags struct {
	configPath  string
	socket      string
	scratchDir  string
	logLevel    string
	logFormat   string
	metricsAddr string
}

func main() {
	// Detached upgrades re-execute this binary as a short-lived intermediary.
	if procexec.IsIntermediary() {
		os.Exit(procexec.RunIntermediary(os.Args[1:]))
	}
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&flags{})
}

func newRootCmdWith(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "miniuid",
		Short:         "miniui local management agent",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags(), *f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	bindFlags(cmd.Flags(), f)
	return cmd
}

func bindFlags(fs *pflag.FlagSet, f *flags) {
	fs.StringVarP(&f.configPath, "config", "c", "", "config file (default "+config.DefaultPath+" if present)")
	fs.StringVar(&f.socket, "socket", "", "unix socket path")
	fs.StringVar(&f.scratchDir, "scratch-dir", "", "directory local upgrade images must live in")
	fs.StringVar(&f.logLevel, "log-level", "", "log level (trace, debug, info, warn, error, off)")
	fs.StringVar(&f.logFormat, "log-format", "", "log format (console, json)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "address for /metrics and /healthz; empty disables")
}

// loadConfig reads the config file and applies explicitly set flags on top.
func loadConfig(fs *pflag.FlagSet, f flags) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if f.configPath != "" {
		cfg, err = config.Load(f.configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return config.Config{}, err
	}

	if fs.Changed("socket") {
		cfg.Socket = f.socket
	}
	if fs.Changed("scratch-dir") {
		cfg.ScratchDir = f.scratchDir
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if fs.Changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
