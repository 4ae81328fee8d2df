package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ardanlabs/objc-metadata/config"
)

// app holds the state shared by the subcommands.
type app struct {
	configPath string
	section    string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "objc-metadata",
		Short: "Scan, merge, compare and compile framework header metadata",
		Long: `objc-metadata extracts the declarations of C and Objective-C framework
headers into fwinfo files, one per architecture and SDK.

Raw scans are merged with a hand-written exceptions file, compared to find
API changes between SDKs, and compiled into a Go package.

Example:
  objc-metadata scan --section Foundation
  objc-metadata merge --section Foundation
  objc-metadata diff raw/x86_64-13.0.fwinfo raw/x86_64-14.2.fwinfo
  objc-metadata doc --section Foundation -o docs`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config %s: %w", a.configPath, err)
			}
			a.cfg = cfg

			logger, err := buildLogger(cfg.Logging, a.verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "metadata.yaml", "Configuration file")
	rootCmd.PersistentFlags().StringVarP(&a.section, "section", "s", "", "Framework section to process (default: all)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(
		a.scanCmd(),
		a.mergeCmd(),
		a.diffCmd(),
		a.compileCmd(),
		a.docCmd(),
		a.parseCmd(),
		a.watchCmd(),
	)

	return rootCmd
}

func buildLogger(lc config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Encoding = lc.Format
	if lc.Format == "console" {
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	zc.DisableStacktrace = true

	level, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

// frameworks returns the section selected with --section, or every section.
func (a *app) frameworks() ([]*config.Framework, error) {
	if a.section != "" {
		fw, err := a.cfg.Framework(a.section)
		if err != nil {
			return nil, err
		}
		return []*config.Framework{fw}, nil
	}

	sections := a.cfg.Sections()
	if len(sections) == 0 {
		return nil, fmt.Errorf("no framework sections in %s", a.configPath)
	}

	fws := make([]*config.Framework, 0, len(sections))
	for _, s := range sections {
		fws = append(fws, a.cfg.Frameworks[s])
	}
	return fws, nil
}

// framework returns the single section a command works on.
func (a *app) framework() (*config.Framework, error) {
	fws, err := a.frameworks()
	if err != nil {
		return nil, err
	}
	if len(fws) > 1 {
		return nil, fmt.Errorf("several framework sections configured, select one with --section")
	}
	return fws[0], nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
