package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ardanlabs/objc-metadata/apidiff"
	"github.com/ardanlabs/objc-metadata/metadata"
	"github.com/ardanlabs/objc-metadata/scan"
	"github.com/ardanlabs/objc-metadata/watch"
)

func (a *app) watchCmd() *cobra.Command {
	var (
		arch     string
		debounce time.Duration
		write    bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rescan a framework whenever its headers change",
		Long: `Watches the header directories of one framework section and rescans it
when a header changes, printing the API changes since the previous scan.
With --write each changed scan is also stored as a raw fwinfo file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fw, err := a.framework()
			if err != nil {
				return err
			}
			if arch == "" {
				arch = a.cfg.Archs[0]
			}

			dirs, err := a.cfg.HeaderDirs(fw)
			if err != nil {
				return err
			}
			if len(dirs) == 0 {
				return fmt.Errorf("no header directories found for %s", fw.Name)
			}

			s := scan.New(fw, a.cfg, a.logger)
			scanFn := func(ctx context.Context) (*metadata.FrameworkMetadata, error) {
				return s.Scan(ctx, arch)
			}

			out := cmd.OutOrStdout()
			report := func(r *apidiff.Report, md *metadata.FrameworkMetadata) {
				if err := r.WriteText(out); err != nil {
					a.logger.Error("writing report", zap.Error(err))
				}
				if !write {
					return
				}
				if _, err := s.WriteRaw(md); err != nil {
					a.logger.Error("writing scan", zap.Error(err))
				}
			}

			w, err := watch.New(dirs, scanFn, report, a.logger, watch.WithDebounce(debounce))
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := w.Start(ctx); err != nil {
				return fmt.Errorf("failed to start watching %s: %w", fw.Name, err)
			}
			fmt.Fprintf(out, "Watching %s for %s, press Ctrl-C to stop\n", fw.Name, arch)

			<-w.Done()
			w.Stop()

			stats := w.Stats()
			a.logger.Info("watch finished",
				zap.Int("events", stats.Events),
				zap.Int("rescans", stats.Rescans),
				zap.Int("reports", stats.Reports),
				zap.Int("errors", stats.Errors),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&arch, "arch", "", "Architecture to scan (default: first configured arch)")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "Quiet period before a rescan")
	cmd.Flags().BoolVar(&write, "write", false, "Write a raw fwinfo file for every changed scan")
	return cmd
}
