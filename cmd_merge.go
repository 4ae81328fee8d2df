package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ardanlabs/objc-metadata/config"
	"github.com/ardanlabs/objc-metadata/merging"
	"github.com/ardanlabs/objc-metadata/metadata"
)

func (a *app) mergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Merge raw scans and exceptions into one fwinfo file",
		Long: `Combines every raw scan of a framework section with its exceptions file.
Values that differ between x86_64 and arm64 are kept per architecture. The
result is written to the merged path of the section.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fws, err := a.frameworks()
			if err != nil {
				return err
			}

			for _, fw := range fws {
				md, err := a.merge(fw)
				if err != nil {
					return err
				}
				if err := metadata.SaveFramework(fw.Merged, metadata.GeneratedHeader(time.Now()), md); err != nil {
					return fmt.Errorf("failed to save merged metadata: %w", err)
				}
				a.logger.Info("merged", zap.String("framework", fw.Name), zap.Int("records", md.Count()))
				fmt.Fprintf(cmd.OutOrStdout(), "Merged %s: %s\n", fw.Name, fw.Merged)
			}
			return nil
		},
	}
}

func (a *app) merge(fw *config.Framework) (*metadata.FrameworkMetadata, error) {
	raws, err := fw.RawScans()
	if err != nil {
		return nil, err
	}
	if len(raws) == 0 {
		return nil, fmt.Errorf("no raw scans for %s in %s, run scan first", fw.Name, fw.Raw)
	}

	a.logger.Debug("merging", zap.String("framework", fw.Name), zap.Strings("scans", raws))
	md, err := merging.LoadAndMerge(fw.Exceptions, raws...)
	if err != nil {
		return nil, fmt.Errorf("failed to merge %s: %w", fw.Name, err)
	}
	return md, nil
}

// loadMerged reads the merged metadata of fw, merging the raw scans when
// the merged file does not exist yet.
func (a *app) loadMerged(fw *config.Framework) (*metadata.FrameworkMetadata, error) {
	md, err := metadata.LoadFramework(fw.Merged)
	if err == nil {
		return md, nil
	}
	if _, statErr := os.Stat(fw.Merged); !os.IsNotExist(statErr) {
		return nil, err
	}

	a.logger.Info("no merged metadata, merging raw scans", zap.String("framework", fw.Name))
	return a.merge(fw)
}
