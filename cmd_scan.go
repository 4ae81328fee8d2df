package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ardanlabs/objc-metadata/config"
	"github.com/ardanlabs/objc-metadata/scan"
)

func (a *app) scanCmd() *cobra.Command {
	var archs []string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan framework headers into raw fwinfo files",
		Long: `Parses the headers of each framework section once per architecture and
writes <raw>/<arch>-<sdk>.fwinfo. An empty exceptions file is created for
frameworks that do not have one yet.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(archs) == 0 {
				archs = a.cfg.Archs
			}
			for _, arch := range archs {
				if !validArch(arch) {
					return fmt.Errorf("invalid architecture: %s (valid: %v)", arch, config.ValidArchs)
				}
			}

			fws, err := a.frameworks()
			if err != nil {
				return err
			}

			for _, fw := range fws {
				s := scan.New(fw, a.cfg, a.logger)
				results, err := s.ScanAll(cmd.Context(), archs)
				if err != nil {
					return fmt.Errorf("failed to scan %s: %w", fw.Name, err)
				}

				for _, md := range results {
					path, err := s.WriteRaw(md)
					if err != nil {
						return fmt.Errorf("failed to write scan of %s: %w", fw.Name, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Scanned %s (%s): %s\n", fw.Name, md.Arch(), path)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&archs, "arch", nil, "Architectures to scan (default: archs from the config)")
	return cmd
}

func validArch(arch string) bool {
	for _, a := range config.ValidArchs {
		if a == arch {
			return true
		}
	}
	return false
}
