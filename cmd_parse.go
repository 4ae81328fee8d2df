package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ardanlabs/objc-metadata/parser"
)

func (a *app) parseCmd() *cobra.Command {
	var arch string

	cmd := &cobra.Command{
		Use:   "parse HEADER",
		Short: "Dump the declarations of a header as JSON",
		Long: `Parses HEADER and prints every declaration found, including those of
included headers. With --section the include paths and defines of that
framework section are used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := parser.Options{Arch: arch}
			if a.section != "" {
				fw, err := a.cfg.Framework(a.section)
				if err != nil {
					return err
				}
				if opts, err = a.cfg.ParserOptions(fw, arch); err != nil {
					return err
				}
			}
			opts.Logger = a.logger

			hdr, err := parser.New(opts).ParseHeaders(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to parse %s: %w", args[0], err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(hdr)
		},
	}

	cmd.Flags().StringVar(&arch, "arch", "x86_64", "Architecture to preprocess for")
	return cmd
}
