package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ardanlabs/objc-metadata/docgen"
)

func (a *app) docCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Render merged metadata as a Markdown reference",
		Long: `Writes a Markdown page per framework section listing its classes,
enumerations, externs, constants and functions with their availability.
The page goes to stdout unless --output names a directory, which then gets
one <Name>.md file per section.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fws, err := a.frameworks()
			if err != nil {
				return err
			}

			for _, fw := range fws {
				md, err := a.loadMerged(fw)
				if err != nil {
					return err
				}

				if outDir == "" {
					if err := docgen.Write(cmd.OutOrStdout(), fw.Name, md); err != nil {
						return err
					}
					continue
				}

				if err := os.MkdirAll(outDir, 0755); err != nil {
					return fmt.Errorf("failed to create output directory: %w", err)
				}
				path := filepath.Join(outDir, fw.Name+".md")
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", path, err)
				}
				err = docgen.Write(f, fw.Name, md)
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Documented %s: %s\n", fw.Name, path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "output", "o", "", "Directory for the generated pages (default: stdout)")
	return cmd
}
