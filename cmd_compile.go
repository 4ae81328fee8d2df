package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ardanlabs/objc-metadata/generator"
)

func (a *app) compileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile",
		Short: "Generate a Go package from merged metadata",
		Long: `Reads the merged fwinfo file of each framework section, merging the raw
scans first when it does not exist, and writes a Go package with the enum
types, constants and symbol tables into the compiled directory.`,
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

				gen := generator.New(fw.Package, fw.LinkFramework, md)
				paths, err := gen.WriteFiles(fw.Compiled)
				if err != nil {
					return fmt.Errorf("failed to compile %s: %w", fw.Name, err)
				}
				for _, path := range paths {
					fmt.Fprintf(cmd.OutOrStdout(), "Generated: %s\n", path)
				}
			}
			return nil
		},
	}
}
