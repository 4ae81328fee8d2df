package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ardanlabs/objc-metadata/apidiff"
	"github.com/ardanlabs/objc-metadata/metadata"
)

func (a *app) diffCmd() *cobra.Command {
	var (
		format         string
		failOnBreaking bool
	)

	cmd := &cobra.Command{
		Use:   "diff OLD NEW",
		Short: "Report API changes between two fwinfo files",
		Long: `Compares two raw or merged fwinfo files and lists added, removed and
changed symbols along with deprecation changes.

Example:
  objc-metadata diff raw/x86_64-13.0.fwinfo raw/x86_64-14.2.fwinfo --format yaml`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			before, err := metadata.LoadFramework(args[0])
			if err != nil {
				return err
			}
			after, err := metadata.LoadFramework(args[1])
			if err != nil {
				return err
			}

			report := apidiff.Compare(before, after)
			if err := report.Write(cmd.OutOrStdout(), format); err != nil {
				return err
			}

			if failOnBreaking && report.Breaking() {
				return fmt.Errorf("%d breaking changes", report.Count(apidiff.Breaking))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", apidiff.FormatText, "Output format: text, json or yaml")
	cmd.Flags().BoolVar(&failOnBreaking, "fail-on-breaking", false, "Exit with an error when a change is breaking")
	return cmd
}
