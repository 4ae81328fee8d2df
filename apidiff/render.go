package apidiff

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Formats accepted by Write.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

var ErrUnknownFormat = errors.New("unknown report format")

// Write renders the report in the given format.
func (r *Report) Write(w io.Writer, format string) error {
	switch format {
	case FormatText, "":
		return r.WriteText(w)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(r), "encoding report")
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return errors.Wrap(err, "encoding report")
		}
		return errors.Wrap(enc.Close(), "encoding report")
	}
	return errors.Wrapf(ErrUnknownFormat, "%q", format)
}

// WriteText writes one line per change, followed by its field details.
func (r *Report) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "API changes %s -> %s: %d breaking, %d compatible, %d informational\n",
		orUnknown(r.OldSDK), orUnknown(r.NewSDK),
		r.Count(Breaking), r.Count(Compatible), r.Count(Informational))

	if r.Empty() {
		_, err := fmt.Fprintln(w, "no changes")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	for _, c := range r.Changes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Severity, c.Kind, c.Section, c.Name)
		for _, d := range c.Detail {
			fmt.Fprintf(tw, "\t\t\t    %s\n", d)
		}
	}
	return tw.Flush()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
