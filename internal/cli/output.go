package cli

import (
	"fmt"
	"io"

	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"
)

type output struct {
	format string
	w      io.Writer
}

func newOutput(opts *RootOptions, cmd *cobra.Command) *output {
	return &output{format: opts.Format, w: cmd.OutOrStdout()}
}

func (o *output) json() bool {
	return o.format == "json"
}

func (o *output) writeJSON(v any) error {
	_, err := fmt.Fprintln(o.w, print.MaybePrettyJSON(v))
	return err
}

func (o *output) line(s string) error {
	_, err := fmt.Fprintln(o.w, s)
	return err
}
