package cli

import (
	"fmt"
	"text/tabwriter"

	tenantauth "github.com/goliatone/go-tenantauth"
	"github.com/spf13/cobra"
)

// RouteRow is one line of the route requirement table.
type RouteRow struct {
	Segment string `json:"segment"`
	Feature string `json:"feature"`
}

// NewRoutesCommand creates the routes command.
func NewRoutesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "routes",
		Short:        "Print the route requirement table",
		Long:         "Print the top level path segments gated by a feature. Fails when an entry references an unknown feature.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			guard, err := tenantauth.NewRouteGuard()
			if err != nil {
				return err
			}
			return printRoutes(newOutput(rootOpts, cmd), guard.Requirements())
		},
	}
}

func printRoutes(out *output, requirements tenantauth.RouteRequirements) error {
	rows := make([]RouteRow, 0, len(requirements))
	for _, segment := range requirements.Segments() {
		rows = append(rows, RouteRow{Segment: "/" + segment, Feature: requirements[segment].String()})
	}

	if out.json() {
		return out.writeJSON(rows)
	}

	tw := tabwriter.NewWriter(out.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEGMENT\tFEATURE")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", row.Segment, row.Feature)
	}
	return tw.Flush()
}
