package cli

import (
	"fmt"

	tenantauth "github.com/goliatone/go-tenantauth"
	"github.com/goliatone/go-tenantauth/internal/app"
	"github.com/spf13/cobra"
)

// MigrateResult is the migrate command output.
type MigrateResult struct {
	Group      string   `json:"group,omitempty"`
	Migrations []string `json:"migrations"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "migrate",
		Short:        "Apply pending schema migrations",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}

			db, err := app.OpenDB(cfg.Persistence)
			if err != nil {
				return err
			}
			defer db.Close()

			group, err := tenantauth.Migrate(cmd.Context(), db)
			if err != nil {
				return err
			}

			result := MigrateResult{Migrations: []string{}}
			if group != nil && !group.IsZero() {
				result.Group = group.String()
				for _, m := range group.Migrations {
					result.Migrations = append(result.Migrations, m.Name)
				}
			}

			out := newOutput(rootOpts, cmd)
			if out.json() {
				return out.writeJSON(result)
			}
			if len(result.Migrations) == 0 {
				return out.line("no new migrations")
			}
			return out.line(fmt.Sprintf("applied %s: %v", result.Group, result.Migrations))
		},
	}
}
