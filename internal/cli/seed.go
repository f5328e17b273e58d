package cli

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	tenantauth "github.com/goliatone/go-tenantauth"
	"github.com/goliatone/go-tenantauth/internal/app"
	"github.com/goliatone/go-tenantauth/repository"
	"github.com/spf13/cobra"
)

// SeedOptions are the seed command flags.
type SeedOptions struct {
	Email       string
	Password    string
	DisplayName string
	Company     string
	ProfileType string
	Features    []string
	Status      string
}

// Validate checks the account flags and that every feature is in the catalog.
func (o SeedOptions) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Email, validation.Required, is.Email),
		validation.Field(&o.Password, validation.Required, validation.Length(8, 0)),
		validation.Field(&o.Features, validation.By(knownFeatures)),
	)
}

func knownFeatures(value any) error {
	features, _ := value.([]string)
	for _, raw := range features {
		if _, err := tenantauth.ParseFeatureKey(raw); err != nil {
			return fmt.Errorf("unknown feature %q", raw)
		}
	}
	return nil
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := SeedOptions{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Provision a demo account",
		Long: `Create a user, a company membership and a profile carrying the given features.

Leave --company empty to create an unprovisioned user.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Validate(); err != nil {
				return err
			}

			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}

			db, err := app.OpenDB(cfg.Persistence)
			if err != nil {
				return err
			}
			defer db.Close()

			if _, err := tenantauth.Migrate(cmd.Context(), db); err != nil {
				return err
			}

			result, err := repository.Seed(cmd.Context(), db, repository.SeedAccount{
				Email:              strings.ToLower(strings.TrimSpace(opts.Email)),
				Password:           opts.Password,
				DisplayName:        opts.DisplayName,
				Company:            opts.Company,
				ProfileType:        opts.ProfileType,
				Features:           opts.Features,
				SubscriptionStatus: opts.Status,
			})
			if err != nil {
				return err
			}

			out := newOutput(rootOpts, cmd)
			if out.json() {
				return out.writeJSON(result)
			}
			return out.line(fmt.Sprintf("user %s company %s profile %s", result.UserID, result.CompanyID, result.ProfileID))
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "account email")
	cmd.Flags().StringVar(&opts.Password, "password", "", "account password")
	cmd.Flags().StringVar(&opts.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Company, "company", "Demo Company", "company name, empty for no membership")
	cmd.Flags().StringVar(&opts.ProfileType, "profile-type", "starter", "profile type name")
	cmd.Flags().StringSliceVar(&opts.Features, "features", []string{string(tenantauth.FeatureDashboard)}, "feature keys granted by the profile type")
	cmd.Flags().StringVar(&opts.Status, "status", "active", "subscription status")

	return cmd
}
