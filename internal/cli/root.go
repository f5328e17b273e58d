package cli

import (
	"fmt"
	"slices"

	tenantauth "github.com/goliatone/go-tenantauth"
	"github.com/goliatone/go-tenantauth/config"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	EnvFiles   []string
	Format     string // "json" | "text"
	Verbose    bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tenantauth CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tenantauth",
		Short: "Multi tenant session and entitlement service",
		Long:  "Serves the dashboard auth endpoints, guards pages by tenant entitlement and manages the tenant schema.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringSliceVar(&opts.EnvFiles, "env-file", nil, "dotenv files to load (default .env)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewRoutesCommand(opts))

	return cmd
}

func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath, o.EnvFiles...)
	if err != nil {
		return nil, err
	}
	if o.Verbose {
		cfg.App.LogLevel = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *tenantauth.ZapLogger {
	return tenantauth.NewZapLoggerFor(cfg.App.Environment, cfg.App.LogLevel, cfg.App.Name)
}
