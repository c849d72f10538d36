package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/wekeepgrowing/entitlement-service/internal/app"
	"github.com/wekeepgrowing/entitlement-service/internal/config"
	"github.com/wekeepgrowing/entitlement-service/pkg/logger"
	"go.uber.org/zap"
)

// Version is stamped at build time with -ldflags "-X main.Version=...".
var Version = "dev"

const (
	outputText = "text"
	outputJSON = "json"
)

type rootOptions struct {
	configPath string
	output     string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:          "entitlementctl",
		Short:        "Operate the entitlement service",
		Long:         `Inspect and repair user entitlements, run sweeps and check the plan catalog against the billing provider.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional
			_ = godotenv.Load()
			switch opts.output {
			case outputText, outputJSON:
				return nil
			default:
				return fmt.Errorf("unsupported output %q (use text or json)", opts.output)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file or directory (defaults to CONFIG_PATH, then configs/$APP_ENV)")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", outputText, "output format: text or json")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level written to stderr")

	rootCmd.AddCommand(
		newMigrateCmd(opts),
		newShowCmd(opts),
		newReconcileCmd(opts),
		newSweepCmd(opts),
		newPlansCmd(opts),
		newWatchCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "entitlementctl %s\n", Version)
		},
	}
}

// load reads the config and builds a logger that never writes to stdout, so
// command output stays machine readable.
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFrom(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logCfg := cfg.Log
	logCfg.Output = "stderr"
	logCfg.Level = o.logLevel
	log, err := logger.NewZapLogger(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

// openApp is load plus app.New. Commands never migrate implicitly.
func (o *rootOptions) openApp(ctx context.Context) (*app.App, error) {
	cfg, log, err := o.load()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, log, app.Options{SkipMigrate: true})
}

func (o *rootOptions) print(w io.Writer, v interface{}, text func(io.Writer) error) error {
	if o.output == outputJSON || text == nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}
