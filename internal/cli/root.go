// Package cli is the zibridge command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Bafix001/zibridge/config"
	"github.com/Bafix001/zibridge/internal/app"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile string
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the zibridge CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "zibridge",
		Short: "Snapshot, diff and restore CRM data",
		Long: `zibridge captures content-addressed snapshots of CRM and CSV sources,
compares them and restores a snapshot onto the live system.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before the environment")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewProjectCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))
	cmd.AddCommand(NewDiffCommand(opts))
	cmd.AddCommand(NewRestoreCommand(opts))

	return cmd
}

// NewLogger builds the process logger: JSON in production, console output
// when PRETTY_LOGS is set.
func NewLogger(cfg *config.Config) (ectologger.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zcfg.Level = level

	zapLogger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

// start loads the configuration and brings up every dependency. The caller
// must call the returned stop function.
func start(ctx context.Context, opts *RootOptions) (*app.App, func(), error) {
	cfg, err := config.Load(opts.EnvFile)
	if err != nil {
		return nil, nil, err
	}
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	a := app.New(cfg, logger)
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return nil, nil, err
	}
	return a, func() {
		if err := a.Stop(context.Background()); err != nil {
			logger.WithError(err).Warn("failed to stop dependencies")
		}
	}, nil
}

// output writes v as indented JSON, or through text in text mode.
func output(opts *RootOptions, w io.Writer, v any, text func(io.Writer)) error {
	if opts.Format == "json" || text == nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
