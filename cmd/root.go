// Package cmd wires the command line interface.
package cmd

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"stock-anomaly/app"
	"stock-anomaly/config"
	"stock-anomaly/logging"
)

// options shared by every command
type options struct {
	cfg           *config.Config
	detectionFile string
	logLevel      string
}

// Execute builds the command tree and runs it
func Execute(ctx context.Context) error {
	opts := &options{}

	root := &cobra.Command{
		Use:           "stock-anomaly",
		Short:         "Daily stock anomaly detection service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}
	root.PersistentFlags().StringVar(&opts.detectionFile, "detection-config", "", "YAML file overriding detection parameters")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd(opts))
	root.AddCommand(seedCmd(ctx, opts))
	root.AddCommand(backfillCmd(ctx, opts))
	root.AddCommand(collectCmd(ctx, opts))
	root.AddCommand(scanCmd(ctx, opts))
	root.AddCommand(exportCmd(ctx, opts))

	return root.ExecuteContext(ctx)
}

// load reads configuration and sets up logging
func (o *options) load() error {
	o.cfg = config.LoadFromEnv()
	if o.logLevel != "" {
		o.cfg.LogLevel = o.logLevel
	}
	logging.Setup(o.cfg.LogLevel, o.cfg.LogFormat)

	if o.detectionFile != "" {
		if err := o.cfg.ApplyDetectionFile(o.detectionFile); err != nil {
			return err
		}
		o.cfg.Detection.ConfigFile = o.detectionFile
	}
	log.Debug().Strs("symbols", o.cfg.Symbols).Str("provider", o.cfg.MarketData.Provider).Msg("Configuration loaded")
	return nil
}

// open initializes the application for one-shot commands
func (o *options) open(requireProvider bool) (*app.App, error) {
	a := app.New(o.cfg)
	if err := a.Init(requireProvider); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}
