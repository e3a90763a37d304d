package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/vtutor/internal/app"
	"github.com/ent0n29/vtutor/internal/config"
	"github.com/ent0n29/vtutor/internal/logging"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	logLevel       string
	logFormat      string
	connectTimeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "vtutor",
		Short: "Speaking avatar driver for VTube Studio",
		Long: `vtutor synthesizes speech, plays it and drives the avatar's mouth
parameter over the VTube Studio plugin API while the audio plays.

Configuration is read from the environment (VTS_URL, VOICE_PROVIDER,
LISTNR_API_KEY, GEMINI_API_KEY, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override APP_LOG_LEVEL")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "override APP_LOG_FORMAT (console|json)")
	root.PersistentFlags().DurationVar(&opts.connectTimeout, "connect-timeout", 30*time.Second, "how long one-shot commands wait for the avatar server")

	root.AddCommand(
		newServeCmd(opts),
		newSpeakCmd(opts),
		newHotkeysCmd(opts),
		newParamsCmd(opts),
		newBenchCmd(),
		newVersionCmd(),
	)
	return root
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	return cfg, nil
}

func (o *rootOptions) build(ctx context.Context) (*app.BuildResult, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, log)
}

// connect builds the runtime and blocks until the avatar handshake is done
// or connectTimeout elapses.
func (o *rootOptions) connect(ctx context.Context) (*app.BuildResult, error) {
	built, err := o.build(ctx)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, o.connectTimeout)
	defer cancel()
	if err := built.Connector.Start(cctx); err != nil {
		_ = built.Cleanup()
		return nil, fmt.Errorf("connect to %s: %w", built.Config.VTSURL, err)
	}
	return built, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vtutor %s\n", version)
		},
	}
}
