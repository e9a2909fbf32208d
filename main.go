package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"gearplanner/internal/config"
)

var version = "0.3.0-dev"

// options shared by every command
type rootOptions struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:     "gearplanner",
		Short:   "Plan gear builds and share them as compact links",
		Version: version,
		Long: `gearplanner resolves equipment builds against a chunked item catalog.

Builds travel as a URL fragment (#build=...&classes=...) that names the
equipped item ids and the catalog chunks needed to resolve them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default gearplanner.yaml or $"+config.EnvConfig+")")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug|info|warn|error")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newDecodeCmd(opts),
		newImportCmd(opts),
		newCacheCmd(opts),
	)
	return rootCmd
}

// setup loads .env and config, then installs the logger
func (o *rootOptions) setup() error {
	envPath := config.LoadDotEnv()

	path := o.configPath
	if path == "" {
		path = os.Getenv(config.EnvConfig)
	}
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	cfg.ApplyEnv()
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	o.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(o.logger)
	o.cfg = cfg

	if envPath != "" {
		o.logger.Debug("loaded .env", "path", envPath)
	}
	o.logger.Debug("config loaded", "path", path)
	return nil
}
