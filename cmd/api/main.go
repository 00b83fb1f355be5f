package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/YasodaLAE/transformer/internal/config"
	"github.com/YasodaLAE/transformer/internal/logger"
)

// globals shared by every subcommand, filled in PersistentPreRunE
type globals struct {
	configPath string
	logMode    string

	cfg *config.Config
	log *zap.Logger
}

func main() {
	// .env is optional, real environment wins
	_ = godotenv.Load()

	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:           "transformer",
		Short:         "Thermal inspection annotation and detection service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return fmt.Errorf("config load error: %w", err)
			}
			if g.logMode != "" {
				cfg.Log.Mode = g.logMode
			}
			log, err := logger.New(cfg.Log)
			if err != nil {
				return fmt.Errorf("logger init error: %w", err)
			}
			g.cfg, g.log = cfg, log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync(g.log)
		},
	}

	defaultPath := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		defaultPath = v
	}
	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", defaultPath, "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&g.logMode, "log-mode", "", "Log mode: debug or release (overrides log.mode)")

	serve := serveCommand(g)
	rootCmd.AddCommand(
		serve,
		detectCommand(g),
		finetuneCommand(g),
		exportCommand(g),
		migrateCommand(g),
	)
	// bare "transformer" serves
	rootCmd.RunE = serve.RunE

	return rootCmd
}
