package main

import (
	"context"
	"fmt"
	"os"

	"BotArena/internal/di"
	"BotArena/pkg/config"

	"github.com/spf13/cobra"
)

var (
	configPath string
	modeFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "arena",
	Short: "BTC 5-minute up/down bot arena",
	Long: `Runs four trading bots against BTC 5-minute up/down markets, learns from
every settled window and periodically replaces the weakest bots with mutated
copies of the strongest.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the arena and the observer API",
	RunE:  runArena,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the config with environment overrides and report problems",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := load()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config ok: env=%s mode=%s backend=%s kafka=%t redis=%t\n",
			cfg.Environment, cfg.Risk.Mode, cfg.Backend.Type, cfg.Kafka.Enabled, cfg.Redis.Enabled)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")
	runCmd.Flags().StringVar(&modeFlag, "mode", "", "override trading mode: paper or live")

	configCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd, configCmd)
}

func load() (*config.Config, error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	if modeFlag != "" {
		cfg.Risk.Mode = modeFlag
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("--mode: %w", err)
		}
	}
	return cfg, nil
}

func runArena(cmd *cobra.Command, _ []string) error {
	cfg, err := load()
	if err != nil {
		return err
	}

	app, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}
	return app.Run(context.Background())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
