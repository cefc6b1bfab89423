// Command crmctl runs operational tasks against the CRM storage: schema
// migrations, catalog seeding, queue metrics and the dry-run outbox.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-logger/glog"
	"github.com/spf13/cobra"

	"github.com/character-tun/character-crm-sub000/internal/app"
	"github.com/character-tun/character-crm-sub000/internal/config"
	"github.com/character-tun/character-crm-sub000/internal/logging"
)

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "crmctl",
	Short: "Operate the CRM order status service",
	Long: `crmctl reads the same environment as the api and worker binaries.

Examples:
  crmctl migrate
  crmctl seed configs/catalog.yaml
  crmctl metrics --last 20
  crmctl outbox list --json`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (overrides CRM_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(outboxCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}

func loadConfig() (config.Config, glog.Logger, error) {
	if configPath != "" {
		if err := os.Setenv("CRM_CONFIG", configPath); err != nil {
			return config.Config{}, nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logging.New(os.Stderr, cfg.LogLevel, "console"), nil
}

func openRuntime(ctx context.Context) (*app.Runtime, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Storage == "memory" {
		logger.Warn("STORAGE=memory: changes made by crmctl are discarded on exit")
	}
	return app.Open(ctx, cfg, logger)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
