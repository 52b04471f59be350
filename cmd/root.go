package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ostiary-io/ostiary/internal/config"
)

var (
	// Flags
	flagConfig   string
	flagLogLevel string
	flagDataDir  string
)

var rootCmd = &cobra.Command{
	Use:   "ostiary",
	Short: "Consent-gated remote host control service",
	Long: `ostiary admits remote-control connections to this host only after the
local account has explicitly recorded consent. Every connection attempt,
admission, and session is written to a tamper-evident audit log.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default: /etc/ostiary/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "State directory for consent and audit files (env: OSTIARY_DATA_DIR)")
}

// Execute runs the root command.
func Execute(version string) {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("ostiary %s\n", version))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the config file and applies persistent-flag
// overrides on top of it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
		cfg.ConsentPath = filepath.Join(cfg.DataDir, "consent", "consent.json")
		cfg.AuditPath = filepath.Join(cfg.DataDir, "logs", "audit.log")
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	return cfg, nil
}
