package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ostiary-io/ostiary/internal/config"
	"github.com/ostiary-io/ostiary/internal/consent"
	"github.com/ostiary-io/ostiary/internal/install"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ostiary service status",
	Long:  `Display the current state of the ostiary service, config, and consents.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	s := install.Status()

	fmt.Printf("Platform:   %s\n", s.Platform)
	fmt.Printf("Binary:     %s\n", valueOrNA(s.BinaryPath))
	fmt.Printf("Config:     %s\n", s.ConfigPath)
	fmt.Printf("Installed:  %s\n", boolStatus(s.Installed))
	fmt.Printf("Running:    %s\n", boolStatus(s.Running))

	// Show config summary if present
	if s.Installed {
		cfg, err := config.Load(install.DefaultConfigFile)
		if err == nil {
			fmt.Println()
			fmt.Println("Configuration:")
			fmt.Printf("  Listen:   %s\n", cfg.ListenAddr)
			fmt.Printf("  Identity: %s\n", valueOrNA(cfg.Identity))
			fmt.Printf("  Data dir: %s\n", cfg.DataDir)

			if store, err := consent.NewStore(cfg.ConsentPath); err == nil {
				active := 0
				for _, r := range store.ListConsents() {
					if r.IsActive && !r.Expired(time.Now()) {
						active++
					}
				}
				fmt.Printf("  Consents: %d active\n", active)
			}
		}
	}

	// Show version
	fmt.Printf("\nVersion:    %s\n", rootCmd.Version)

	// Exit code 1 if not running (useful for scripts)
	if !s.Running {
		os.Exit(1)
	}
	return nil
}

func boolStatus(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func valueOrNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}
