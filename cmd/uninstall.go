package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ostiary-io/ostiary/internal/install"
)

var flagPurge bool

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the ostiary system service",
	Long: `Stop and remove the ostiary system service.

By default, the config file at /etc/ostiary/ is preserved. Consent
records and the audit log are never removed by this command. Use
--purge to also remove the config directory.`,
	RunE: runUninstall,
}

func init() {
	uninstallCmd.Flags().BoolVar(&flagPurge, "purge", false, "Also remove config files")
	rootCmd.AddCommand(uninstallCmd)
}

func runUninstall(cmd *cobra.Command, args []string) error {
	if err := install.Uninstall(flagPurge); err != nil {
		return fmt.Errorf("uninstall failed: %w", err)
	}

	fmt.Println("ostiary service removed.")
	if flagPurge {
		fmt.Println("Config files purged.")
	} else {
		fmt.Printf("Config preserved at %s (use --purge to remove)\n", install.DefaultConfigDir)
	}
	return nil
}
