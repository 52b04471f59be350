package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ostiary-io/ostiary/internal/install"
	"github.com/ostiary-io/ostiary/internal/protocol"
)

var (
	flagInstallPassword string
	flagInstallListen   string
	flagInstallIdentity string
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install ostiary as a system service",
	Long: `Install ostiary as a systemd service (Linux) or launchd daemon (macOS).

This command:
  1. Hashes the shared secret and writes /etc/ostiary/config.yaml
  2. Creates and enables a system service
  3. Starts the service immediately

The secret itself is never stored; only its bcrypt hash is written.
Remote connections are still refused until a consent is recorded with
'ostiary consent grant'.`,
	RunE: runInstall,
}

func init() {
	installCmd.Flags().StringVar(&flagInstallPassword, "password", "", "Shared secret for the admission handshake (required)")
	installCmd.Flags().StringVar(&flagInstallListen, "listen", "", "Admission listen address (default :9876)")
	installCmd.Flags().StringVar(&flagInstallIdentity, "identity", "", "Consent identity override (default: the service account)")
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	if flagInstallPassword == "" {
		return fmt.Errorf("--password is required")
	}
	if flagInstallIdentity != "" {
		if err := protocol.ValidateUsername(flagInstallIdentity); err != nil {
			return err
		}
	}

	fmt.Println("Installing ostiary...")

	cfg := install.InstallConfig{
		Password:   flagInstallPassword,
		ListenAddr: flagInstallListen,
		Identity:   flagInstallIdentity,
		DataDir:    flagDataDir,
	}

	if err := install.Install(cfg); err != nil {
		return fmt.Errorf("install failed: %w", err)
	}

	fmt.Println("ostiary installed and running.")
	fmt.Printf("  Config: %s\n", install.DefaultConfigFile)
	fmt.Println("\nRecord consent before connecting: ostiary consent grant <username>")
	fmt.Println("Check status with: ostiary status")
	return nil
}
