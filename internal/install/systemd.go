package install

import (
	"fmt"
	"os"
	"os/exec"
)

const (
	systemdUnitPath = "/etc/systemd/system/ostiary.service"
	dataDirLinux    = "/var/lib/ostiary"
)

// SystemdUnit generates the systemd unit file content.
func SystemdUnit(binPath string) string {
	return fmt.Sprintf(`[Unit]
Description=Ostiary consent-gated remote access agent
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s serve --config %s
Restart=always
RestartSec=10

# Security hardening
NoNewPrivileges=true
ProtectSystem=strict
ProtectHome=read-only
ReadWritePaths=%s
PrivateTmp=true

[Install]
WantedBy=multi-user.target
`, binPath, DefaultConfigFile, dataDirLinux)
}

func installSystemd(binPath string) error {
	unit := SystemdUnit(binPath)

	if err := os.MkdirAll(dataDirLinux, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	if err := os.WriteFile(systemdUnitPath, []byte(unit), 0644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}

	if err := runCommand("systemctl", "daemon-reload"); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}

	if err := runCommand("systemctl", "enable", ServiceName); err != nil {
		return fmt.Errorf("enable service: %w", err)
	}

	if err := runCommand("systemctl", "start", ServiceName); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	return nil
}

func uninstallSystemd() error {
	_ = runCommand("systemctl", "stop", ServiceName)
	_ = runCommand("systemctl", "disable", ServiceName)
	_ = os.Remove(systemdUnitPath)
	_ = runCommand("systemctl", "daemon-reload")
	return nil
}

func isSystemdRunning() bool {
	cmd := exec.Command("systemctl", "is-active", "--quiet", ServiceName)
	return cmd.Run() == nil
}
