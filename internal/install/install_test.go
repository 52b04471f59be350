package install

import (
	"strings"
	"testing"
)

func TestSystemdUnitContent(t *testing.T) {
	unit := SystemdUnit("/usr/local/bin/ostiary")

	checks := []struct {
		name     string
		contains string
	}{
		{"description", "Ostiary consent-gated remote access agent"},
		{"exec start", "ExecStart=/usr/local/bin/ostiary serve --config /etc/ostiary/config.yaml"},
		{"restart", "Restart=always"},
		{"restart sec", "RestartSec=10"},
		{"after network", "After=network-online.target"},
		{"wanted by", "WantedBy=multi-user.target"},
		{"no new privs", "NoNewPrivileges=true"},
		{"protect system", "ProtectSystem=strict"},
		{"data dir writable", "ReadWritePaths=/var/lib/ostiary"},
	}

	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			if !strings.Contains(unit, c.contains) {
				t.Errorf("unit file missing %q", c.contains)
			}
		})
	}
}

func TestLaunchdPlistContent(t *testing.T) {
	plist := LaunchdPlist("/usr/local/bin/ostiary")

	checks := []struct {
		name     string
		contains string
	}{
		{"label", "io.ostiary.agent"},
		{"binary path", "/usr/local/bin/ostiary"},
		{"serve arg", "<string>serve</string>"},
		{"config arg", DefaultConfigFile},
		{"run at load", "<key>RunAtLoad</key>"},
		{"keep alive", "<key>KeepAlive</key>"},
		{"stdout log", "/var/log/ostiary.log"},
		{"stderr log", "/var/log/ostiary.err"},
		{"plist dtd", "PropertyList-1.0.dtd"},
	}

	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			if !strings.Contains(plist, c.contains) {
				t.Errorf("plist missing %q", c.contains)
			}
		})
	}
}

func TestSystemdUnitCustomBinary(t *testing.T) {
	unit := SystemdUnit("/opt/ostiary/bin/ostiary")
	if !strings.Contains(unit, "ExecStart=/opt/ostiary/bin/ostiary") {
		t.Error("unit file should use custom binary path")
	}
}

func TestLaunchdPlistCustomBinary(t *testing.T) {
	plist := LaunchdPlist("/opt/ostiary/bin/ostiary")
	if !strings.Contains(plist, "<string>/opt/ostiary/bin/ostiary</string>") {
		t.Error("plist should use custom binary path")
	}
}

func TestServiceName(t *testing.T) {
	if ServiceName != "ostiary" {
		t.Errorf("expected service name 'ostiary', got %q", ServiceName)
	}
}
