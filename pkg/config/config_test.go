package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agingbench/core/pkg/status"
)

const functionConfigYAML = `
can:
  interface: socketcan
  channel: can0
  bitrate: 500000
  data_bitrate: 2000000
  fd_enable: true
tx_retry_count: 3
tx_retry_interval: 10ms
dark_current: 0.002
log_level: info
ui:
  group_count: 1
  slots_per_group: 16
  slot_refresh_interval: 1s
  non_recoverable_status: [-4, -5]
  alarm_delay_seconds: 30
  channel_remap: false
`

const projectConfigYAML = `
name: demo-project
voltage_range:
  min: 11
  max: 14
current_range:
  min: 0.4
  max: 1.0
aging_hour_options: [24, 48, 72]
aging_hour_default: 24
diagnostic:
  phy_tx: 73
  phy_rx: 72
  dids:
    - id: 61840
      size: 2
      type: bytes
      operation: read
  periodic_diag:
    interval_seconds: 10
    rediag_interval_seconds: 1
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadFunctionConfig(t *testing.T) {
	path := writeTemp(t, "function.yaml", functionConfigYAML)
	cfg, err := LoadFunctionConfig(path)
	if err != nil {
		t.Fatalf("LoadFunctionConfig: %v", err)
	}
	if cfg.CAN.Interface != "socketcan" || cfg.CAN.Channel != "can0" {
		t.Fatalf("CAN = %+v", cfg.CAN)
	}
	if cfg.UI.SlotsPerGroup != 16 {
		t.Fatalf("UI.SlotsPerGroup = %d, want 16", cfg.UI.SlotsPerGroup)
	}
	set := cfg.UI.NonRecoverableSet()
	if !set.Contains(status.BoardLost) || !set.Contains(status.NoUnitPlugged) {
		t.Fatalf("NonRecoverableSet() = %+v, missing expected codes", set)
	}
}

func TestLoadProjectConfigAndConversions(t *testing.T) {
	path := writeTemp(t, "project.yaml", projectConfigYAML)
	cfg, err := LoadProjectConfig(path)
	if err != nil {
		t.Fatalf("LoadProjectConfig: %v", err)
	}
	if cfg.Name != "demo-project" {
		t.Fatalf("Name = %q", cfg.Name)
	}

	th := cfg.Thresholds(0.002)
	if th.Voltage.Min != 11 || th.Voltage.Max != 14 {
		t.Fatalf("Thresholds.Voltage = %+v", th.Voltage)
	}

	dids := cfg.Diagnostic.DIDConfigs()
	if len(dids) != 1 || dids[0].ID != 0xF190 {
		t.Fatalf("DIDConfigs = %+v, want one entry with ID 0xF190", dids)
	}

	interval, rediag := cfg.Diagnostic.PeriodicDiag.Durations()
	if interval.Seconds() != 10 || rediag.Seconds() != 1 {
		t.Fatalf("Durations = (%v, %v), want (10s, 1s)", interval, rediag)
	}
}
