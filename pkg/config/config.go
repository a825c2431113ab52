// Package config loads the two structured documents spec §6 describes
// (function config and project config) with github.com/spf13/viper,
// following marmos91-dittofs's layered-config pattern: one Viper instance
// per document, unmarshaled into a typed struct via mapstructure tags.
// The legacy flat DID/signal-table export format is handled separately
// in didtable.go with gopkg.in/ini.v1, the teacher's own config library.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/agingbench/core/pkg/diag"
	"github.com/agingbench/core/pkg/diag/isotp"
	"github.com/agingbench/core/pkg/diag/uds"
	"github.com/agingbench/core/pkg/status"
)

// FunctionConfig is the CAN interface, logging and UI-facing half of §6's
// configuration split. It is shared across every group a process hosts.
type FunctionConfig struct {
	CAN             CANConfig     `mapstructure:"can"`
	TxRetryCount    int           `mapstructure:"tx_retry_count"`
	TxRetryInterval time.Duration `mapstructure:"tx_retry_interval"`
	DarkCurrent     float64       `mapstructure:"dark_current"`
	LogLevel        string        `mapstructure:"log_level"`
	LogPath         string        `mapstructure:"log_path"`
	UI              UIConfig      `mapstructure:"ui"`
}

// CANConfig are the fixed parameters the Bus Manager (C1) opens its
// interface with (spec §4.1: "fixed parameters ... no dynamic
// reconfiguration during a run").
type CANConfig struct {
	Interface   string `mapstructure:"interface"`
	Channel     string `mapstructure:"channel"`
	Bitrate     int    `mapstructure:"bitrate"`
	DataBitrate int    `mapstructure:"data_bitrate"`
	FDEnable    bool   `mapstructure:"fd_enable"`
	ReceiveOwn  bool   `mapstructure:"receive_own"`
}

// UIConfig mirrors the operator-console-facing fields spec §6 lists,
// even though the console itself is out of scope: group count and
// slots-per-group size the per-group tables, the rest feed directly into
// Group.Config.
type UIConfig struct {
	GroupCount           int           `mapstructure:"group_count"`
	SlotsPerGroup        int           `mapstructure:"slots_per_group"`
	SlotRefreshInterval  time.Duration `mapstructure:"slot_refresh_interval"`
	NonRecoverableStatus []int         `mapstructure:"non_recoverable_status"`
	AlarmDelaySeconds    int           `mapstructure:"alarm_delay_seconds"`
	ChannelRemap         bool          `mapstructure:"channel_remap"`
}

// RangeConfig is an inclusive [Min,Max] bound as read from a document.
type RangeConfig struct {
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

// ProjectConfig is the per-project half of §6's configuration split.
type ProjectConfig struct {
	Name             string            `mapstructure:"name"`
	VoltageRange     RangeConfig       `mapstructure:"voltage_range"`
	CurrentRange     RangeConfig       `mapstructure:"current_range"`
	AgingHourOptions []float64         `mapstructure:"aging_hour_options"`
	AgingHourDefault float64           `mapstructure:"aging_hour_default"`
	DBCPath          string            `mapstructure:"dbc_path"`
	DLLPath          string            `mapstructure:"dll_path"`
	TxMessages       []TxMessageConfig `mapstructure:"tx_messages"`
	RxMessages       []RxMessageConfig `mapstructure:"rx_messages"`
	SwitchPayloads   SwitchPayloads    `mapstructure:"switch_payloads"`
	Diagnostic       DiagnosticConfig  `mapstructure:"diagnostic"`
}

// TxMessageConfig is one project-configured periodic TX message.
type TxMessageConfig struct {
	Name           string             `mapstructure:"name"`
	MsgID          uint32             `mapstructure:"msg_id"`
	Interval       time.Duration      `mapstructure:"interval"`
	DefaultSignals map[string]float64 `mapstructure:"default_signals"`
}

// RxMessageConfig names an application message the dispatcher decodes
// off the app-rx1/app-rx2 streams.
type RxMessageConfig struct {
	Name  string `mapstructure:"name"`
	MsgID uint32 `mapstructure:"msg_id"`
}

// SwitchPayloads holds the round-robin payload lists for the two default
// periodic-switching jobs (spec §4.7).
type SwitchPayloads struct {
	Msg1Enabled  bool                 `mapstructure:"msg1_enabled"`
	Msg1Interval time.Duration        `mapstructure:"msg1_interval"`
	Msg1         []map[string]float64 `mapstructure:"msg1"`
	Msg2Enabled  bool                 `mapstructure:"msg2_enabled"`
	Msg2Interval time.Duration        `mapstructure:"msg2_interval"`
	Msg2         []map[string]float64 `mapstructure:"msg2"`
}

// DiagnosticConfig is the project's diagnostic section (spec §6).
type DiagnosticConfig struct {
	PhyTx                 int              `mapstructure:"phy_tx"`
	PhyRx                 int              `mapstructure:"phy_rx"`
	SecurityFeedbackBytes int              `mapstructure:"security_feedback_bytes"`
	DIDs                  []DIDEntryConfig `mapstructure:"dids"`
	ISOTP                 ISOTPConfig      `mapstructure:"isotp"`
	UDSClient             UDSClientConfig  `mapstructure:"uds_client"`
	PeriodicDTCRead       PeriodicTiming   `mapstructure:"periodic_dtc_read"`
	PeriodicDiag          PeriodicTiming   `mapstructure:"periodic_diag"`
}

// DIDEntryConfig is one row of the project's DID table.
type DIDEntryConfig struct {
	ID        uint16 `mapstructure:"id"`
	Size      int    `mapstructure:"size"`
	Type      string `mapstructure:"type"`
	Operation string `mapstructure:"operation"`
	Value     any    `mapstructure:"value"`
	Padding   int    `mapstructure:"padding"`
}

// ISOTPConfig is the project's ISO-TP tuning (spec §4.6, §6).
type ISOTPConfig struct {
	BlockSize    int `mapstructure:"block_size"`
	STminMs      int `mapstructure:"st_min_ms"`
	FCTimeoutMs  int `mapstructure:"fc_timeout_ms"`
	PaddingByte  int `mapstructure:"padding_byte"`
	MaxFrameSize int `mapstructure:"max_frame_size"`
}

// UDSClientConfig is the project's UDS client parameters.
type UDSClientConfig struct {
	RequestTimeoutMs int `mapstructure:"request_timeout_ms"`
	SecurityLevel    int `mapstructure:"security_level"`
}

// PeriodicTiming is the (interval, rediag_interval) pair shared by the
// periodic-DTC-read and periodic-diag project sections.
type PeriodicTiming struct {
	IntervalSeconds       float64 `mapstructure:"interval_seconds"`
	RediagIntervalSeconds float64 `mapstructure:"rediag_interval_seconds"`
}

// Load reads a structured document at path (any format Viper supports:
// YAML, INI, JSON, TOML) into out via mapstructure tags.
func Load(path string, out any) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return nil
}

// LoadFunctionConfig loads the function-config document.
func LoadFunctionConfig(path string) (FunctionConfig, error) {
	var cfg FunctionConfig
	err := Load(path, &cfg)
	return cfg, err
}

// LoadProjectConfig loads the project-config document.
func LoadProjectConfig(path string) (ProjectConfig, error) {
	var cfg ProjectConfig
	err := Load(path, &cfg)
	return cfg, err
}

// Thresholds converts the project's voltage/current ranges plus the
// function config's dark-current threshold into status.Thresholds.
func (p ProjectConfig) Thresholds(darkCurrent float64) status.Thresholds {
	return status.Thresholds{
		Voltage:     status.Range{Min: p.VoltageRange.Min, Max: p.VoltageRange.Max},
		Current:     status.Range{Min: p.CurrentRange.Min, Max: p.CurrentRange.Max},
		DarkCurrent: darkCurrent,
	}
}

// NonRecoverableSet converts the UI config's status list into a
// status.LatchSet.
func (u UIConfig) NonRecoverableSet() status.LatchSet {
	codes := make([]status.Code, 0, len(u.NonRecoverableStatus))
	for _, n := range u.NonRecoverableStatus {
		codes = append(codes, status.Code(n))
	}
	return status.NewLatchSet(codes...)
}

// ISOTPParams converts the project's ISO-TP section into isotp.Params.
func (d DiagnosticConfig) ISOTPParams() isotp.Params {
	p := isotp.DefaultParams
	if d.ISOTP.BlockSize != 0 {
		p.BlockSize = uint8(d.ISOTP.BlockSize)
	}
	if d.ISOTP.STminMs != 0 {
		p.STmin = time.Duration(d.ISOTP.STminMs) * time.Millisecond
	}
	if d.ISOTP.FCTimeoutMs != 0 {
		p.FCTimeout = time.Duration(d.ISOTP.FCTimeoutMs) * time.Millisecond
	}
	if d.ISOTP.PaddingByte != 0 {
		p.PaddingByte = byte(d.ISOTP.PaddingByte)
	}
	if d.ISOTP.MaxFrameSize != 0 {
		p.MaxFrameSize = d.ISOTP.MaxFrameSize
	}
	return p
}

// DIDConfigs converts the project's DID table into uds.DIDConfig values.
func (d DiagnosticConfig) DIDConfigs() []uds.DIDConfig {
	out := make([]uds.DIDConfig, 0, len(d.DIDs))
	for _, entry := range d.DIDs {
		out = append(out, uds.DIDConfig{
			ID:        entry.ID,
			Size:      entry.Size,
			Type:      uds.DIDType(entry.Type),
			Operation: uds.Operation(entry.Operation),
			Value:     entry.Value,
			Padding:   byte(entry.Padding),
		})
	}
	return out
}

// DiagConfig builds a diag.Config skeleton from the project's
// diagnostic section; the caller still supplies N, Security and Logger.
func (d DiagnosticConfig) DiagConfig() diag.Config {
	return diag.Config{
		DIDs:           d.DIDConfigs(),
		ISOTP:          d.ISOTPParams(),
		RequestTimeout: time.Duration(d.UDSClient.RequestTimeoutMs) * time.Millisecond,
	}
}

// Durations converts seconds-based durations to time.Duration.
func (t PeriodicTiming) Durations() (interval, rediag time.Duration) {
	return time.Duration(t.IntervalSeconds * float64(time.Second)),
		time.Duration(t.RediagIntervalSeconds * float64(time.Second))
}
