package core

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Telegram TelegramConfig             `json:"telegram"`
	Logging  LoggingConfig              `json:"logging"`
	Catalog  CatalogConfig              `json:"catalog"`
	Daily    DailyConfig                `json:"daily"`
	Storage  StorageConfig              `json:"storage"`
	Metrics  MetricsConfig              `json:"metrics"`
	Plugins  map[string]PluginConfigRaw `json:"plugins"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}
type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// CatalogConfig points at the spreadsheet-backed formula datastore.
type CatalogConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	// Timeout is a Go duration string for one HTTP request.
	Timeout  string `json:"timeout"`
	RetryMax int    `json:"retry_max"`
}

// DailyConfig drives the daily notification loop.
type DailyConfig struct {
	Enabled bool  `json:"enabled"`
	ChatID  int64 `json:"chat_id"`
	// At is the fire time "HH:MM" in Timezone.
	At       string `json:"at"`
	Timezone string `json:"timezone,omitempty"`
	// Grace and RetryDelay are Go duration strings.
	Grace      string `json:"grace,omitempty"`
	RetryDelay string `json:"retry_delay,omitempty"`
	// Window is "day" or "since".
	Window string `json:"window,omitempty"`
	// Mode is "each" or "summary".
	Mode         string `json:"mode,omitempty"`
	SummaryLimit int    `json:"summary_limit,omitempty"`
	MaxImages    int    `json:"max_images,omitempty"`
	SendDelay    string `json:"send_delay,omitempty"`
}

type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen,omitempty"`
}

type PluginConfigRaw struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields so removed legacy keys are
// caught early during config reload.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw{Enabled: t.Enabled, Config: t.Config}
	return nil
}
