// Package config holds the engine's tunable settings. A Config value is
// built once and injected into the components that need it; the engine
// never reads ambient global state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"
)

// Config collects every knob the connection and automation layers accept.
// The zero value is not useful; start from Default and override.
type Config struct {
	// CommandDelimiter separates stacked commands inside a single rule
	// command template ("n;e;look" is three commands with the default).
	CommandDelimiter string `toml:"command_delimiter"`

	// TermType is the terminal name reported during TTYPE negotiation.
	TermType string `toml:"term_type"`

	// Charsets is the decode preference chain for incoming bytes, tried
	// in order until one produces valid text. Servers in the wild are
	// overwhelmingly 8-bit legacy encodings, so UTF-8 leads only because
	// it is self-validating.
	Charsets []string `toml:"charsets"`

	// ExtendedBrightAliases honors the nonstandard SGR ranges 36-43 and
	// 46-53 as bright color aliases. This miscolors servers that send
	// standard cyan/white codes, but matches the dialect some servers
	// assume. See style.Processor.
	ExtendedBrightAliases bool `toml:"extended_bright_aliases"`

	// KeepAliveInterval is the probe cadence while the host is foregrounded.
	KeepAliveInterval time.Duration `toml:"keep_alive_interval"`

	// BackgroundKeepAliveFloor is the shortest adaptive probe interval
	// used while the host is backgrounded.
	BackgroundKeepAliveFloor time.Duration `toml:"background_keep_alive_floor"`

	// SilenceWindow forces a reconnect when no data has arrived for this long.
	SilenceWindow time.Duration `toml:"silence_window"`

	// ProbeFailureLimit is the number of consecutive failed keep-alive
	// probes tolerated before forcing a reconnect.
	ProbeFailureLimit int `toml:"probe_failure_limit"`

	// ReconnectBackoffCap bounds the exponential reconnect backoff.
	ReconnectBackoffCap time.Duration `toml:"reconnect_backoff_cap"`

	// BatchWindow is how long processed fragments accumulate before being
	// flushed to the renderer in one delivery.
	BatchWindow time.Duration `toml:"batch_window"`

	// BatchLimit flushes the fragment batch early once it holds this many
	// fragments, keeping flushes deterministic under continuous input.
	BatchLimit int `toml:"batch_limit"`

	// AutoReconnect re-establishes the session after transport failures.
	AutoReconnect bool `toml:"auto_reconnect"`
}

// Default returns the settings the engine ships with.
func Default() Config {
	return Config{
		CommandDelimiter:         ";",
		TermType:                 "xterm-256color",
		Charsets:                 []string{"UTF-8", "US-ASCII", "ISO-8859-1", "Windows-1252", "UTF-16", "Mac-Roman"},
		ExtendedBrightAliases:    true,
		KeepAliveInterval:        30 * time.Second,
		BackgroundKeepAliveFloor: 5 * time.Second,
		SilenceWindow:            120 * time.Second,
		ProbeFailureLimit:        2,
		ReconnectBackoffCap:      10 * time.Second,
		BatchWindow:              50 * time.Millisecond,
		BatchLimit:               256,
		AutoReconnect:            true,
	}
}

// DefaultPath returns the standard location of the config file.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "mudlark", "config.toml")
}

// Load reads a TOML config file, layering it over Default. A missing
// file is not an error: the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	} else if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if cfg.CommandDelimiter == "" {
		cfg.CommandDelimiter = ";"
	}

	return cfg, nil
}
