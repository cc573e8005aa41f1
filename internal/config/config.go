/**
 * Configuration Definitions.
 *
 * Defines the JSON configuration structures for the analyzer: capture
 * settings, replay settings, analysis tuning, storage, GeoIP, and the
 * API server. Invalid values fail at load, before the pipeline starts.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kleaSCM/gapscope/internal/capture"
	"github.com/kleaSCM/gapscope/internal/models"
)

// Top-level application configuration.
type Config struct {
	Capture  CaptureConfig  `json:"capture"`
	Replay   ReplayConfig   `json:"replay"`
	Analysis AnalysisConfig `json:"analysis"`
	Storage  StorageConfig  `json:"storage"`
	GeoIP    GeoIPConfig    `json:"geoip"`
	Server   ServerConfig   `json:"server"`
}

// Live capture settings.
type CaptureConfig struct {
	Interface   string `json:"interface"`
	SnapLen     int32  `json:"snaplen"`
	Promiscuous bool   `json:"promiscuous"`
	BufferMB    int    `json:"buffer_mb"`
	BPFFilter   string `json:"bpf_filter"`
}

// Replay settings. Mode is one of "fast", "original", "fixed",
// "speed".
type ReplayConfig struct {
	Mode       string  `json:"mode"`
	PPS        uint64  `json:"pps"`
	Multiplier float64 `json:"multiplier"`
	Loop       bool    `json:"loop"`
}

// Analysis tuning.
type AnalysisConfig struct {
	ReorderWindow          int    `json:"reorder_window"`
	PersistIntervalSecs    int    `json:"persist_interval_secs"`
	PersistPacketThreshold uint64 `json:"persist_packet_threshold"`
	Debug                  bool   `json:"debug"`
}

// PersistInterval converts the configured seconds to a duration.
func (c AnalysisConfig) PersistInterval() time.Duration {
	return time.Duration(c.PersistIntervalSecs) * time.Second
}

// Storage settings.
type StorageConfig struct {
	Path string `json:"path"`
}

// GeoIP database locations; both optional.
type GeoIPConfig struct {
	CityDB string `json:"city_db"`
	ASNDB  string `json:"asn_db"`
}

// REST server settings.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Load reads a JSON configuration file and merges it over the
// defaults. An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks all fields that can fail at startup.
func (c *Config) Validate() error {
	if _, err := c.ReplayMode(); err != nil {
		return err
	}
	if c.Analysis.ReorderWindow < 0 {
		return fmt.Errorf("%w: reorder_window must be >= 0", models.ErrInvalidConfig)
	}
	if c.Analysis.PersistIntervalSecs < 0 {
		return fmt.Errorf("%w: persist_interval_secs must be >= 0", models.ErrInvalidConfig)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d out of range", models.ErrInvalidConfig, c.Server.Port)
	}
	return nil
}

// ReplayMode maps the configured mode string to a validated capture
// replay configuration.
func (c *Config) ReplayMode() (capture.ReplayConfig, error) {
	rc := capture.ReplayConfig{
		PPS:        c.Replay.PPS,
		Multiplier: c.Replay.Multiplier,
		Loop:       c.Replay.Loop,
	}

	switch c.Replay.Mode {
	case "", "fast":
		rc.Mode = capture.ReplayFast
	case "original":
		rc.Mode = capture.ReplayOriginalTiming
	case "fixed":
		rc.Mode = capture.ReplayFixedRate
	case "speed":
		rc.Mode = capture.ReplaySpeedMultiplier
	default:
		return rc, fmt.Errorf("%w: unknown replay mode %q", models.ErrInvalidConfig, c.Replay.Mode)
	}

	if err := rc.Validate(); err != nil {
		return rc, err
	}
	return rc, nil
}

// LiveConfig maps the capture section onto the live capture source
// configuration.
func (c *Config) LiveConfig(iface string) *capture.LiveConfig {
	lc := capture.DefaultLiveConfig(iface)
	if c.Capture.SnapLen > 0 {
		lc.SnapLen = c.Capture.SnapLen
	}
	lc.Promiscuous = c.Capture.Promiscuous
	if c.Capture.BufferMB > 0 {
		lc.BufferMB = c.Capture.BufferMB
	}
	lc.BPFFilter = c.Capture.BPFFilter
	return lc
}
