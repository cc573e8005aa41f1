/**
 * Configuration Defaults.
 *
 * Sane default values so the analyzer runs out-of-the-box without a
 * configuration file.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package config

// DefaultConfig returns the out-of-the-box configuration.
func DefaultConfig() *Config {
	return &Config{
		Capture: CaptureConfig{
			SnapLen:     65536,
			Promiscuous: true,
			BufferMB:    32,
		},
		Replay: ReplayConfig{
			Mode:       "fast",
			Multiplier: 1.0,
		},
		Analysis: AnalysisConfig{
			ReorderWindow:          32,
			PersistIntervalSecs:    30,
			PersistPacketThreshold: 100000,
		},
		Storage: StorageConfig{
			Path: "gapscope.db",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 3000,
		},
	}
}
