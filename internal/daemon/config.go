package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ─── Daemon configuration ───────────────────────────────────────────────────
// Loaded from ~/.opsbooks/config.toml, falling back to defaults for any
// key the file omits. Writing the file is optional: a missing file means
// "run with defaults".

type Config struct {
	API            APIConfig            `toml:"api"`
	Storage        StorageConfig        `toml:"storage"`
	Reconciliation ReconciliationConfig `toml:"reconciliation"`
	Import         ImportConfig         `toml:"import"`
	Metrics        MetricsConfig        `toml:"metrics"`
}

type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

type ReconciliationConfig struct {
	// Tolerance is the completion gate, in currency units ("0.01").
	Tolerance       string  `toml:"tolerance"`
	DateWindowDays  int     `toml:"date_window_days"`
	HighThreshold   float64 `toml:"high_threshold"`
	MediumThreshold float64 `toml:"medium_threshold"`
}

type ImportConfig struct {
	ChunkSize int `toml:"chunk_size"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8484,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Reconciliation: ReconciliationConfig{
			Tolerance:       "0.01",
			DateWindowDays:  14,
			HighThreshold:   0.75,
			MediumThreshold: 0.45,
		},
		Import: ImportConfig{
			ChunkSize: 200,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

// Load reads the TOML config at path, layered over DefaultConfig.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultConfigPath returns ~/.opsbooks/config.toml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".opsbooks", "config.toml")
	}
	return filepath.Join(home, ".opsbooks", "config.toml")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".opsbooks"
	}
	return filepath.Join(home, ".opsbooks")
}
