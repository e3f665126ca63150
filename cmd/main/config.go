package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
)

// Config holds the CLI configuration: where the database lives, how chatty
// the logger is, and the defaults for training and generation flags.
type Config struct {
	DataDir      string  `json:"data_dir"`
	DatabasePath string  `json:"database_path"`
	LogLevel     string  `json:"log_level"`
	ModelName    string  `json:"model_name"`
	WindowSize   int     `json:"window_size"`
	MaxChars     int     `json:"max_chars"`
	Temperature  float64 `json:"temperature"`
	TopK         int     `json:"top_k"`
}

// DefaultConfig creates a configuration with default values. Temperature 0
// keeps the greedy decoding baseline; sampling is an explicit opt-in.
func DefaultConfig() *Config {
	return &Config{
		DataDir:      "./data",
		DatabasePath: "./data/artml.db?_journal_mode=WAL&_busy_timeout=5000",
		LogLevel:     "info",
		ModelName:    "jokes",
		WindowSize:   10,
		MaxChars:     256,
		Temperature:  0,
		TopK:         0,
	}
}

// LoadConfig reads the configuration from a JSON file at the given path.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		// If the file doesn't exist, create it with the default config.
		if os.IsNotExist(err) {
			var data []byte
			data, err = json.MarshalIndent(config, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// Log a warning instead of failing, as the CLI can still run with defaults.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}
