package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the config file looked up in the working directory
// when --config is not given.
const DefaultConfigFile = "strata.yaml"

// Config is the file-backed configuration. Flags override file values.
type Config struct {
	// Dialect is the database dialect, "mysql" or "sqlite".
	Dialect string `yaml:"dialect"`
	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn"`
	// Debug enables statement logging on the driver.
	Debug bool `yaml:"debug"`
	// Dir is the directory generated migration units are written into.
	Dir string `yaml:"dir"`
	// Package is the package name of generated units. Defaults to the
	// base name of Dir.
	Package string `yaml:"package"`
}

// LoadConfig reads the YAML config at path. A missing file is only an error
// when the path was set explicitly.
func LoadConfig(path string, explicit bool) (*Config, error) {
	cfg := &Config{Dir: "migrations"}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("strata: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("strata: parse config %s: %w", path, err)
	}
	return cfg, nil
}
