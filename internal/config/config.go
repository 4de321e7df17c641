// Package config loads the Manager's tunables from an optional YAML
// file, layered under built-in defaults and overridden by CLI flags.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Manager holds every tunable the spec leaves "configurable" or
// "approximate" (scheduler/health-monitor cadence, dial timeout, ports,
// log level). Fields absent from the YAML file keep their Defaults()
// values; a field set explicitly in the file, including to zero, is used
// as given.
type Manager struct {
	Port              int           `yaml:"port"`
	StatusPort        int           `yaml:"status_port"`
	MetricsPort       int           `yaml:"metrics_port"`
	SchedulerInterval time.Duration `yaml:"scheduler_interval"`
	HealthInterval    time.Duration `yaml:"health_interval"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	LogLevel          string        `yaml:"log_level"`
	LogJSON           bool          `yaml:"log_json"`
	LogFile           string        `yaml:"log_file"`
}

// Defaults returns the built-in configuration spec.md names explicitly:
// port 5000, status port 6000, ~200ms scheduler tick, ~10s health tick,
// manager.log on disk.
func Defaults() Manager {
	return Manager{
		Port:              5000,
		StatusPort:        6000,
		MetricsPort:       9090,
		SchedulerInterval: 200 * time.Millisecond,
		HealthInterval:    10 * time.Second,
		DialTimeout:       2 * time.Second,
		LogLevel:          "info",
		LogJSON:           false,
		LogFile:           "manager.log",
	}
}

// Load reads a YAML file at path and merges it over Defaults(). An empty
// path, or a path that does not exist, returns Defaults() unchanged.
func Load(path string) (Manager, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
