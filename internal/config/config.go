// Package config loads the pipeline configuration from a JSON file. The
// loaded struct is passed explicitly into each stage; nothing reads
// configuration from package-level state.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"sgpetl/internal/warehouse"
)

// Source points at the operational database records are extracted from.
type Source struct {
	// Driver is the database/sql driver name: "pgx", "sqlserver" or
	// "sqlite".
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// Metrics configures the optional Datadog backend. With Enabled false (or
// no DD_API_KEY in the environment) the pipeline runs with a nop backend.
type Metrics struct {
	Enabled    bool     `json:"enabled"`
	JobName    string   `json:"job_name,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	FlushEvery string   `json:"flush_every,omitempty"`
}

// Config is the full pipeline configuration.
type Config struct {
	Source    Source           `json:"source"`
	Warehouse warehouse.Config `json:"warehouse"`

	// Incremental narrows project extraction by the stored watermark.
	Incremental   bool   `json:"incremental,omitempty"`
	WatermarkPath string `json:"watermark_path,omitempty"`

	// MinRiskTypes is the readiness threshold for the risk-type catalog.
	MinRiskTypes int `json:"min_risk_types,omitempty"`

	Metrics Metrics `json:"metrics,omitempty"`
}

// Load reads, expands and validates a config file. ${VAR} references in
// string values are expanded from the environment before parsing, so DSNs
// can carry credentials without writing them to disk.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	dec := json.NewDecoder(strings.NewReader(expanded))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.WatermarkPath == "" {
		c.WatermarkPath = "etl_watermark.json"
	}
	if c.MinRiskTypes <= 0 {
		c.MinRiskTypes = 1
	}
	if c.Metrics.JobName == "" {
		c.Metrics.JobName = "sgp-etl"
	}
}

// Validate checks the fields the pipeline cannot run without.
func (c *Config) Validate() error {
	switch c.Source.Driver {
	case "pgx", "sqlserver", "sqlite":
	case "":
		return fmt.Errorf("missing source.driver")
	default:
		return fmt.Errorf("unsupported source.driver %q", c.Source.Driver)
	}
	if c.Source.DSN == "" {
		return fmt.Errorf("missing source.dsn")
	}
	if c.Warehouse.Kind == "" {
		return fmt.Errorf("missing warehouse.kind")
	}
	if c.Warehouse.DSN == "" {
		return fmt.Errorf("missing warehouse.dsn")
	}
	return nil
}
