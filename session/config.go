package session

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFile reads one settings layer from a YAML file.
//
// Example file:
//
//	model:
//	  provider: openai
//	  model: gpt-4o
//	tools:
//	  sandbox_root: /work/repo
//	  allowed_hosts:
//	    - docs.example.com
//	    - "*.internal.example.com"
//	limits:
//	  max_wall_clock: 10m
//	  max_cost_units: 2.5
func LoadFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings file: %w", err)
	}
	return Parse(data)
}

// Parse decodes one settings layer from YAML.
func Parse(data []byte) (Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings: %w", err)
	}
	return s, nil
}

// UnmarshalYAML decodes limits with human-readable durations like "10m".
func (l *Limits) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxWallClock string  `yaml:"max_wall_clock"`
		MaxCostUnits float64 `yaml:"max_cost_units"`
		MaxDepth     int     `yaml:"max_depth"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.MaxWallClock != "" {
		d, err := time.ParseDuration(raw.MaxWallClock)
		if err != nil {
			return fmt.Errorf("invalid max_wall_clock: %w", err)
		}
		l.MaxWallClock = d
	}
	l.MaxCostUnits = raw.MaxCostUnits
	l.MaxDepth = raw.MaxDepth
	return nil
}
