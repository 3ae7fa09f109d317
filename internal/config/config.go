/*
PURPOSE:
  Defines the configuration structure and loading logic for Ollama Sweep.
  Adheres to "Config IS Code" philosophy.

REQUIREMENTS:
  User-specified:
  - Allow configuration of target host, model, timeouts, sweep lists,
    repetition counts and output paths.

  Implementation-discovered:
  - Needs to support YAML parsing.
  - Every knob the CLI exposes must live here so the controller receives
    one explicit configuration object and no package-level defaults.

ARCHITECTURE INTEGRATION:
  - Used by: internal/cli, internal/engine, internal/sweep
  - Dependencies: gopkg.in/yaml.v3 (standard for Go config)

ERROR HANDLING:
  - Returns explicit error if config file is invalid.
  - A missing default file is not an error (defaults apply).

IMPLEMENTATION RULES:
  - Config struct tags should support yaml.
  - Defaults mirror the classic sweep: ctx=4096, num_predict=128,256,
    temp=0,0.4, seed=42, 3 runs, 1 cycle, 1s pause.

USAGE:
  cfg, err := config.Load("ollama_sweep.yaml")

SELF-HEALING INSTRUCTIONS:
  - If new fields are needed, add to Config struct and update Load() defaults.

RELATED FILES:
  - internal/cli/sweep.go

MAINTENANCE:
  - Update when adding new tuning parameters.
*/

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the full configuration for one sweep invocation.
type Config struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`

	Prompt     string `yaml:"prompt"`
	PromptFile string `yaml:"prompt_file"`
	Image      string `yaml:"image"`
	ImageDir   string `yaml:"image_dir"`

	// Sweep parameter lists, comma-separated. Each may be a single value.
	Contexts     string `yaml:"ctx"`
	NumPredicts  string `yaml:"num_predict"`
	Temperatures string `yaml:"temp"`
	Seeds        string `yaml:"seed"`

	TestMode string `yaml:"test_mode"` // both | text | vision

	Runs   int  `yaml:"runs"`
	Cycles int  `yaml:"cycles"`
	Warmup bool `yaml:"warmup"`
	Stream bool `yaml:"stream"`

	Sleep time.Duration `yaml:"sleep"`

	// LoadTimeout covers time-to-first-byte (model loading); CallTimeout
	// covers the full generation after that.
	LoadTimeout time.Duration `yaml:"load_timeout"`
	CallTimeout time.Duration `yaml:"call_timeout"`

	// ProbeTries / ProbeDelay control the startup availability check.
	ProbeTries int           `yaml:"probe_tries"`
	ProbeDelay time.Duration `yaml:"probe_delay"`

	JSONLOutput string `yaml:"jsonl_output"`
	CSVOutput   string `yaml:"csv_output"`

	Telemetry bool `yaml:"telemetry"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:         "http://localhost:11434",
		Model:        "llama3.2-vision:11b",
		Contexts:     "4096",
		NumPredicts:  "128,256",
		Temperatures: "0,0.4",
		Seeds:        "42",
		TestMode:     "both",
		Runs:         3,
		Cycles:       1,
		Sleep:        1 * time.Second,
		LoadTimeout:  120 * time.Second,
		CallTimeout:  600 * time.Second,
		ProbeTries:   10,
		ProbeDelay:   1 * time.Second,
		JSONLOutput:  "sweep_results.jsonl",
		CSVOutput:    "sweep_results.csv",
		Telemetry:    true,
	}
}

// Load reads configuration from a file.
// If path is specified, it attempts to load that file.
// If path is empty, it searches for default files in order.
// If no file found, returns default config.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	var data []byte
	var err error

	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
	} else {
		defaults := []string{"ollama_sweep.yaml", "sweep.yaml"}
		found := false
		for _, name := range defaults {
			data, err = os.ReadFile(name)
			if err == nil {
				path = name // record which file we loaded
				found = true
				break
			}
		}
		if !found {
			return cfg, nil
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}
