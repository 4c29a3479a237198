package registry

import (
	"bytes"
	"os"

	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// Run-level declaration consumed by the orchestrator.
//
// Artifact is the filename each target's build is expected to produce,
// split into base and extension when the target name is embedded (e.g.
// "app.bin" collects as "app.<target>.bin"). Source is the default source
// location and may be overridden on the command line.
type Config struct {
	Artifact string   `yaml:"artifact"`
	Source   string   `yaml:"source"`
	Targets  []Target `yaml:"targets"`
}

// Reads and parses a target declaration file.
//
// The file is YAML. Parsing is strict: unknown fields are rejected so that
// a typo in a target declaration fails loudly instead of silently dropping
// the field.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, zerr.Wrap(err, "failed to read target configuration")
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, zerr.Wrap(err, "failed to parse target configuration")
	}

	return cfg, nil
}
