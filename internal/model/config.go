package model

import (
	"io"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

// OS identifiers accepted by the memory-analysis plugin set.
const (
	OSWindows = "windows"
	OSLinux   = "linux"
	OSMac     = "mac"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version int     `json:"version"` // fixed 0 for now
	Tools   string  `json:"tools"`   // tool executables root
	Output  string  `json:"output"`  // artifact output root
	Memory  Memory  `json:"memory"`
	Status  *Status `json:"status,omitempty"`
	Log     Log     `json:"log"`
}

// Memory-analysis batch settings.
type Memory struct {
	Concurrency int    `json:"concurrency"`
	OS          string `json:"os"`
}

// Status progress endpoint settings.
type Status struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// Log settings. File, when set, duplicates log records into a file.
type Log struct {
	Verbose bool   `json:"verbose"`
	File    string `json:"file,omitempty"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	return Config{
		Version: 0,
		Tools:   "tools",
		Output:  "Output",
		Memory: Memory{
			Concurrency: 4,
			OS:          OSWindows,
		},
		Log: Log{},
	}
}

// LoadConfig validates YAML from r against the CUE schema and decodes to
// Config.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}

	return &out, nil
}
