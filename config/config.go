// Package config loads the engine's runtime tunables (step budget, call
// stack depth, prototype-chain depth, module search roots) from the
// environment, with an optional YAML file overriding individual fields.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

// Engine holds every tunable the interpreter and its driver read at
// startup. Fields left at their zero value fall back to the vm package's
// own defaults (MaxCallStackDepth, MaxSteps unlimited). MaxPrototypeDepth
// is loaded but not applied anywhere: prototype walks always stop at the
// heap package's MaxPrototypeDepth constant.
type Engine struct {
	MaxSteps          int      `env:"KESTREL_MAX_STEPS" yaml:"maxSteps"`
	MaxCallStackDepth int      `env:"KESTREL_MAX_CALL_STACK_DEPTH" yaml:"maxCallStackDepth"`
	MaxPrototypeDepth int      `env:"KESTREL_MAX_PROTOTYPE_DEPTH" envDefault:"100" yaml:"maxPrototypeDepth"`
	ModuleRoots       []string `env:"KESTREL_MODULE_ROOTS" envSeparator:":" yaml:"moduleRoots"`
}

// Load reads Engine fields from the environment, then, if path is
// non-empty, parses it as YAML and overwrites every field the file sets
// explicitly (zero-value YAML fields never clobber an env-sourced value,
// since yaml.Unmarshal only touches keys present in the document).
func Load(path string) (Engine, error) {
	var e Engine
	if err := env.Parse(&e); err != nil {
		return Engine{}, fmt.Errorf("config: %w", err)
	}
	if path == "" {
		return e, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Engine{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &e); err != nil {
		return Engine{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return e, nil
}
