package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// GlobalConfigDir is the directory under the user config dir holding the
// global config file.
const GlobalConfigDir = "relayd"

// LocalConfigFileNames are the names searched for in the working directory, in order.
var LocalConfigFileNames = []string{"relayd.yaml", "relayd.yml", ".relaydrc.yaml", ".relaydrc.yml"}

// GlobalConfigFileNames are the names searched for in the global config dir, in order.
var GlobalConfigFileNames = []string{"config.yaml", "config.yml"}

// ConfigError is a configuration file error with location info.
type ConfigError struct {
	Path    string
	Line    int
	Message string
}

func (e *ConfigError) Error() string {
	if e.Line > 0 {
		return e.Path + " (line " + strconv.Itoa(e.Line) + "): " + e.Message
	}
	return e.Path + ": " + e.Message
}

// newConfigError lifts the line number out of the first yaml type error.
func newConfigError(path string, err error) *ConfigError {
	var te *yaml.TypeError
	if errors.As(err, &te) && len(te.Errors) > 0 {
		msg := te.Errors[0]
		var line int
		if _, scanErr := fmt.Sscanf(msg, "line %d:", &line); scanErr == nil {
			if i := strings.Index(msg, ": "); i >= 0 {
				msg = msg[i+2:]
			}
			return &ConfigError{Path: path, Line: line, Message: msg}
		}
	}
	return &ConfigError{Path: path, Message: err.Error()}
}

// FindLocalConfig returns the first local config file in dir, or "" if none exists.
func FindLocalConfig(dir string) string {
	for _, name := range LocalConfigFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// FindGlobalConfig returns the path to the global config file, or "" if
// there is none.
func FindGlobalConfig() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	for _, name := range GlobalConfigFileNames {
		path := filepath.Join(configDir, GlobalConfigDir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// LoadFile reads a YAML file over cfg. Keys absent from the file keep their
// current values; keys present are recorded in cfg.Sources with source.
// Unknown keys are an error.
func LoadFile(cfg *Config, path, source string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return newConfigError(path, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return &ConfigError{Path: path, Message: err.Error()}
	}
	if cfg.Sources == nil {
		cfg.Sources = make(map[string]string)
	}
	for _, key := range setKeys(&doc, "") {
		if _, ok := lookupField(key); ok {
			cfg.Sources[key] = source
		}
	}
	cfg.Files = append(cfg.Files, path)
	return nil
}

// setKeys flattens the mapping keys present in n into dotted names.
func setKeys(n *yaml.Node, prefix string) []string {
	switch n.Kind {
	case yaml.DocumentNode:
		var out []string
		for _, c := range n.Content {
			out = append(out, setKeys(c, prefix)...)
		}
		return out
	case yaml.MappingNode:
		var out []string
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			name := prefix + k.Value
			if v.Kind == yaml.MappingNode {
				out = append(out, setKeys(v, name+".")...)
				continue
			}
			out = append(out, name)
		}
		return out
	default:
		return nil
	}
}

// LoadEnv applies RELAYD_* variables found by lookup. All parse errors are
// reported together.
func LoadEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs []error
	for _, f := range fields {
		v, ok := lookup(EnvPrefix + f.env)
		if !ok {
			continue
		}
		if err := cfg.Set(f.key, v, SourceEnv); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, f.env, err))
		}
	}
	return errors.Join(errs...)
}

// LoadOptions controls Load.
type LoadOptions struct {
	// File is an explicit config file. It must exist. When empty, the
	// working directory is searched.
	File string

	// Dir is the directory searched for a local config. Defaults to the
	// working directory.
	Dir string

	// SkipGlobal disables the global config file.
	SkipGlobal bool

	// Lookup reads environment variables. Defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// Load builds a Config from defaults, the global file, the local or
// explicit file and the environment, in that order. Flags are applied
// afterwards by the caller with Set.
func Load(opts LoadOptions) (*Config, error) {
	cfg := NewDefault()

	if !opts.SkipGlobal {
		if path := FindGlobalConfig(); path != "" {
			if err := LoadFile(cfg, path, SourceGlobal); err != nil {
				return nil, err
			}
		}
	}

	path := opts.File
	if path == "" {
		dir := opts.Dir
		if dir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return nil, err
			}
			dir = wd
		}
		path = FindLocalConfig(dir)
	}
	if path != "" {
		if err := LoadFile(cfg, path, SourceFile); err != nil {
			return nil, err
		}
	}

	if err := LoadEnv(cfg, opts.Lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}
