package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models agentsim.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Export struct {
		// Collection is the evaluation-case collection file artifacts are
		// appended to. Relative paths resolve against the workspace.
		Collection string `yaml:"collection"`
	} `yaml:"export"`
	Catalog struct {
		// File optionally declares extra agent profiles in YAML. Tools from
		// file-declared profiles have no handlers and echo their arguments.
		File string `yaml:"file"`
		// Demo controls registration of the built-in demo agents.
		Demo bool `yaml:"demo"`
	} `yaml:"catalog"`
	Workspace string `yaml:"-"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with asim config init", path)
		}
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, err
	}
	cfg.Workspace = workspace
	return cfg, nil
}

// LoadOptional returns the default config if no file exists in workspace.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(workspace), nil
		}
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, err
	}
	cfg.Workspace = workspace
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Export.Collection == "" {
		return fmt.Errorf("config.export.collection is required")
	}
	return nil
}

// CollectionPath resolves the export collection file against the workspace.
func (c *Config) CollectionPath() string {
	if filepath.IsAbs(c.Export.Collection) || c.Workspace == "" {
		return c.Export.Collection
	}
	return filepath.Join(c.Workspace, c.Export.Collection)
}

// CatalogPath resolves the optional catalog file against the workspace.
// Returns "" when no catalog file is configured.
func (c *Config) CatalogPath() string {
	if c.Catalog.File == "" || filepath.IsAbs(c.Catalog.File) || c.Workspace == "" {
		return c.Catalog.File
	}
	return filepath.Join(c.Workspace, c.Catalog.File)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "agentsim.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct for a workspace.
func Default(workspace string) *Config {
	if workspace == "" {
		workspace = "."
	}
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	cfg.Workspace = workspace
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0

export:
  collection: evalcases.json

catalog:
  demo: true
`
