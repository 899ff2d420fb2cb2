package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v3"
)

type Config struct {
	LogLines  int    `yaml:"log_lines,omitempty" json:"log_lines,omitempty"`
	LogsDir   string `yaml:"logs_dir,omitempty" json:"logs_dir,omitempty"`
	RecentDir string `yaml:"recent_dir,omitempty" json:"recent_dir,omitempty"`
	OutputDir string `yaml:"output_dir,omitempty" json:"output_dir,omitempty"`
	// UDPMTU is the default payload limit of message oriented caps.
	UDPMTU   int  `yaml:"udp_mtu,omitempty" json:"udp_mtu,omitempty"`
	Compress bool `yaml:"compress,omitempty" json:"compress,omitempty"`
	Pretty   bool `yaml:"pretty,omitempty" json:"pretty,omitempty"`
}

const (
	defaultLogLines  = 1000
	defaultLogsDir   = "logs"
	defaultRecentDir = "recent"
	defaultOutputDir = "."
)

var (
	defaultConfig *Config
	once          sync.Once
)

func Default() *Config {
	return &Config{
		LogLines:  defaultLogLines,
		LogsDir:   defaultLogsDir,
		RecentDir: defaultRecentDir,
		OutputDir: defaultOutputDir,
	}
}

// SearchPaths are tried in order when Load is given no path.
func SearchPaths() []string {
	home := filepath.Join(os.Getenv("HOME"), ".config", "flowc")
	return []string{
		"flowc.json",
		".flowc.json",
		"flowc.yaml",
		filepath.Join(home, "config.json"),
		filepath.Join(home, "config.yaml"),
	}
}

// Load reads a JSON or YAML config, chosen by extension. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		for _, p := range SearchPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %s", path)
	}
	return cfg, nil
}

// Parse decodes a config; ext selects YAML for ".yaml" and ".yml", JSON
// otherwise.
func Parse(data []byte, ext string) (*Config, error) {
	cfg := Default()
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults replaces zero values and rejects negative ones.
func (c *Config) applyDefaults() error {
	if c.UDPMTU < 0 {
		return errors.Errorf("udp_mtu must not be negative, got %d", c.UDPMTU)
	}
	if c.LogLines <= 0 {
		c.LogLines = defaultLogLines
	}
	if c.LogsDir == "" {
		c.LogsDir = defaultLogsDir
	}
	if c.RecentDir == "" {
		c.RecentDir = defaultRecentDir
	}
	if c.OutputDir == "" {
		c.OutputDir = defaultOutputDir
	}
	return nil
}

// LoadDefault loads the config once and caches it
func LoadDefault() (*Config, error) {
	var err error
	once.Do(func() {
		defaultConfig, err = Load("")
	})
	if err != nil {
		return Default(), err
	}
	if defaultConfig == nil {
		return Default(), nil
	}
	return defaultConfig, nil
}

// SetDefault makes cfg the result of later LoadDefault calls. It has no
// effect once LoadDefault has run.
func SetDefault(cfg *Config) {
	once.Do(func() {
		defaultConfig = cfg
	})
}
