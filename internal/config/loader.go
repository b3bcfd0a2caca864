// Package config loads genied settings from YAML, JSON or TOML files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"genied/internal/common/fsutil"
	"genied/internal/engine"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by Defaults.
type Config struct {
	Addr             string   `json:"addr" yaml:"addr" toml:"addr"`
	WorkDir          string   `json:"work_dir" yaml:"work_dir" toml:"work_dir"`
	PersistentBinary string   `json:"persistent_binary" yaml:"persistent_binary" toml:"persistent_binary"`
	OneShotBinary    string   `json:"one_shot_binary" yaml:"one_shot_binary" toml:"one_shot_binary"`
	GenieConfig      string   `json:"genie_config" yaml:"genie_config" toml:"genie_config"`
	ReadyTimeoutMS   int      `json:"ready_timeout_ms" yaml:"ready_timeout_ms" toml:"ready_timeout_ms"`
	LineTimeoutMS    int      `json:"line_timeout_ms" yaml:"line_timeout_ms" toml:"line_timeout_ms"`
	DBPath           string   `json:"db_path" yaml:"db_path" toml:"db_path"`
	LogLevel         string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	HistoryCapacity  int      `json:"history_capacity" yaml:"history_capacity" toml:"history_capacity"`
	CORSOrigins      []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	MaxBodyBytes     int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return cfg, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(p)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Addr:             "127.0.0.1:8080",
		WorkDir:          ".",
		PersistentBinary: engine.DefaultPersistentBinary,
		OneShotBinary:    engine.DefaultOneShotBinary,
		GenieConfig:      engine.DefaultConfigFile,
		ReadyTimeoutMS:   int(engine.DefaultReadyTimeout / time.Millisecond),
		DBPath:           "~/.genied/sessions.db",
		LogLevel:         "info",
		HistoryCapacity:  6,
		MaxBodyBytes:     1 << 20,
	}
}

// Merge returns c with every zero field taken from def.
func (c Config) Merge(def Config) Config {
	str := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	str(&c.Addr, def.Addr)
	str(&c.WorkDir, def.WorkDir)
	str(&c.PersistentBinary, def.PersistentBinary)
	str(&c.OneShotBinary, def.OneShotBinary)
	str(&c.GenieConfig, def.GenieConfig)
	str(&c.DBPath, def.DBPath)
	str(&c.LogLevel, def.LogLevel)
	if c.ReadyTimeoutMS == 0 {
		c.ReadyTimeoutMS = def.ReadyTimeoutMS
	}
	if c.LineTimeoutMS == 0 {
		c.LineTimeoutMS = def.LineTimeoutMS
	}
	if c.HistoryCapacity == 0 {
		c.HistoryCapacity = def.HistoryCapacity
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = append([]string(nil), def.CORSOrigins...)
	}
	return c
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	if c.ReadyTimeoutMS < 0 || c.LineTimeoutMS < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.HistoryCapacity < 0 {
		return fmt.Errorf("history_capacity must not be negative")
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes must not be negative")
	}
	return nil
}

// ResolvePaths expands "~" in paths and makes WorkDir absolute.
func (c Config) ResolvePaths() (Config, error) {
	var err error
	if c.WorkDir, err = fsutil.ExpandHome(c.WorkDir); err != nil {
		return c, err
	}
	if c.WorkDir, err = filepath.Abs(c.WorkDir); err != nil {
		return c, err
	}
	if c.DBPath != ":memory:" {
		if c.DBPath, err = fsutil.ExpandHome(c.DBPath); err != nil {
			return c, err
		}
	}
	return c, nil
}

// Engine maps the configuration onto engine settings.
func (c Config) Engine() engine.Config {
	return engine.Config{
		WorkDir:          c.WorkDir,
		PersistentBinary: c.PersistentBinary,
		OneShotBinary:    c.OneShotBinary,
		ConfigFile:       c.GenieConfig,
		ReadyTimeout:     time.Duration(c.ReadyTimeoutMS) * time.Millisecond,
		LineTimeout:      time.Duration(c.LineTimeoutMS) * time.Millisecond,
	}
}
