package engine

import (
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied when corresponding Config fields are unset.
const (
	DefaultPersistentBinary = "genie-app"
	DefaultOneShotBinary    = "genie-t2t-run"
	DefaultConfigFile       = "genie_config.json"
	DefaultReadyTimeout     = 10 * time.Second
)

// Config encapsulates all tunables for Session construction.
type Config struct {
	// WorkDir holds the binaries, their shared libraries and the config file.
	WorkDir          string
	PersistentBinary string
	OneShotBinary    string
	// ConfigFile is passed to both binaries as -c.
	ConfigFile   string
	ReadyTimeout time.Duration
	// LineTimeout bounds each reply line read on the persistent channel.
	// Zero waits indefinitely.
	LineTimeout time.Duration
	// Env entries are added to the environment of both binaries.
	Env       []string
	Logger    *zerolog.Logger
	Publisher EventPublisher
}

func (c Config) withDefaults() Config {
	if c.PersistentBinary == "" {
		c.PersistentBinary = DefaultPersistentBinary
	}
	if c.OneShotBinary == "" {
		c.OneShotBinary = DefaultOneShotBinary
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigFile
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.LineTimeout < 0 {
		c.LineTimeout = 0
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	return c
}
