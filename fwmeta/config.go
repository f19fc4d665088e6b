package fwmeta

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

const (
	DefaultConfigFile = "fwmeta.toml"
)

type ScanConfig struct {
	Workers      int   `toml:"workers"`        // 0 or 1 scans sequentially
	ChunkSize    int   `toml:"chunk_size"`     // Candidate offsets per parallel chunk
	MaxImageSize int64 `toml:"max_image_size"` // Largest decoded image accepted
}

type DecodeConfig struct {
	TextMode string `toml:"text_mode"` // ignore, replace or strict
}

type EncodeConfig struct {
	Strict bool `toml:"strict"` // Fail instead of truncating oversized fields
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Everything a fwmeta.toml can set. Zero values mean "use the default"
type Config struct {
	Scan   ScanConfig   `toml:"scan"`
	Decode DecodeConfig `toml:"decode"`
	Encode EncodeConfig `toml:"encode"`
	Log    LogConfig    `toml:"log"`
}

func DefaultConfig() *Config {
	c := &Config{}
	c.ReasonableDefaults()
	return c
}

// Fill in anything left unset
func (c *Config) ReasonableDefaults() {
	if c.Scan.Workers < 0 {
		c.Scan.Workers = 0
	}
	if c.Scan.ChunkSize <= 0 {
		c.Scan.ChunkSize = DefaultChunkSize
	}
	if c.Scan.MaxImageSize <= 0 {
		c.Scan.MaxImageSize = DefaultMaxImageSize
	}
	if c.Decode.TextMode == "" {
		c.Decode.TextMode = TextIgnore.String()
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	if _, err := ParseTextMode(c.Decode.TextMode); err != nil {
		return fmt.Errorf("decode.text_mode: %w", err)
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

func (c *Config) TextMode() TextMode {
	mode, _ := ParseTextMode(c.Decode.TextMode)
	return mode
}

func (c *Config) TruncatePolicy() TruncatePolicy {
	if c.Encode.Strict {
		return TruncateStrict
	}
	return TruncateSilently
}

func (c *Config) ParallelOptions() ParallelOptions {
	return ParallelOptions{Workers: c.Scan.Workers, ChunkSize: c.Scan.ChunkSize}
}

func ParseConfig(data []byte) (*Config, error) {
	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	c.ReasonableDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load the config at path. If path is empty, DefaultConfigFile is tried and
// silently skipped when it doesn't exist; an explicit path must exist.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, errors.Wrap(err, "read config")
	}
	c, err := ParseConfig(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	logger.Debugf("Loaded config from %s", path)
	return c, nil
}
