package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Session  SessionConfig  `toml:"session"`
	Transfer TransferConfig `toml:"transfer"`
	History  HistoryConfig  `toml:"history"`
	Local    LocalConfig    `toml:"local"`
	Log      LogConfig      `toml:"log"`
}

type ServerConfig struct {
	Listen          string `toml:"listen"`
	Route           string `toml:"route"`
	MaxBodyBytes    int64  `toml:"max_body_bytes"`
	ShutdownSeconds int    `toml:"shutdown_seconds"`
}

type SessionConfig struct {
	DialTimeoutSeconds    int      `toml:"dial_timeout_seconds"`
	Protocols             []string `toml:"protocols"`
	TLSInsecureSkipVerify bool     `toml:"tls_insecure_skip_verify"`
}

type TransferConfig struct {
	ChunkSize         int `toml:"chunk_size"`
	BufferDepth       int `toml:"buffer_depth"`
	MaxBytesPerSecond int `toml:"max_bytes_per_second"` // 0 = unlimited
}

type HistoryConfig struct {
	Path          string `toml:"path"` // empty disables the journal
	Schedule      string `toml:"schedule"`
	RetentionDays int    `toml:"retention_days"`
	MaxRecords    int    `toml:"max_records"`
}

type LocalConfig struct {
	Root string `toml:"root"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// overrides are read from the environment after the file.
type overrides struct {
	Listen            string `env:"FTPGW_LISTEN"`
	LogLevel          string `env:"FTPGW_LOG_LEVEL"`
	HistoryPath       string `env:"FTPGW_HISTORY_PATH"`
	LocalRoot         string `env:"FTPGW_LOCAL_ROOT"`
	MaxBytesPerSecond *int   `env:"FTPGW_MAX_BPS"`
}

var knownProtocols = map[string]bool{"ftp": true, "ftps": true, "sftp": true, "local": true}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          ":8080",
			Route:           "/ftp-operations",
			MaxBodyBytes:    64 << 20,
			ShutdownSeconds: 10,
		},
		Session: SessionConfig{
			DialTimeoutSeconds: 30,
			Protocols:          []string{"ftp", "ftps", "sftp"},
		},
		Transfer: TransferConfig{
			ChunkSize:   32 * 1024,
			BufferDepth: 8,
		},
		History: HistoryConfig{
			Schedule:      "@every 5m",
			RetentionDays: 7,
			MaxRecords:    1000,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig reads path over the defaults, applies environment overrides and
// validates the result. An empty path means defaults plus environment.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
			return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid TOML in %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) ApplyEnv() error {
	var ov overrides
	if _, err := env.UnmarshalFromEnviron(&ov); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	if ov.Listen != "" {
		c.Server.Listen = ov.Listen
	}
	if ov.LogLevel != "" {
		c.Log.Level = ov.LogLevel
	}
	if ov.HistoryPath != "" {
		c.History.Path = ov.HistoryPath
	}
	if ov.LocalRoot != "" {
		c.Local.Root = ov.LocalRoot
	}
	if ov.MaxBytesPerSecond != nil {
		c.Transfer.MaxBytesPerSecond = *ov.MaxBytesPerSecond
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if !strings.HasPrefix(c.Server.Route, "/") {
		errs = append(errs, fmt.Errorf("server.route must start with /: %q", c.Server.Route))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	if c.Transfer.ChunkSize <= 0 || c.Transfer.BufferDepth <= 0 {
		errs = append(errs, errors.New("transfer.chunk_size and transfer.buffer_depth must be positive"))
	}
	if c.Transfer.MaxBytesPerSecond < 0 {
		errs = append(errs, errors.New("transfer.max_bytes_per_second cannot be negative"))
	}
	for _, p := range c.Session.Protocols {
		if !knownProtocols[p] {
			errs = append(errs, fmt.Errorf("session.protocols: unknown protocol %q", p))
		}
		if p == "local" && c.Local.Root == "" {
			errs = append(errs, errors.New("session.protocols enables local but local.root is empty"))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Session.DialTimeoutSeconds) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}
