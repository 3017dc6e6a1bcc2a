package atmxgo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Limits  LimitsConfig  `yaml:"limits"`
	Breaker BreakerConfig `yaml:"breaker"`
	Ops     OpsConfig     `yaml:"ops"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	SocketPath   string        `yaml:"socket_path" validate:"required"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// MaxFrameSize of 0 accepts frames of any announced length.
	MaxFrameSize uint32 `yaml:"max_frame_size"`
}

type StorageConfig struct {
	Driver       string `yaml:"driver" validate:"oneof=file postgres"`
	SnapshotPath string `yaml:"snapshot_path" validate:"required_if=Driver file"`
	ConnStr      string `yaml:"conn_str" validate:"required_if=Driver postgres"`
}

type LimitsConfig struct {
	Concurrency    int64         `yaml:"concurrency" validate:"gt=0"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout" validate:"gt=0"`
}

type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" validate:"gt=0"`
	OpenTimeout         time.Duration `yaml:"open_timeout" validate:"gt=0"`
}

type OpsConfig struct {
	// Addr of the health/stats HTTP listener; empty disables it.
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			SocketPath:   "/tmp/atm_bank_socket",
			IdleTimeout:  5 * time.Minute,
			WriteTimeout: 10 * time.Second,
			MaxFrameSize: DefaultMaxFrameSize,
		},
		Storage: StorageConfig{
			Driver:       StorageFile,
			SnapshotPath: "accounts.json",
		},
		Limits: LimitsConfig{
			Concurrency:    64,
			AcquireTimeout: 2 * time.Second,
		},
		Breaker: BreakerConfig{
			ConsecutiveFailures: 5,
			OpenTimeout:         30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads the YAML file at path over DefaultConfig and validates
// the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfgfl, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer cfgfl.Close()

	// An empty file keeps every default.
	if err = yaml.NewDecoder(cfgfl).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c LogConfig) ZerologLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
