package config

import (
	"math"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Clouded-Sabre/go-arq/lib"
)

// Config is the file form of every knob the sender, receiver and harnesses take.
type Config struct {
	StreamLength    int    `yaml:"stream_length"`
	WindowSize      int    `yaml:"window_size"`
	TimeoutMs       int    `yaml:"timeout_ms"`
	DropProbability int    `yaml:"drop_probability"` // receiver only, 0..100
	LingerMs        int    `yaml:"linger_ms"`        // receiver only
	Mode            string `yaml:"mode"`             // gbn, saw or unreliable
	ServerAddr      string `yaml:"server_addr"`
	BindAddr        string `yaml:"bind_addr"` // receiver listen address, empty for all
	Port            int    `yaml:"port"`
	TTL             int    `yaml:"ttl"`
	TOS             int    `yaml:"tos"`
	PoolSize        int    `yaml:"pool_size"`
	Trials          int    `yaml:"trials"`
	TraceFile       string `yaml:"trace_file"`
	MetricsAddr     string `yaml:"metrics_addr"`
	Debug           bool   `yaml:"debug"`
}

func DefaultConfig() *Config {
	return &Config{
		StreamLength: lib.DefaultStreamLength,
		WindowSize:   lib.DefaultWindowSize,
		TimeoutMs:    int(lib.DefaultTimeout / time.Millisecond),
		LingerMs:     3000,
		Mode:         lib.GoBackN.String(),
		ServerAddr:   "127.0.0.1",
		Port:         lib.DefaultPort,
		PoolSize:     lib.DefaultPoolSize,
		Trials:       1,
	}
}

// LoadConfig reads a YAML file over the defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	c := DefaultConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	// sequence numbers travel as int32
	if c.StreamLength < 1 || c.StreamLength > math.MaxInt32 {
		return errors.Errorf("stream_length must be within 1..%d, got %d", math.MaxInt32, c.StreamLength)
	}
	if c.WindowSize < 1 || c.WindowSize > math.MaxInt32 {
		return errors.Errorf("window_size must be within 1..%d, got %d", math.MaxInt32, c.WindowSize)
	}
	if c.TimeoutMs <= 0 {
		return errors.Errorf("timeout_ms must be positive, got %d", c.TimeoutMs)
	}
	if c.DropProbability < 0 || c.DropProbability > 100 {
		return errors.Errorf("drop_probability must be within 0..100, got %d", c.DropProbability)
	}
	if c.LingerMs < 0 {
		return errors.Errorf("linger_ms must not be negative, got %d", c.LingerMs)
	}
	if _, ok := lib.ParseMode(c.Mode); !ok {
		return errors.Errorf("unknown mode %q", c.Mode)
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.Errorf("port out of range: %d", c.Port)
	}
	if c.Trials < 1 {
		return errors.Errorf("trials must be positive, got %d", c.Trials)
	}
	return nil
}

// RunMode is the parsed mode. A window of one always means stop-and-wait.
func (c *Config) RunMode() lib.Mode {
	m, _ := lib.ParseMode(c.Mode)
	if m == lib.GoBackN && c.WindowSize == 1 {
		return lib.StopAndWait
	}
	return m
}

func (c *Config) SenderConfig() *lib.SenderConfig {
	window := c.WindowSize
	if c.RunMode() == lib.StopAndWait {
		window = 1
	}
	return &lib.SenderConfig{
		StreamLength: c.StreamLength,
		WindowSize:   window,
		Timeout:      time.Duration(c.TimeoutMs) * time.Millisecond,
	}
}

func (c *Config) ReceiverConfig() *lib.ReceiverConfig {
	return &lib.ReceiverConfig{
		StreamLength:    c.StreamLength,
		Mode:            c.RunMode(),
		DropProbability: c.DropProbability,
		Linger:          time.Duration(c.LingerMs) * time.Millisecond,
	}
}

func (c *Config) TransportConfig() *lib.TransportConfig {
	return &lib.TransportConfig{
		TTL:      c.TTL,
		TOS:      c.TOS,
		PoolSize: c.PoolSize,
	}
}
