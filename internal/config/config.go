package config

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const DEFAULT_PORT_FIRST = 10000
const DEFAULT_PORT_LAST = 60000
const DEFAULT_WORKERS = 4
const DEFAULT_LOG_LEVEL = "info"
const DEFAULT_LOG_FILE = "console"

var SUPPORTED_FORMATS = map[string]bool{
	"yaml": true,
	"json": true,
}

type CompileConfig struct {
	PortFirst     int      `yaml:"portFirst,omitempty"`
	PortLast      int      `yaml:"portLast,omitempty"`
	Workers       int      `yaml:"workers,omitempty"`
	AutomaticHide bool     `yaml:"automaticHide,omitempty"`
	Gateways      []string `yaml:"gateways,omitempty"`
}

type LogConfig struct {
	Level string `yaml:"level,omitempty"`
	File  string `yaml:"file,omitempty"`
}

type OutputConfig struct {
	Format      string `yaml:"format,omitempty"`
	MetricsFile string `yaml:"metricsFile,omitempty"`
}

type AppConfig struct {
	Compile CompileConfig `yaml:"compile"`
	Log     LogConfig     `yaml:"log"`
	Output  OutputConfig  `yaml:"output"`
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	c := &AppConfig{}
	c.applyDefaults()
	return c
}

func (c *AppConfig) applyDefaults() {
	if c.Compile.PortFirst == 0 {
		c.Compile.PortFirst = DEFAULT_PORT_FIRST
	}
	if c.Compile.PortLast == 0 {
		c.Compile.PortLast = DEFAULT_PORT_LAST
	}
	if c.Compile.Workers == 0 {
		c.Compile.Workers = DEFAULT_WORKERS
	}
	if c.Log.Level == "" {
		c.Log.Level = DEFAULT_LOG_LEVEL
	}
	if c.Log.File == "" {
		c.Log.File = DEFAULT_LOG_FILE
	}
	if c.Output.Format == "" {
		c.Output.Format = "yaml"
	}
}

// Validate checks the values a file or flag could have set wrong.
func (c *AppConfig) Validate() error {
	first, last := c.Compile.PortFirst, c.Compile.PortLast
	if first < 1 || last > 65535 || first > last {
		return errors.Errorf("invalid nat port range %d-%d", first, last)
	}
	if c.Compile.Workers < 1 {
		return errors.Errorf("workers must be at least 1, got %d", c.Compile.Workers)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log level")
	}
	if !SUPPORTED_FORMATS[c.Output.Format] {
		return errors.Errorf("unsupported output format %s", c.Output.Format)
	}
	return nil
}

func getConfig(data []byte) (*AppConfig, error) {
	var config = new(AppConfig)

	err := yaml.UnmarshalStrict(data, config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	config.applyDefaults()
	return config, nil
}

// New reads a YAML config, fills in defaults and validates it.
func New(reader io.Reader) (*AppConfig, error) {
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(reader); err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}

	result, err := getConfig(buf.Bytes())
	if err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, errors.Wrap(err, "config is invalid")
	}
	return result, nil
}
