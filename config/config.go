package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SecretEnv overrides orchestrator.secret when set
const SecretEnv = "PIO_PROFILE_SECRET"

// Config holds the CLI configuration
type Config struct {
	// General configuration
	General struct {
		// Workspace is the directory holding pio.json
		Workspace string `yaml:"workspace"`

		// LogLevel is the logging level
		LogLevel string `yaml:"logLevel"`

		// Verbose dumps the loaded index and every sync decision
		Verbose bool `yaml:"verbose"`
	} `yaml:"general"`

	// Spin watcher configuration
	Spin struct {
		// ShortlistInterval is the fast cadence over hot paths
		ShortlistInterval time.Duration `yaml:"shortlistInterval"`

		// CompleteInterval is the slow cadence over every other path
		CompleteInterval time.Duration `yaml:"completeInterval"`

		// QuietWindow is the delay between the first change and the flush
		QuietWindow time.Duration `yaml:"quietWindow"`

		StatConcurrency   int           `yaml:"statConcurrency"`
		UploadConcurrency int           `yaml:"uploadConcurrency"`
		CallTimeout       time.Duration `yaml:"callTimeout"`

		// RemoteRoot is the services directory on the deployment host
		RemoteRoot string `yaml:"remoteRoot"`

		// Denylist holds basenames that never report drift
		Denylist []string `yaml:"denylist"`

		// HashShortlist compares content digests of hot files
		HashShortlist bool `yaml:"hashShortlist"`

		// FSHints promotes paths from file system notifications
		FSHints bool `yaml:"fsHints"`

		// HintDebounce coalesces bursts of file system events per path
		HintDebounce time.Duration `yaml:"hintDebounce"`

		// MaxAttempts bounds retries of transient upload failures
		MaxAttempts int `yaml:"maxAttempts"`
	} `yaml:"spin"`

	// Orchestrator client configuration
	Orchestrator struct {
		// Transport is "http" or "grpc"
		Transport string `yaml:"transport"`

		// Endpoint is the base URL (http) or host:port (grpc)
		Endpoint string `yaml:"endpoint"`

		// Secret is the profile secret signing requests
		Secret string `yaml:"secret"`

		// H2C enables cleartext HTTP/2
		H2C bool `yaml:"h2c"`

		// TokenTTL is the lifetime of issued bearer tokens
		TokenTTL time.Duration `yaml:"tokenTTL"`

		// Timeout bounds lifecycle commands
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"orchestrator"`

	// Diagnostics server configuration
	Diagnostics struct {
		// Enabled starts the status server during spin
		Enabled bool `yaml:"enabled"`

		// Address to bind the diagnostics server
		Address string `yaml:"address"`

		// Port to bind the diagnostics server
		Port int `yaml:"port"`
	} `yaml:"diagnostics"`

	Logging struct {
		Level       string `yaml:"level"` // "ERROR", "WARN", "INFO", "DEBUG"
		ChannelSize int    `yaml:"channelSize"`
		Format      string `yaml:"format"` // "json" or "text"
		Output      string `yaml:"output"` // "stdout", "stderr" or "file"
		FilePath    string `yaml:"filePath"`
	} `yaml:"logging"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	c := &Config{}

	// General configuration
	c.General.Workspace = "."
	c.General.LogLevel = "info"
	c.General.Verbose = false

	// Spin configuration
	c.Spin.ShortlistInterval = 1 * time.Second
	c.Spin.CompleteInterval = 5 * time.Second
	c.Spin.QuietWindow = 1 * time.Second
	c.Spin.StatConcurrency = 30
	c.Spin.UploadConcurrency = 8
	c.Spin.CallTimeout = 30 * time.Second
	c.Spin.RemoteRoot = "/opt/services"
	c.Spin.Denylist = []string{".smi-for-npm", ".pio.json"}
	c.Spin.HashShortlist = false
	c.Spin.FSHints = false
	c.Spin.HintDebounce = 200 * time.Millisecond
	c.Spin.MaxAttempts = 3

	// Orchestrator configuration
	c.Orchestrator.Transport = "http"
	c.Orchestrator.Endpoint = "http://127.0.0.1:7070"
	c.Orchestrator.Secret = ""
	c.Orchestrator.H2C = false
	c.Orchestrator.TokenTTL = 5 * time.Minute
	c.Orchestrator.Timeout = 2 * time.Minute

	// Diagnostics configuration
	c.Diagnostics.Enabled = false
	c.Diagnostics.Address = "127.0.0.1"
	c.Diagnostics.Port = 7171

	// Logging configuration defaults
	c.Logging.Level = "INFO"
	c.Logging.ChannelSize = 1000
	c.Logging.Format = "text"
	c.Logging.Output = "stderr"
	c.Logging.FilePath = ""

	return c
}

// LoadConfig loads the configuration from a file
func LoadConfig(path string) (*Config, error) {
	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// the workspace is relative to the config file
	if !filepath.IsAbs(config.General.Workspace) {
		dir, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
		config.General.Workspace = filepath.Join(dir, config.General.Workspace)
	}

	config.ApplyEnv()

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// ApplyEnv applies environment overrides
func (c *Config) ApplyEnv() {
	if secret := os.Getenv(SecretEnv); secret != "" {
		c.Orchestrator.Secret = secret
	}
}

// Validate checks a configuration assembled outside LoadConfig
func (c *Config) Validate() error {
	return validateConfig(c)
}

// SaveConfig saves the configuration to a file
func SaveConfig(config *Config, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// Create parent directory if necessary
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// the file may carry the profile secret
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func validateConfig(config *Config) error {
	logLevel := strings.ToLower(config.General.LogLevel)
	if logLevel != "debug" && logLevel != "info" && logLevel != "warn" && logLevel != "error" {
		return fmt.Errorf("invalid log level: %s", config.General.LogLevel)
	}

	spin := config.Spin
	if spin.ShortlistInterval <= 0 || spin.CompleteInterval <= 0 {
		return fmt.Errorf("scan intervals must be positive")
	}
	if spin.QuietWindow <= 0 {
		return fmt.Errorf("invalid quiet window: %s", spin.QuietWindow)
	}
	if spin.StatConcurrency < 1 || spin.UploadConcurrency < 1 {
		return fmt.Errorf("concurrency limits must be at least 1")
	}
	if spin.MaxAttempts < 1 {
		return fmt.Errorf("invalid max attempts: %d", spin.MaxAttempts)
	}
	if !strings.HasPrefix(spin.RemoteRoot, "/") {
		return fmt.Errorf("remote root must be absolute: %s", spin.RemoteRoot)
	}

	// the transport is matched by its lower-case name from here on
	config.Orchestrator.Transport = strings.ToLower(strings.TrimSpace(config.Orchestrator.Transport))
	switch config.Orchestrator.Transport {
	case "http":
		u, err := url.Parse(config.Orchestrator.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid orchestrator endpoint: %s", config.Orchestrator.Endpoint)
		}
	case "grpc":
		if config.Orchestrator.Endpoint == "" {
			return fmt.Errorf("orchestrator endpoint not specified")
		}
	default:
		return fmt.Errorf("invalid orchestrator transport: %s", config.Orchestrator.Transport)
	}

	if config.Diagnostics.Enabled && (config.Diagnostics.Port < 1 || config.Diagnostics.Port > 65535) {
		return fmt.Errorf("invalid diagnostics port: %d", config.Diagnostics.Port)
	}

	switch config.Logging.Output {
	case "stdout", "stderr":
	case "file":
		if config.Logging.FilePath == "" {
			return fmt.Errorf("file logging enabled but no file path specified")
		}
	default:
		return fmt.Errorf("invalid logging output: %s", config.Logging.Output)
	}

	return nil
}
