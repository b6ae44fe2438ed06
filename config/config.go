// Package config loads validator settings.
//
// Settings come from $XDG_CONFIG_HOME/validator/config.yaml (defaults to
// ~/.config/validator/config.yaml). Variables from a .env file are loaded
// into the environment first, and VALIDATOR_* variables override the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	appDir   = "validator"
	fileName = "config.yaml"

	DefaultHandshakeTimeout = 300 * time.Second
	DefaultSSHTimeout       = 15 * time.Second
	DefaultDockerSocket     = "/var/run/docker.sock"
	DefaultLogLevel         = "info"
)

// Environment overrides.
const (
	EnvIdentityPath         = "VALIDATOR_IDENTITY_PATH"
	EnvDataDir              = "VALIDATOR_DATA_DIR"
	EnvLogLevel             = "VALIDATOR_LOG_LEVEL"
	EnvHandshakeTimeout     = "VALIDATOR_HANDSHAKE_TIMEOUT"
	EnvSSHTimeout           = "VALIDATOR_SSH_TIMEOUT"
	EnvDockerSocket         = "VALIDATOR_DOCKER_SOCKET"
	EnvAbsorbWorkloadErrors = "VALIDATOR_ABSORB_WORKLOAD_ERRORS"
)

type Config struct {
	IdentityPath         string        `yaml:"identity_path"`
	DataDir              string        `yaml:"data_dir"`
	LogLevel             string        `yaml:"log_level"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	SSHTimeout           time.Duration `yaml:"ssh_timeout"`
	DockerSocket         string        `yaml:"docker_socket"`
	AbsorbWorkloadErrors bool          `yaml:"absorb_workload_errors"`
}

// Path returns the config file location. It respects XDG_CONFIG_HOME.
func Path() string {
	return filepath.Join(configHome(), appDir, fileName)
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		IdentityPath:     filepath.Join(configHome(), appDir, "identity.json"),
		DataDir:          filepath.Join(dataHome(), appDir),
		LogLevel:         DefaultLogLevel,
		HandshakeTimeout: DefaultHandshakeTimeout,
		SSHTimeout:       DefaultSSHTimeout,
		DockerSocket:     DefaultDockerSocket,
	}
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding ones already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the config at path (Path() when empty), fills unset fields
// with defaults and applies environment overrides. A missing file is not an
// error.
func Load(path string) (Config, error) {
	if path == "" {
		path = Path()
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		var file Config
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.merge(file)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes c to path, creating directories as needed.
func (c Config) Save(path string) error {
	if path == "" {
		path = Path()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// StorePath is the machine-spec database inside DataDir.
func (c Config) StorePath() string {
	return filepath.Join(c.DataDir, "validator.db")
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.IdentityPath) == "" {
		return errors.New("config: identity_path is required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("config: data_dir is required")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: invalid log_level %q", c.LogLevel)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("config: handshake_timeout must be positive, got %s", c.HandshakeTimeout)
	}
	if c.SSHTimeout <= 0 {
		return fmt.Errorf("config: ssh_timeout must be positive, got %s", c.SSHTimeout)
	}
	if !filepath.IsAbs(c.DockerSocket) {
		return fmt.Errorf("config: docker_socket must be an absolute path, got %q", c.DockerSocket)
	}
	return nil
}

func (c *Config) merge(file Config) {
	if file.IdentityPath != "" {
		c.IdentityPath = file.IdentityPath
	}
	if file.DataDir != "" {
		c.DataDir = file.DataDir
	}
	if file.LogLevel != "" {
		c.LogLevel = file.LogLevel
	}
	if file.HandshakeTimeout != 0 {
		c.HandshakeTimeout = file.HandshakeTimeout
	}
	if file.SSHTimeout != 0 {
		c.SSHTimeout = file.SSHTimeout
	}
	if file.DockerSocket != "" {
		c.DockerSocket = file.DockerSocket
	}
	c.AbsorbWorkloadErrors = file.AbsorbWorkloadErrors
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str(EnvIdentityPath, &c.IdentityPath)
	str(EnvDataDir, &c.DataDir)
	str(EnvLogLevel, &c.LogLevel)
	str(EnvDockerSocket, &c.DockerSocket)
	if err := dur(EnvHandshakeTimeout, &c.HandshakeTimeout); err != nil {
		return err
	}
	if err := dur(EnvSSHTimeout, &c.SSHTimeout); err != nil {
		return err
	}
	if v, ok := lookup(EnvAbsorbWorkloadErrors); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvAbsorbWorkloadErrors, err)
		}
		c.AbsorbWorkloadErrors = b
	}
	return nil
}

func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config"
	}
	return filepath.Join(home, ".config")
}

func dataHome() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".local", "share")
	}
	return filepath.Join(home, ".local", "share")
}
