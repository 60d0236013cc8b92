// Package config loads the chainfs configuration from file, environment and
// defaults.
//
// Sources in order of precedence:
//  1. Environment variables (CHAINFS_*, e.g. CHAINFS_REMOTE_ENDPOINT)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EncodingHeadroom is reserved in every remote write call for the call
// encoding around the payload.
const EncodingHeadroom = 512

type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Remote  RemoteConfig  `mapstructure:"remote" yaml:"remote"`
	IO      IOConfig      `mapstructure:"io" yaml:"io"`
	State   StateConfig   `mapstructure:"state" yaml:"state"`
	Mount   MountConfig   `mapstructure:"mount" yaml:"mount"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
}

// RemoteConfig addresses the kernel contract.
type RemoteConfig struct {
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url" yaml:"endpoint"`
	Contract string `mapstructure:"contract" validate:"omitempty,eth_addr" yaml:"contract"`
	// Credential is the path of a file holding the hex encoded signing key.
	Credential string `mapstructure:"credential" yaml:"credential"`
	// Token is sent as bearer token to the endpoint if set.
	Token string `mapstructure:"token" yaml:"token,omitempty"`
	// ChainID is queried from the endpoint when zero.
	ChainID     int64         `mapstructure:"chain_id" validate:"gte=0" yaml:"chain_id"`
	CallTimeout time.Duration `mapstructure:"call_timeout" validate:"gt=0" yaml:"call_timeout"`
	// MaxPayload is the largest write payload a single call may carry.
	MaxPayload int `mapstructure:"max_payload" validate:"gt=0" yaml:"max_payload"`
}

type IOConfig struct {
	ChunkSize int `mapstructure:"chunk_size" validate:"gt=0" yaml:"chunk_size"`
}

type StateConfig struct {
	// Dir holds the identity map database.
	Dir string `mapstructure:"dir" validate:"required" yaml:"dir"`
}

type MountConfig struct {
	AllowOther   bool          `mapstructure:"allow_other" yaml:"allow_other"`
	AttrTimeout  time.Duration `mapstructure:"attr_timeout" validate:"gte=0" yaml:"attr_timeout"`
	EntryTimeout time.Duration `mapstructure:"entry_timeout" validate:"gte=0" yaml:"entry_timeout"`
	Daemon       bool          `mapstructure:"daemon" yaml:"daemon"`
	PidFile      string        `mapstructure:"pid_file" yaml:"pid_file"`
	LogFile      string        `mapstructure:"log_file" yaml:"log_file"`
}

type MetricsConfig struct {
	// Listen is the address of the Prometheus endpoint. Empty disables it.
	Listen string `mapstructure:"listen" validate:"omitempty,hostname_port" yaml:"listen"`
}

// Load reads the configuration at path, or the default location if path is
// empty. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setupViper(v, path)

	err := v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, path string) {
	v.SetEnvPrefix("CHAINFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only considers keys viper knows about. Registering the
	// defaults makes every key reachable through the environment.
	def := Default()
	for key, val := range map[string]interface{}{
		"logging.level":       def.Logging.Level,
		"logging.format":      def.Logging.Format,
		"remote.endpoint":     def.Remote.Endpoint,
		"remote.contract":     def.Remote.Contract,
		"remote.credential":   def.Remote.Credential,
		"remote.token":        def.Remote.Token,
		"remote.chain_id":     def.Remote.ChainID,
		"remote.call_timeout": def.Remote.CallTimeout,
		"remote.max_payload":  def.Remote.MaxPayload,
		"io.chunk_size":       def.IO.ChunkSize,
		"state.dir":           def.State.Dir,
		"mount.allow_other":   def.Mount.AllowOther,
		"mount.attr_timeout":  def.Mount.AttrTimeout,
		"mount.entry_timeout": def.Mount.EntryTimeout,
		"mount.daemon":        def.Mount.Daemon,
		"mount.pid_file":      def.Mount.PidFile,
		"mount.log_file":      def.Mount.LogFile,
		"metrics.listen":      def.Metrics.Listen,
	} {
		v.SetDefault(key, val)
	}

	if path != "" {
		v.SetConfigFile(path)
		return
	}
	v.AddConfigPath(Dir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// Validate checks field constraints and the relation between chunk size
// and payload limit.
func Validate(cfg *Config) error {
	err := validator.New().Struct(cfg)
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed on %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if cfg.IO.ChunkSize > cfg.Remote.MaxPayload-EncodingHeadroom {
		return fmt.Errorf("io.chunk_size %d leaves less than %d bytes headroom below remote.max_payload %d", cfg.IO.ChunkSize, EncodingHeadroom, cfg.Remote.MaxPayload)
	}
	return nil
}

// RequireRemote reports the settings a remote mount cannot do without.
func (r RemoteConfig) RequireRemote() error {
	var missing []string
	if r.Endpoint == "" {
		missing = append(missing, "remote.endpoint")
	}
	if r.Contract == "" {
		missing = append(missing, "remote.contract")
	}
	if r.Credential == "" {
		missing = append(missing, "remote.credential")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ReadCredential returns the signing key stored in the credential file.
func (r RemoteConfig) ReadCredential() (string, error) {
	b, err := os.ReadFile(r.Credential)
	if err != nil {
		return "", fmt.Errorf("cannot read credential: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Save writes cfg as YAML. The file may hold a bearer token and is only
// readable by its owner.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Dir is the configuration directory, $XDG_CONFIG_HOME/chainfs by default.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "chainfs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "chainfs")
}

// DefaultPath is the location Load reads when no path is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}
