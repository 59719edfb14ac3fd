package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/markdetect/markdetect-go/internal/errors"
	"github.com/markdetect/markdetect-go/internal/logger"
	"github.com/markdetect/markdetect-go/internal/secrets"
)

// ConfigFileName is the name of the configuration file looked up in the
// default config paths.
const ConfigFileName = "config.yaml"

// ServiceSettings describes the remote detection service.
type ServiceSettings struct {
	ImageURL  string        `yaml:"imageurl"`  // endpoint for image submissions
	VideoURL  string        `yaml:"videourl"`  // endpoint for video submissions
	Timeout   time.Duration `yaml:"timeout"`   // per request timeout, video processing is slow
	UserAgent string        `yaml:"useragent"` // User-Agent header sent to the service
}

// DetectionSettings holds the default parameters of a submission.
type DetectionSettings struct {
	Confidence   float64  `yaml:"confidence"`   // confidence threshold, 0.0 to 1.0
	FPS          int      `yaml:"fps"`          // video sampling rate, 5 to 60
	Model        string   `yaml:"model"`        // model variant: small or base
	Classes      []string `yaml:"classes"`      // classes of interest
	MaxEntrySize int64    `yaml:"maxentrysize"` // upper bound for an archive entry in bytes
}

// OutputSettings names the annotation bundles offered for download.
type OutputSettings struct {
	ImageBundle string `yaml:"imagebundle"`
	VideoBundle string `yaml:"videobundle"`
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Listen    string  `yaml:"listen"`    // address to listen on, e.g. ":8080"
	MaxUpload int64   `yaml:"maxupload"` // largest accepted upload in bytes
	RateLimit float64 `yaml:"ratelimit"` // detect requests per second per client, 0 disables
	RateBurst int     `yaml:"rateburst"` // burst size for the rate limiter
}

// MQTTSettings configures publishing of detection state events.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled"`  // true to publish state changes
	Broker   string `yaml:"broker"`   // broker URL, e.g. tcp://localhost:1883
	ClientID string `yaml:"clientid"` // MQTT client identifier
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`     // literal or ${ENV_VAR} reference
	PasswordFile string `yaml:"passwordfile"` // file holding the password, wins over password
	Topic        string `yaml:"topic"`        // events go to <topic>/<kind>
	Retain       bool   `yaml:"retain"`       // true to retain the last event per kind
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	DSN         string `yaml:"dsn"`         // empty disables telemetry, may be a ${ENV_VAR} reference
	DSNFile     string `yaml:"dsnfile"`     // file holding the DSN, wins over dsn
	Environment string `yaml:"environment"` // reported environment name
}

// Settings contains all configuration options for markdetect.
type Settings struct {
	Debug     bool                 `yaml:"debug"`
	Service   ServiceSettings      `yaml:"service"`
	Detection DetectionSettings    `yaml:"detection"`
	Output    OutputSettings       `yaml:"output"`
	WebServer WebServerSettings    `yaml:"webserver"`
	MQTT      MQTTSettings         `yaml:"mqtt"`
	Logging   logger.LoggingConfig `yaml:"logging"`
	Sentry    SentrySettings       `yaml:"sentry"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads defaults, the configuration file, environment variables and any
// bound command line flags into a validated Settings. An explicit configFile
// must exist; otherwise the default config paths are searched and a missing
// file is not an error.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := settings.resolveSecrets(); err != nil {
		return nil, err
	}

	if err := settings.Validate(); err != nil {
		return nil, errors.New(fmt.Errorf("error validating settings: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	settingsInstance = settings
	return settings, nil
}

// resolveSecrets replaces credential fields with the values read from their
// secret files or environment references.
func (s *Settings) resolveSecrets() error {
	password, err := secrets.Resolve(s.MQTT.PasswordFile, s.MQTT.Password)
	if err != nil {
		return fmt.Errorf("mqtt password: %w", err)
	}
	s.MQTT.Password = password

	dsn, err := secrets.Resolve(s.Sentry.DSNFile, s.Sentry.DSN)
	if err != nil {
		return fmt.Errorf("sentry dsn: %w", err)
	}
	s.Sentry.DSN = dsn
	return nil
}

// initViper registers defaults, env bindings and reads the configuration file.
func initViper(configFile string) error {
	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "bind-env").
			Build()
	}

	viper.SetConfigType("yaml")
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		for _, path := range GetDefaultConfigPaths() {
			viper.AddConfigPath(path)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			GetLogger().Debug("no config file found, using defaults and environment")
			return nil
		}
		return errors.New(fmt.Errorf("fatal error reading config file: %w", err)).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("config_file", configFile).
			Build()
	}
	GetLogger().Debug("config file loaded", logger.String("path", viper.ConfigFileUsed()))
	return nil
}

// GetSettings returns the settings of the last successful Load, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// DefaultSettings returns the built-in defaults without reading any file or
// environment variable.
func DefaultSettings() *Settings {
	v := viper.New()
	applyDefaults(v)
	s := &Settings{}
	// Defaults are static and always decode.
	_ = v.Unmarshal(s)
	return s
}

// WriteDefaultConfig writes the default configuration as YAML to path. An
// existing file is never overwritten.
func WriteDefaultConfig(path string) error {
	if path == "" {
		path = filepath.Join(GetDefaultConfigPaths()[0], ConfigFileName)
	}
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file already exists: %s", path).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	data, err := yaml.Marshal(DefaultSettings())
	if err != nil {
		return errors.New(fmt.Errorf("error marshaling settings to YAML: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(fmt.Errorf("error creating directories for config file: %w", err)).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New(fmt.Errorf("error writing default config file: %w", err)).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	GetLogger().Info("created default config file", logger.String("path", path))
	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml, in
// order: the working directory, the user config directory and /etc.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "markdetect"))
	}
	return append(paths, "/etc/markdetect")
}
