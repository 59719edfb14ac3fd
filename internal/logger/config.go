package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel string            `yaml:"defaultlevel" mapstructure:"defaultlevel"`           // default log level for all modules
	Timezone     string            `yaml:"timezone" mapstructure:"timezone"`                   // "Local", "UTC", or IANA timezone name
	Console      ConsoleOutput     `yaml:"console" mapstructure:"console"`                     // console output configuration
	File         FileOutput        `yaml:"file" mapstructure:"file"`                           // file output configuration
	ModuleLevels map[string]string `yaml:"modulelevels,omitempty" mapstructure:"modulelevels"` // per-module log levels
}

// ConsoleOutput represents console logging configuration.
// Console output uses human-readable text format without timestamps; the execution
// environment (journald, Docker) adds them.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Level   string `yaml:"level" mapstructure:"level"`
}

// FileOutput represents file logging configuration.
// File output uses JSON format with RFC3339 timestamps.
type FileOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
	Level   string `yaml:"level" mapstructure:"level"`
}

// Default values for logging configuration.
const (
	DefaultLogLevel = "info"
	DefaultLogPath  = "logs/markdetect.log"
)

// applyConfigDefaults fills empty values so a zero config still logs to the console.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}
	if cfg.Console.Level == "" {
		cfg.Console.Level = cfg.DefaultLevel
	}
	if cfg.File.Enabled && cfg.File.Path == "" {
		cfg.File.Path = DefaultLogPath
	}
	if cfg.File.Level == "" {
		cfg.File.Level = cfg.DefaultLevel
	}
}
