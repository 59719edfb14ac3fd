// env.go - Environment variable configuration and validation for markdetect
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/markdetect/markdetect-go/internal/detection"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		// Detection service
		{"service.imageurl", "MARKDETECT_SERVICE_IMAGEURL", validateEnvURL},
		{"service.videourl", "MARKDETECT_SERVICE_VIDEOURL", validateEnvURL},
		{"service.timeout", "MARKDETECT_SERVICE_TIMEOUT", validateEnvDuration},
		{"service.useragent", "MARKDETECT_SERVICE_USERAGENT", nil},

		// Submission defaults
		{"detection.confidence", "MARKDETECT_DETECTION_CONFIDENCE", validateEnvConfidence},
		{"detection.fps", "MARKDETECT_DETECTION_FPS", validateEnvFPS},
		{"detection.model", "MARKDETECT_DETECTION_MODEL", validateEnvModel},
		{"detection.classes", "MARKDETECT_DETECTION_CLASSES", validateEnvClasses},
		{"detection.maxentrysize", "MARKDETECT_DETECTION_MAXENTRYSIZE", validateEnvPositiveInt},

		// Web server
		{"webserver.listen", "MARKDETECT_WEBSERVER_LISTEN", nil},
		{"webserver.maxupload", "MARKDETECT_WEBSERVER_MAXUPLOAD", validateEnvPositiveInt},
		{"webserver.ratelimit", "MARKDETECT_WEBSERVER_RATELIMIT", validateEnvNonNegativeFloat},

		// State events
		{"mqtt.enabled", "MARKDETECT_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "MARKDETECT_MQTT_BROKER", validateEnvBrokerURL},
		{"mqtt.username", "MARKDETECT_MQTT_USERNAME", nil},
		{"mqtt.password", "MARKDETECT_MQTT_PASSWORD", nil},
		{"mqtt.passwordfile", "MARKDETECT_MQTT_PASSWORD_FILE", nil},

		// Logging and telemetry
		{"logging.defaultlevel", "MARKDETECT_LOGGING_LEVEL", validateEnvLogLevel},
		{"sentry.dsn", "MARKDETECT_SENTRY_DSN", nil},
		{"sentry.dsnfile", "MARKDETECT_SENTRY_DSN_FILE", nil},
		{"debug", "MARKDETECT_DEBUG", validateEnvBool},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	bindings := getEnvBindings()
	var warnings []string

	for _, binding := range bindings {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// Environment variable validation functions

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f, TRUE/FALSE, T/F", value)
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got '%s'", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}

func validateEnvBrokerURL(value string) error {
	return validateBrokerURL(value)
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", d)
	}
	return nil
}

func validateEnvConfidence(value string) error {
	c, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid confidence: %w", err)
	}
	if c < 0 || c > 1 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0, got %g", c)
	}
	return nil
}

func validateEnvFPS(value string) error {
	fps, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid fps: %w", err)
	}
	if fps < detection.MinFPS || fps > detection.MaxFPS {
		return fmt.Errorf("fps must be between %d and %d, got %d", detection.MinFPS, detection.MaxFPS, fps)
	}
	return nil
}

func validateEnvModel(value string) error {
	_, err := detection.ParseModelVariant(value)
	return err
}

// validateEnvClasses accepts a comma separated list of class names.
func validateEnvClasses(value string) error {
	_, err := detection.NormalizeClasses(strings.Split(value, ","))
	return err
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("value must be positive, got %d", n)
	}
	return nil
}

func validateEnvNonNegativeFloat(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid number: %w", err)
	}
	if f < 0 {
		return fmt.Errorf("value must not be negative, got %g", f)
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "trace", "debug", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("must be one of: trace, debug, info, warn, error")
}
