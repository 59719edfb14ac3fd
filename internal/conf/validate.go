// conf/validate.go

package conf

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"strings"

	"github.com/markdetect/markdetect-go/internal/detection"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// Validate checks every section of s. Class names are normalized and the model
// variant is lower-cased in place.
func (s *Settings) Validate() error {
	ve := ValidationError{}

	if err := validateServiceSettings(&s.Service); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateDetectionSettings(&s.Detection); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateOutputSettings(&s.Output); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateWebServerSettings(&s.WebServer); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateMQTTSettings(&s.MQTT); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateServiceSettings(settings *ServiceSettings) error {
	var errs []string

	for name, raw := range map[string]string{"image": settings.ImageURL, "video": settings.VideoURL} {
		u, err := url.Parse(raw)
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("service %s URL is invalid: %v", name, err))
		case u.Scheme != "http" && u.Scheme != "https":
			errs = append(errs, fmt.Sprintf("service %s URL must use http or https, got %q", name, raw))
		case u.Host == "":
			errs = append(errs, fmt.Sprintf("service %s URL must include a host", name))
		}
	}

	if settings.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("service timeout must be positive, got %s", settings.Timeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("service settings errors: %v", errs)
	}
	return nil
}

func validateDetectionSettings(settings *DetectionSettings) error {
	var errs []string

	if math.IsNaN(settings.Confidence) || settings.Confidence < 0 || settings.Confidence > 1 {
		errs = append(errs, fmt.Sprintf("confidence must be between 0 and 1, got %g", settings.Confidence))
	}

	if settings.FPS < detection.MinFPS || settings.FPS > detection.MaxFPS {
		errs = append(errs, fmt.Sprintf("fps must be between %d and %d, got %d", detection.MinFPS, detection.MaxFPS, settings.FPS))
	}

	if model, err := detection.ParseModelVariant(settings.Model); err != nil {
		errs = append(errs, err.Error())
	} else {
		settings.Model = string(model)
	}

	if len(settings.Classes) == 0 {
		errs = append(errs, "at least one class of interest is required")
	} else if classes, err := detection.NormalizeClasses(settings.Classes); err != nil {
		errs = append(errs, err.Error())
	} else {
		settings.Classes = classes
	}

	if settings.MaxEntrySize <= 0 {
		errs = append(errs, fmt.Sprintf("max entry size must be positive, got %d", settings.MaxEntrySize))
	}

	if len(errs) > 0 {
		return fmt.Errorf("detection settings errors: %v", errs)
	}
	return nil
}

func validateOutputSettings(settings *OutputSettings) error {
	var errs []string

	for name, file := range map[string]string{"image": settings.ImageBundle, "video": settings.VideoBundle} {
		if strings.TrimSpace(file) == "" || strings.ContainsAny(file, `/\`) {
			errs = append(errs, fmt.Sprintf("%s bundle name must be a plain file name, got %q", name, file))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("output settings errors: %v", errs)
	}
	return nil
}

func validateWebServerSettings(settings *WebServerSettings) error {
	var errs []string

	if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
		errs = append(errs, fmt.Sprintf("listen address %q is invalid: %v", settings.Listen, err))
	}

	if settings.MaxUpload <= 0 {
		errs = append(errs, fmt.Sprintf("max upload must be positive, got %d", settings.MaxUpload))
	}

	if settings.RateLimit < 0 {
		errs = append(errs, fmt.Sprintf("rate limit must not be negative, got %g", settings.RateLimit))
	}

	if settings.RateLimit > 0 && settings.RateBurst <= 0 {
		errs = append(errs, fmt.Sprintf("rate burst must be positive when rate limiting, got %d", settings.RateBurst))
	}

	if len(errs) > 0 {
		return fmt.Errorf("webserver settings errors: %v", errs)
	}
	return nil
}

// brokerSchemes are the URL schemes the MQTT client can dial.
var brokerSchemes = map[string]bool{"tcp": true, "ssl": true, "tls": true, "mqtt": true, "mqtts": true, "ws": true, "wss": true}

func validateBrokerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid broker URL: %w", err)
	}
	if !brokerSchemes[u.Scheme] {
		return fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("broker URL %q has no host", raw)
	}
	return nil
}

func validateMQTTSettings(settings *MQTTSettings) error {
	if !settings.Enabled {
		return nil
	}

	var errs []string

	if err := validateBrokerURL(settings.Broker); err != nil {
		errs = append(errs, err.Error())
	}

	if strings.TrimSpace(settings.ClientID) == "" {
		errs = append(errs, "client ID must not be empty")
	}

	topic := strings.TrimSpace(settings.Topic)
	if topic == "" || strings.ContainsAny(topic, "#+") {
		errs = append(errs, fmt.Sprintf("topic must be a non-empty name without wildcards, got %q", settings.Topic))
	}

	if len(errs) > 0 {
		return fmt.Errorf("mqtt settings errors: %v", errs)
	}
	return nil
}
