package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/markdetect/markdetect-go/internal/detection"
)

// resetViper isolates tests that use the global viper instance.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	assert.Equal(t, "http://localhost:8001/detect/image/", s.Service.ImageURL)
	assert.Equal(t, "http://localhost:8001/detect/video/", s.Service.VideoURL)
	assert.Equal(t, 10*time.Minute, s.Service.Timeout)
	assert.InDelta(t, detection.DefaultConfidence, s.Detection.Confidence, 0)
	assert.Equal(t, detection.DefaultFPS, s.Detection.FPS)
	assert.Equal(t, "small", s.Detection.Model)
	assert.Equal(t, detection.Classes(), s.Detection.Classes)
	assert.Equal(t, "output_files.zip", s.Output.ImageBundle)
	assert.Equal(t, "annotations.zip", s.Output.VideoBundle)
	assert.Equal(t, ":8080", s.WebServer.Listen)
	assert.True(t, s.Logging.Console.Enabled)
	assert.Empty(t, s.Sentry.DSN)
	assert.False(t, s.MQTT.Enabled)
	assert.Equal(t, "markdetect", s.MQTT.Topic)

	require.NoError(t, s.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	resetViper(t)
	path := writeConfig(t, `
service:
  videourl: https://detector.example.com/detect/video/
  timeout: 90s
detection:
  confidence: 0.5
  fps: 30
  model: BASE
  classes:
    - " Left "
    - Right
    - Left
webserver:
  listen: 127.0.0.1:9000
`)

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://detector.example.com/detect/video/", s.Service.VideoURL)
	assert.Equal(t, "http://localhost:8001/detect/image/", s.Service.ImageURL, "unset keys keep defaults")
	assert.Equal(t, 90*time.Second, s.Service.Timeout)
	assert.InDelta(t, 0.5, s.Detection.Confidence, 0)
	assert.Equal(t, 30, s.Detection.FPS)
	assert.Equal(t, "base", s.Detection.Model, "model is normalized")
	assert.Equal(t, []string{"Left", "Right"}, s.Detection.Classes, "classes are trimmed and deduplicated")
	assert.Equal(t, "127.0.0.1:9000", s.WebServer.Listen)
	assert.Same(t, s, GetSettings())
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	resetViper(t)
	path := writeConfig(t, "detection:\n  fps: 30\n")
	t.Setenv("MARKDETECT_DETECTION_FPS", "45")
	t.Setenv("MARKDETECT_DETECTION_CLASSES", "Straight,Slight Left")
	t.Setenv("MARKDETECT_SERVICE_TIMEOUT", "2m")

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 45, s.Detection.FPS)
	assert.Equal(t, []string{"Straight", "Slight Left"}, s.Detection.Classes)
	assert.Equal(t, 2*time.Minute, s.Service.Timeout)
}

func TestLoad_InvalidEnvironmentValue(t *testing.T) {
	resetViper(t)
	t.Setenv("MARKDETECT_DETECTION_CONFIDENCE", "1.5")

	_, err := Load(writeConfig(t, "debug: true\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MARKDETECT_DETECTION_CONFIDENCE")
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"confidence out of range", "detection:\n  confidence: 1.2\n", "confidence must be between 0 and 1"},
		{"fps out of range", "detection:\n  fps: 2\n", "fps must be between 5 and 60"},
		{"unknown model", "detection:\n  model: huge\n", "unknown model variant"},
		{"unknown class", "detection:\n  classes: [U-Turn]\n", "unknown class"},
		{"bad scheme", "service:\n  imageurl: ftp://host/detect/\n", "must use http or https"},
		{"bundle with path", "output:\n  videobundle: ../annotations.zip\n", "plain file name"},
		{"bad listen address", "webserver:\n  listen: localhost\n", "listen address"},
		{"negative rate limit", "webserver:\n  ratelimit: -1\n", "rate limit must not be negative"},
		{"mqtt bad scheme", "mqtt:\n  enabled: true\n  broker: http://broker:1883\n", "unsupported broker scheme"},
		{"mqtt wildcard topic", "mqtt:\n  enabled: true\n  topic: markdetect/#\n", "without wildcards"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper(t)

			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	resetViper(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_CollectsAllSections(t *testing.T) {
	s := DefaultSettings()
	s.Detection.FPS = 0
	s.WebServer.MaxUpload = 0

	err := s.Validate()
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ConfigFileName)

	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var written Settings
	require.NoError(t, yaml.Unmarshal(data, &written))
	assert.Equal(t, *DefaultSettings(), written)

	err = WriteDefaultConfig(path)
	assert.Error(t, err, "existing files are not overwritten")

	resetViper(t)
	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, s.Service.Timeout)
}

func TestValidate_MQTTIgnoredWhenDisabled(t *testing.T) {
	s := DefaultSettings()
	s.MQTT.Broker = "not a url"
	s.MQTT.Topic = ""

	assert.NoError(t, s.Validate())

	s.MQTT.Enabled = true
	assert.Error(t, s.Validate())
}

func TestLoad_ResolvesSecrets(t *testing.T) {
	resetViper(t)

	dir := t.TempDir()
	passwordFile := filepath.Join(dir, "mqtt_password")
	require.NoError(t, os.WriteFile(passwordFile, []byte("from-file\n"), 0o600))
	t.Setenv("MD_TEST_DSN", "https://key@o1.ingest.sentry.io/2")

	s, err := Load(writeConfig(t, "mqtt:\n  password: ignored\n  passwordfile: "+passwordFile+"\nsentry:\n  dsn: ${MD_TEST_DSN}\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-file", s.MQTT.Password)
	assert.Equal(t, "https://key@o1.ingest.sentry.io/2", s.Sentry.DSN)
}

func TestLoad_MissingSecretReference(t *testing.T) {
	resetViper(t)

	_, err := Load(writeConfig(t, "sentry:\n  dsn: ${MD_TEST_UNSET_DSN}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MD_TEST_UNSET_DSN")
}
