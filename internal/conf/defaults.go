// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/markdetect/markdetect-go/internal/archive"
	"github.com/markdetect/markdetect-go/internal/detection"
	"github.com/markdetect/markdetect-go/internal/logger"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	applyDefaults(viper.GetViper())
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("service.imageurl", "http://localhost:8001/detect/image/")
	v.SetDefault("service.videourl", "http://localhost:8001/detect/video/")
	v.SetDefault("service.timeout", 10*time.Minute)
	v.SetDefault("service.useragent", "markdetect")

	v.SetDefault("detection.confidence", detection.DefaultConfidence)
	v.SetDefault("detection.fps", detection.DefaultFPS)
	v.SetDefault("detection.model", string(detection.DefaultModel))
	v.SetDefault("detection.classes", detection.Classes())
	v.SetDefault("detection.maxentrysize", archive.DefaultMaxEntrySize)

	v.SetDefault("output.imagebundle", detection.DefaultImageBundleName)
	v.SetDefault("output.videobundle", detection.DefaultVideoBundleName)

	v.SetDefault("webserver.listen", ":8080")
	v.SetDefault("webserver.maxupload", 512<<20)
	v.SetDefault("webserver.ratelimit", 1.0)
	v.SetDefault("webserver.rateburst", 5)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientid", "markdetect")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.passwordfile", "")
	v.SetDefault("mqtt.topic", "markdetect")
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("logging.defaultlevel", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.path", logger.DefaultLogPath)
	v.SetDefault("logging.file.level", logger.DefaultLogLevel)

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.dsnfile", "")
	v.SetDefault("sentry.environment", "production")
}
