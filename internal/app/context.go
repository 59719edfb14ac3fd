package app

import (
	"github.com/markdetect/markdetect-go/internal/buildinfo"
	"github.com/markdetect/markdetect-go/internal/conf"
)

// Context carries process-wide state between the root command and its
// subcommands. Settings is nil until Init has run.
type Context struct {
	BuildInfo  *buildinfo.Context
	ConfigFile string
	Settings   *conf.Settings

	flush func()
}

// NewContext returns a Context for the given build.
func NewContext(bi *buildinfo.Context) *Context {
	return &Context{BuildInfo: bi}
}

// Init loads the settings and installs logging and telemetry.
func (c *Context) Init() error {
	settings, err := conf.Load(c.ConfigFile)
	if err != nil {
		return err
	}
	if err := SetupLogging(settings); err != nil {
		return err
	}
	flush, err := SetupTelemetry(settings, c.BuildInfo)
	if err != nil {
		return err
	}

	c.Settings = settings
	c.flush = flush
	return nil
}

// Shutdown flushes telemetry installed by Init.
func (c *Context) Shutdown() {
	if c.flush != nil {
		c.flush()
		c.flush = nil
	}
}
