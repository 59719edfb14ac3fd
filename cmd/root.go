package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/markdetect/markdetect-go/cmd/classes"
	configcmd "github.com/markdetect/markdetect-go/cmd/config"
	"github.com/markdetect/markdetect-go/cmd/detect"
	"github.com/markdetect/markdetect-go/cmd/serve"
	"github.com/markdetect/markdetect-go/internal/app"
)

// RootCommand creates and returns the root command
func RootCommand(ctx *app.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "markdetect",
		Short:         "Road marking detection client",
		Long:          "Submits images and videos to a road marking detection service and serves the results.",
		Version:       ctx.BuildInfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, ctx); err != nil {
		// Flag binding only fails on programming errors.
		panic(err)
	}

	classesCmd := classes.Command()
	configCmd := configcmd.Command()

	rootCmd.AddCommand(
		serve.Command(ctx),
		detect.Command(ctx),
		classesCmd,
		configCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Skip setup for commands that never touch the detection service
		if skipInit(cmd, classesCmd, configCmd) {
			return nil
		}
		return ctx.Init()
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		ctx.Shutdown()
	}

	return rootCmd
}

// skipInit reports whether cmd or one of its parents is in skip.
func skipInit(cmd *cobra.Command, skip ...*cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		for _, s := range skip {
			if c == s {
				return true
			}
		}
	}
	return false
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, ctx *app.Context) error {
	rootCmd.PersistentFlags().StringVarP(&ctx.ConfigFile, "config", "c", "", "Path to config file (default: search ./, ~/.config/markdetect, /etc/markdetect)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
