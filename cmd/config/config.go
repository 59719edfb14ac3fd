package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/markdetect/markdetect-go/internal/conf"
)

// Command creates the config command group.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	cmd.AddCommand(initCommand())

	return cmd
}

func initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config file",
		Long:  "Writes the default configuration as YAML. An existing file is never overwritten.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(conf.GetDefaultConfigPaths()[0], conf.ConfigFileName)
			if len(args) == 1 {
				path = args[0]
			}
			if err := conf.WriteDefaultConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
}
