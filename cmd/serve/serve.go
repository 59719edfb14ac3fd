package serve

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/markdetect/markdetect-go/internal/api"
	"github.com/markdetect/markdetect-go/internal/app"
	"github.com/markdetect/markdetect-go/internal/observability"
)

// Command creates the serve command that runs the HTTP front end.
func Command(ctx *app.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web server",
		Long:  `Serve the detection API and result downloads over HTTP until interrupted.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(ctx)
		},
	}

	setupFlags(cmd)

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("listen", "l", "", "Address to listen on, host:port")
	cmd.Flags().Float64("rate-limit", 0, "Detection requests per second per client, 0 disables")

	// Flags only override the config file when set.
	_ = viper.BindPFlag("webserver.listen", cmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("webserver.ratelimit", cmd.Flags().Lookup("rate-limit"))
}

// Run builds the detection stack and serves it until SIGINT or SIGTERM.
func Run(ctx *app.Context) error {
	m, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	a, err := app.New(ctx.Settings, app.WithMetrics(m))
	if err != nil {
		return err
	}
	defer a.Close()

	server, err := api.New(ctx.Settings, a.Orchestrator, a.Handles,
		api.WithMetrics(m),
		api.WithBuildInfo(ctx.BuildInfo))
	if err != nil {
		return err
	}

	return server.StartWithGracefulShutdown()
}
