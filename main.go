package main

import (
	"fmt"
	"os"

	"github.com/markdetect/markdetect-go/cmd"
	"github.com/markdetect/markdetect-go/internal/app"
	"github.com/markdetect/markdetect-go/internal/buildinfo"
)

// Build metadata, injected with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   = "dev"
	buildDate = ""
)

func main() {
	ctx := app.NewContext(buildinfo.NewContext(version, buildDate))

	rootCmd := cmd.RootCommand(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Command execution error: %v\n", err)
		ctx.Shutdown()
		os.Exit(1)
	}
}
