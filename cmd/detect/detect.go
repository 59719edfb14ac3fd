package detect

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/markdetect/markdetect-go/internal/app"
	"github.com/markdetect/markdetect-go/internal/detection"
	"github.com/markdetect/markdetect-go/internal/errors"
	"github.com/markdetect/markdetect-go/internal/logger"
)

// Options selects the input and output of a one-shot detection.
type Options struct {
	Kind      detection.MediaKind
	Input     string
	OutputDir string
}

// Command creates the detect command with one subcommand per media kind.
func Command(ctx *app.Context) *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run a single detection and save the results",
		Long: `Submit one image or video to the detection service and write the processed
media and annotation bundle to the output directory.`,
	}

	for _, kind := range []detection.MediaKind{detection.Image, detection.Video} {
		cmd.AddCommand(kindCommand(ctx, kind, &outputDir))
	}

	setupFlags(cmd, &outputDir)

	return cmd
}

func kindCommand(ctx *app.Context, kind detection.MediaKind, outputDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   fmt.Sprintf("%s [input]", kind),
		Short: fmt.Sprintf("Detect road markings in a %s file", kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(ctx.Settings)
			if err != nil {
				return err
			}
			defer a.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return Run(runCtx, a, Options{Kind: kind, Input: args[0], OutputDir: *outputDir}, cmd.OutOrStdout())
		},
	}
}

// setupFlags configures the detection parameter flags shared by both kinds.
func setupFlags(cmd *cobra.Command, outputDir *string) {
	flags := cmd.PersistentFlags()
	flags.StringVarP(outputDir, "output", "o", ".", "Directory to write results to")
	flags.Float64("confidence", detection.DefaultConfidence, "Confidence threshold between 0 and 1")
	flags.Int("fps", detection.DefaultFPS, fmt.Sprintf("Frames per second to analyze, video only (%d-%d)", detection.MinFPS, detection.MaxFPS))
	flags.String("model", string(detection.DefaultModel), "Model variant: small or base")
	flags.StringSlice("class", nil, "Class to detect, repeatable (default all)")

	_ = viper.BindPFlag("detection.confidence", flags.Lookup("confidence"))
	_ = viper.BindPFlag("detection.fps", flags.Lookup("fps"))
	_ = viper.BindPFlag("detection.model", flags.Lookup("model"))
	_ = viper.BindPFlag("detection.classes", flags.Lookup("class"))
}

// Run submits opts.Input and writes every artifact of the result to
// opts.OutputDir. A summary is printed to w.
func Run(ctx context.Context, a *app.App, opts Options, w io.Writer) error {
	log := logger.Global().Module("detect")

	data, err := os.ReadFile(opts.Input)
	if err != nil {
		return errors.New(fmt.Errorf("failed to read input: %w", err)).
			Component("detect").
			Category(errors.CategoryFileIO).
			Context("path", opts.Input).
			Build()
	}

	req := a.NewRequest(opts.Kind)
	req.File = &detection.File{Name: filepath.Base(opts.Input), Data: data}

	res, err := a.Orchestrator.Submit(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: %w", errors.UserMessage(err), err)
	}

	written, err := writeArtifacts(res, opts.OutputDir)
	if err != nil {
		return err
	}

	log.Info("detection results saved",
		logger.String("request_id", res.RequestID),
		logger.String("shape", res.Shape),
		logger.Int("files", len(written)))

	fmt.Fprintf(w, "Detection %s complete (%s response)\n", opts.Kind, res.Shape)
	for _, path := range written {
		fmt.Fprintf(w, "  %s\n", path)
	}
	return nil
}

// writeArtifacts saves each distinct file of res into dir and returns the
// written paths. Handles sharing a filename hold the same bytes.
func writeArtifacts(res *detection.Result, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(fmt.Errorf("failed to create output directory: %w", err)).
			Component("detect").
			Category(errors.CategoryFileIO).
			Context("path", dir).
			Build()
	}

	seen := make(map[string]bool)
	var written []string
	for _, h := range res.Handles() {
		if seen[h.Filename()] {
			continue
		}
		seen[h.Filename()] = true

		path := filepath.Join(dir, h.Filename())
		if err := os.WriteFile(path, h.Data(), 0o644); err != nil {
			return written, errors.New(fmt.Errorf("failed to write result: %w", err)).
				Component("detect").
				Category(errors.CategoryFileIO).
				Context("path", path).
				Build()
		}
		written = append(written, path)
	}
	return written, nil
}
