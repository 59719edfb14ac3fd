package classes

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/markdetect/markdetect-go/internal/detection"
)

// Command creates a new cobra.Command listing the detectable classes.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classes",
		Short: "List the road marking classes and model variants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Print(cmd.OutOrStdout())
		},
	}

	return cmd
}

// Print writes the class catalog and request defaults to w.
func Print(w io.Writer) error {
	var b strings.Builder
	b.WriteString("Classes:\n")
	for _, name := range detection.Classes() {
		fmt.Fprintf(&b, "  %s\n", name)
	}
	fmt.Fprintf(&b, "\nModels: %s (default), %s\n", detection.ModelSmall, detection.ModelBase)
	fmt.Fprintf(&b, "Confidence: default %.2f, range [0, 1]\n", detection.DefaultConfidence)
	fmt.Fprintf(&b, "FPS: default %d, range [%d, %d]\n", detection.DefaultFPS, detection.MinFPS, detection.MaxFPS)

	_, err := io.WriteString(w, b.String())
	return err
}
