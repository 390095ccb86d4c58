// Command llmgov runs the request governance gateway and its tooling.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blueberrycongee/llmgov"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "llmgov",
		Short:         "llmgov - request governance for LLM backends",
		Version:       llmgov.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newDemoCmd(),
		newValidateCmd(),
		newTelemetryCmd(),
	)
	return root
}
