package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blueberrycongee/llmgov/internal/config"
)

func newValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a config file without starting the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromFile(configPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok (%d backends)\n", configPath, len(cfg.Backends))
			for _, w := range cfg.Warnings() {
				fmt.Fprintf(out, "warning [%s]: %s\n", w.Code, w.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "llmgov.yaml", "path to config file")
	return cmd
}
