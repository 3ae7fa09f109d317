/*
PURPOSE:
  Defines the 'list-models' subcommand.
  Helps debug connectivity and model discovery before a long sweep.

REQUIREMENTS:
  User-specified:
  - List available models.

  Implementation-discovered:
  - Useful validation step before full sweep.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine.Client.ListModels()

ERROR HANDLING:
  - Prints error if host incorrect.

IMPLEMENTATION RULES:
  - Simple output to stdout.

USAGE:
  ollama-sweep list-models --host http://ollama-host:11434

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/engine/client.go

MAINTENANCE:
  - None.
*/

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcabrer/ollama-sweep/internal/config"
	"github.com/mcabrer/ollama-sweep/internal/engine"
)

var listModelsHost string

var listModelsCmd = &cobra.Command{
	Use:   "list-models",
	Short: "List available models on the target host",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultConfig()
		if listModelsHost != "" {
			cfg.Host = listModelsHost
		}

		c := engine.NewClient(cfg)

		fmt.Printf("Querying %s...\n", c.Host())
		models, err := c.ListModels(cmd.Context())
		if err != nil {
			return err
		}
		for _, m := range models {
			fmt.Printf("- %s\n", m)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(listModelsCmd)
	listModelsCmd.Flags().StringVar(&listModelsHost, "host", "", "Ollama server URL")
}
