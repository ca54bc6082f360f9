package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [prefix]",
	Short: "Process documents into the knowledge base",
	Long: `Ingest lists the documents under the prefix from the configured source,
runs each through the processing pipeline and stores the resulting chunks,
entities and relationships. Re-ingesting a document replaces its chunks and
merges its entities, so the command is safe to repeat.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		source, err := buildSource(cmd.Context())
		if err != nil {
			return err
		}

		prefix := viper.GetString("ingest.prefix")
		if len(args) > 0 {
			prefix = args[0]
		}

		report, err := app.IngestPrefix(cmd.Context(), source, prefix)
		if err != nil {
			return err
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
