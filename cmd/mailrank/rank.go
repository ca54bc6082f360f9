package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/siherrmann/mailrank/model"
)

var rankCmd = &cobra.Command{
	Use:   "rank <messages.json>",
	Short: "Score a message batch against the knowledge base",
	Long: `Rank reads a JSON array of messages from the given file (or stdin with -)
and prints the prioritized results. Messages outside the folder or time
window filters are skipped, individually failing messages are reported but
never fail the batch.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		messages, err := readMessages(args[0])
		if err != nil {
			return err
		}

		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		days, _ := cmd.Flags().GetInt("days")
		folder, _ := cmd.Flags().GetString("folder")
		top, _ := cmd.Flags().GetInt("top")
		minPriority, _ := cmd.Flags().GetFloat64("min-priority")
		search, _ := cmd.Flags().GetString("search")

		response, err := app.Rank(cmd.Context(), messages, model.RankRequest{
			Window:      time.Duration(days) * 24 * time.Hour,
			Folder:      folder,
			Top:         top,
			MinPriority: minPriority,
			Search:      search,
		})
		if err != nil {
			return err
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(response)
	},
}

func readMessages(path string) ([]*model.Message, error) {
	var reader *os.File
	if path == "-" {
		reader = os.Stdin
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open messages file: %w", err)
		}
		defer file.Close()
		reader = file
	}

	var messages []*model.Message
	if err := json.NewDecoder(reader).Decode(&messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return messages, nil
}

func init() {
	rankCmd.Flags().Int("days", 0, "only rank messages from the last N days")
	rankCmd.Flags().String("folder", "", "only rank messages in this folder")
	rankCmd.Flags().Int("top", 0, "return at most N results")
	rankCmd.Flags().Float64("min-priority", 0, "drop results scoring below this threshold")
	rankCmd.Flags().String("search", "", "retrieval query overriding per-message text")

	rootCmd.AddCommand(rankCmd)
}
