// Package main is the entry point for the mailrank CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "mailrank",
	Short: "Knowledge-augmented message prioritization",
	Long: `mailrank maintains a knowledge base built from workspace documents and
ranks batches of messages against it. Documents are chunked, embedded and
mined for entities and relationships; ranking combines retrieval similarity,
entity overlap, urgency markers and recency into an explainable score.

Each operation is a subcommand: serve runs the HTTP API, ingest processes
documents into the knowledge base, and rank scores a message batch from a
JSON file.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./mailrank.yaml or ~/.config/mailrank/config.yaml)")
	rootCmd.PersistentFlags().Bool("memory", false, "use in-memory stores instead of Postgres")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("mailrank")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "mailrank"))
		}
	}

	viper.SetEnvPrefix("MAILRANK")
	viper.AutomaticEnv()

	viper.SetDefault("embedding.dimensions", 384)
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("source.type", "local")
	viper.SetDefault("source.root", ".")

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, everything has defaults.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "read config: %v\n", err)
			os.Exit(1)
		}
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the mailrank version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
