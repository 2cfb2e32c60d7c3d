package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "weather-etl",
	Short: "Stage OpenWeather observations in MongoDB and load them into PostgreSQL",
	Long: `weather-etl fetches current weather for a fixed set of cities, stages the
raw responses in MongoDB and loads flattened readings into PostgreSQL.

Examples:
  weather-etl serve
  weather-etl run all
  weather-etl run load --sqlite ./readings.db
  weather-etl migrate`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("sqlite", "", "use a local SQLite file instead of POSTGRES_URI")
	rootCmd.PersistentFlags().Bool("memory-staging", false, "stage raw documents in memory instead of MongoDB")

	rootCmd.AddCommand(serveCmd, runCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
