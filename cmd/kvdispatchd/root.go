package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const envPrefix = "KVDISPATCH"

var rootCmd = &cobra.Command{
	Use:   "kvdispatchd <subcommand>",
	Short: "topology-aware request dispatcher for a partitioned key-value cluster",
	Long: `routes key-value operations to the node owning their partition, retries them across
topology changes and waits for the requested durability`,
	Run: nil,
}

func init() {
	cobra.OnInitialize(loadEnvFiles)
	rootCmd.PersistentFlags().StringP("config-file", "c", "", "Path to the config file (eg ./config.yaml) [Optional]")
}

func loadEnvFiles() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}
