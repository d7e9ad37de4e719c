package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/astrohq/astrochat-go/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show astrochat configuration",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	configPath := config.GetConfigPath()
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Println("astrochat Status")
	fmt.Println()
	fmt.Printf("Config: %s\n", configPath)
	fmt.Printf("Server: %s:%d\n", cfg.IRC.Host, cfg.IRC.Port)
	fmt.Printf("Client: %s in %s\n", cfg.IRC.Nick, cfg.IRC.Channel)
	fmt.Printf("Monitor: %s\n", cfg.Monitor.Nick)
	fmt.Printf("Store: %s\n", cfg.Store.RedisURL)
	fmt.Printf("HTTP API: port %d\n", cfg.HTTP.Port)

	return nil
}
