package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/astrohq/astrochat-go/internal/chat"
	"github.com/astrohq/astrochat-go/internal/config"
	"github.com/astrohq/astrochat-go/internal/server"
	"github.com/astrohq/astrochat-go/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat core (client + monitor + HTTP API)",
	RunE:  runServe,
}

var serveConfigPath string

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Config file path")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	eventStore := openStore(cfg)
	dial := chat.TCPDialer(cfg.IRC.Host, cfg.IRC.Port)

	client := chat.NewClient(chat.ClientConfig{
		Nick:    cfg.IRC.Nick,
		Channel: cfg.IRC.Channel,
		Dial:    dial,
	})
	monitor := chat.NewMonitor(chat.MonitorConfig{
		Nick:  cfg.Monitor.Nick,
		Dial:  dial,
		Store: eventStore,
	})
	api := server.NewServer(server.ServerConfig{
		Port:    cfg.HTTP.Port,
		APIKey:  cfg.HTTP.APIKey,
		Client:  client,
		Monitor: monitor,
		Store:   eventStore,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		client.Stop()
		monitor.Stop()
		api.Stop()
		cancel()
	}()

	errCh := make(chan error, 3)
	go func() { errCh <- client.Start(ctx) }()
	go func() { errCh <- monitor.Start(ctx) }()
	go func() { errCh <- api.Start(ctx) }()

	return <-errCh
}

// openStore connects the durable log. An unreachable Redis degrades to
// the in-memory store so the chat UI keeps working without history
// durability.
func openStore(cfg config.Config) store.Store {
	rs, err := store.NewRedisStore(cfg.Store.RedisURL)
	if err != nil {
		log.Printf("[Store] Redis unavailable (%v), using in-memory store", err)
		return store.NewMemoryStore()
	}
	return rs
}
