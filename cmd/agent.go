package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/astrohq/astrochat-go/internal/agent"
	"github.com/astrohq/astrochat-go/internal/chat"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Join a channel as a bot and answer messages via an external command",
	RunE:  runAgent,
}

var (
	agentHost    string
	agentPort    int
	agentChannel string
	agentNick    string
	agentExec    []string
	agentTimeout time.Duration
)

func init() {
	agentCmd.Flags().StringVar(&agentHost, "host", "127.0.0.1", "IRC server hostname")
	agentCmd.Flags().IntVar(&agentPort, "port", 6667, "IRC server port")
	agentCmd.Flags().StringVar(&agentChannel, "channel", "#astro", "Channel to join")
	agentCmd.Flags().StringVar(&agentNick, "nick", "astro-agent", "Bot nickname")
	agentCmd.Flags().StringSliceVar(&agentExec, "exec", nil, "Responder command (prompt appended as final arg; empty echoes)")
	agentCmd.Flags().DurationVar(&agentTimeout, "timeout", 5*time.Minute, "Responder timeout")
	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	client := chat.NewClient(chat.ClientConfig{
		Nick:     agentNick,
		RealName: "Astro Chat Agent",
		Channel:  agentChannel,
		Dial:     chat.TCPDialer(agentHost, agentPort),
	})
	bridge := agent.NewBridge(client, agent.ExecResponder(agentExec, agentTimeout))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		client.Stop()
		cancel()
	}()

	fmt.Printf("Joining %s on %s:%d as %s, answering all messages\n",
		agentChannel, agentHost, agentPort, agentNick)

	errCh := make(chan error, 2)
	go func() { errCh <- client.Start(ctx) }()
	go func() { errCh <- bridge.Run(ctx) }()

	return <-errCh
}
