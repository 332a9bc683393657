package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackcat-ai/blackcat/internal/agent"
	"github.com/blackcat-ai/blackcat/internal/bus"
	"github.com/blackcat-ai/blackcat/internal/config"
	"github.com/blackcat-ai/blackcat/internal/dependency"
	"github.com/blackcat-ai/blackcat/internal/shared/cmdutils"
)

var (
	agentMessage string
	agentSession string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Interact with the agent",
	RunE:  runAgent,
}

func init() {
	agentCmd.Flags().StringVarP(&agentMessage, "message", "m", "", "Send a single message and exit")
	agentCmd.Flags().StringVarP(&agentSession, "session", "s", "cli:direct", "Session key (channel:chat_id)")
}

var exitCommands = map[string]bool{
	"exit":  true,
	"quit":  true,
	"/exit": true,
	"/quit": true,
	":q":    true,
}

func runAgent(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	container, err := dependency.New(cfg)
	if err != nil {
		return err
	}

	channel, chatID := parseSessionKey(agentSession)

	if agentMessage != "" {
		return runSingleMessage(container.AgentLoop(), agentSession, channel, chatID)
	}
	return runInteractive(container.AgentLoop(), container.MessageBus(), channel, chatID)
}

// runSingleMessage sends one message to the agent and prints the response.
func runSingleMessage(loop *agent.AgentLoop, sessionKey, channel, chatID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	fmt.Fprintf(os.Stderr, "  ↳ thinking...\n")
	res := loop.ProcessDirect(ctx, agentMessage, sessionKey, channel, chatID)

	cmdutils.PrintResponse(res)
	return nil
}

// runInteractive starts the REPL loop: reads lines from stdin, sends each to
// the agent via the bus, and waits for each reply before prompting again.
func runInteractive(loop *agent.AgentLoop, msgBus bus.Bus, channel, chatID string) error {
	fmt.Printf("%s Interactive mode (type 'exit' or Ctrl+C to quit)\n\n", logo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listenForSignals(cancel)

	go func() { _ = loop.Run(ctx) }()

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("You: ")

		if !scanner.Scan() {
			fmt.Println("\nGoodbye!")
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if exitCommands[strings.ToLower(line)] {
			fmt.Println("Goodbye!")
			return nil
		}

		sendAndWait(ctx, msgBus, channel, chatID, line)
	}
}

// listenForSignals cancels ctx on SIGINT or SIGTERM and exits.
func listenForSignals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nGoodbye!")
		cancel()
		os.Exit(0)
	}()
}

// sendAndWait pushes a message onto the inbound bus and blocks until the
// agent publishes the terminal reply (or ctx is cancelled). An empty
// terminal reply means the message tool already delivered the answer.
func sendAndWait(ctx context.Context, msgBus bus.Bus, channel, chatID, content string) {
	msgBus.PublishInbound(bus.NewInboundMessage(bus.Channel(channel), "user", chatID, content))

	for {
		select {
		case msg := <-msgBus.OutboundChan():
			if prog, _ := msg.Metadata["_progress"].(bool); prog {
				fmt.Printf("  ↳ %s\n", msg.Content)
				continue
			}
			if msg.Content != "" {
				cmdutils.PrintResponse(msg.Content)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func parseSessionKey(key string) (channel, chatID string) {
	if i := strings.Index(key, ":"); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "cli", key
}
