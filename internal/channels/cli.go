package channels

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blackcat-ai/blackcat/internal/bus"
	"github.com/blackcat-ai/blackcat/internal/shared/cmdutils"
)

var cliExitCommands = map[string]bool{
	"exit":  true,
	"quit":  true,
	"/exit": true,
	"/quit": true,
	":q":    true,
}

// CLIChannel wires stdin/stdout into the bus for interactive gateway runs.
// Each input line becomes an inbound message; replies arrive through Send
// and are printed after the turn completes.
type CLIChannel struct {
	Base
	replies chan bus.OutboundMessage
}

func NewCLIChannel(b bus.Bus) *CLIChannel {
	return &CLIChannel{
		Base:    NewBase(bus.ChannelCLI, b, nil, ""),
		replies: make(chan bus.OutboundMessage, 16),
	}
}

// Start runs the stdin REPL until ctx is cancelled or stdin closes.
func (c *CLIChannel) Start(ctx context.Context) error {
	fmt.Printf("Interactive mode. Type 'exit' or press Ctrl+C to quit.\n\n")

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("You: ")

		scanned := make(chan bool, 1)
		go func() { scanned <- scanner.Scan() }()

		select {
		case ok := <-scanned:
			if !ok {
				fmt.Println("\nGoodbye!")
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if cliExitCommands[strings.ToLower(line)] {
			fmt.Println("Goodbye!")
			return nil
		}

		c.HandleMessage("user", bus.ChatIdDirect, line, nil, nil)
		c.waitForReply(ctx)
	}
}

// waitForReply prints progress updates until the terminal reply arrives. An
// empty terminal reply means the message tool already delivered the answer.
func (c *CLIChannel) waitForReply(ctx context.Context) {
	for {
		select {
		case msg := <-c.replies:
			if prog, _ := msg.Metadata["_progress"].(bool); prog {
				fmt.Printf("  … %s\n", msg.Content)
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

// Send queues an agent reply for the REPL loop to print. Empty content is
// allowed here: it is the turn-finished signal.
func (c *CLIChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	select {
	case c.replies <- msg:
	default:
	}
	return nil
}
