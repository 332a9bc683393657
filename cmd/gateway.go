package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/blackcat-ai/blackcat/internal/channels"
	"github.com/blackcat-ai/blackcat/internal/config"
	"github.com/blackcat-ai/blackcat/internal/dependency"
)

var gatewayInteractive bool

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the blackcat gateway",
	RunE:  runGateway,
}

func init() {
	gatewayCmd.Flags().BoolVarP(&gatewayInteractive, "interactive", "i", false, "Also read messages from stdin")
}

func runGateway(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	container, err := dependency.New(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("%s Starting blackcat gateway...\n", logo)

	channelMgr := channels.NewManager(cfg, container.MessageBus(), gatewayInteractive)
	if enabled := channelMgr.EnabledChannels(); len(enabled) > 0 {
		fmt.Printf("✓ Channels enabled: %s\n", strings.Join(enabled, ", "))
	} else {
		fmt.Println("Warning: no channels enabled")
	}

	// Graceful shutdown context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return container.AgentLoop().Run(gctx) })
	g.Go(func() error { return container.CronService().Start(gctx) })
	g.Go(func() error { return container.Heartbeat().Start(gctx) })
	g.Go(func() error { return container.DailySummary().Start(gctx) })
	g.Go(func() error { return channelMgr.StartAll(gctx) })

	fmt.Printf("%s Gateway running. Press Ctrl+C to stop.\n", logo)

	if err := g.Wait(); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "gateway error: %v\n", err)
		return err
	}
	fmt.Println("\nShutdown complete.")
	return nil
}
