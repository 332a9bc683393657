package channels

import (
	"context"
	"log/slog"
	"sort"

	"github.com/blackcat-ai/blackcat/internal/bus"
	"github.com/blackcat-ai/blackcat/internal/config"
)

// Manager owns the enabled channel adapters and routes outbound messages
// from the bus to the right adapter.
type Manager struct {
	channels map[bus.Channel]Channel
	bus      bus.Bus
}

// NewManager registers every enabled channel. The CLI channel is registered
// only when interactive is true (gateway run from a terminal).
func NewManager(cfg *config.Config, b bus.Bus, interactive bool) *Manager {
	m := &Manager{
		channels: make(map[bus.Channel]Channel),
		bus:      b,
	}

	mediaDir := cfg.MediaPath()

	if interactive {
		m.register(NewCLIChannel(b))
	}
	if cfg.Channels.Telegram.Enabled {
		m.register(NewTelegramChannel(&cfg.Channels.Telegram, b, mediaDir))
	}
	if cfg.Channels.Slack.Enabled {
		m.register(NewSlackChannel(&cfg.Channels.Slack, b))
	}
	if cfg.Channels.WhatsApp.Enabled {
		m.register(NewWhatsAppChannel(&cfg.Channels.WhatsApp, b))
	}

	return m
}

func (m *Manager) register(ch Channel) {
	m.channels[ch.Name()] = ch
	slog.Info("channel enabled", "name", ch.Name())
}

// EnabledChannels returns the sorted names of registered channels.
func (m *Manager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for n := range m.channels {
		names = append(names, string(n))
	}
	sort.Strings(names)
	return names
}

// StartAll starts every adapter plus the outbound dispatcher and blocks
// until ctx is cancelled.
func (m *Manager) StartAll(ctx context.Context) error {
	go m.dispatchOutbound(ctx)

	for name, ch := range m.channels {
		go func(n bus.Channel, c Channel) {
			slog.Info("starting channel", "name", n)
			if err := c.Start(ctx); err != nil && ctx.Err() == nil {
				slog.Error("channel exited", "name", n, "err", err)
			}
		}(name, ch)
	}

	<-ctx.Done()
	return ctx.Err()
}

// dispatchOutbound routes each outbound message to its adapter's Send.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-m.bus.OutboundChan():
			ch, ok := m.channels[msg.Channel]
			if !ok {
				slog.Debug("no adapter for outbound message", "channel", msg.Channel)
				continue
			}
			if err := ch.Send(ctx, msg); err != nil {
				slog.Error("send failed", "channel", msg.Channel, "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
