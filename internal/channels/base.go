// Package channels implements the chat-platform adapters. Every adapter
// embeds Base, which owns the shared behavior: allow-listing, typing
// indicator lifecycle, media intake, and chunked sends.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blackcat-ai/blackcat/internal/bus"
)

// maxChunkRunes is the per-message send limit shared by all adapters.
const maxChunkRunes = 4000

// Channel is one chat-platform adapter.
type Channel interface {
	Name() bus.Channel
	// Start runs the adapter's receive loop until ctx is cancelled.
	Start(ctx context.Context) error
	// Send delivers one outbound message to the platform.
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// Base holds the state and helpers shared by all channels.
type Base struct {
	name      bus.Channel
	bus       bus.Bus
	allowFrom []string // empty = allow all
	mediaDir  string

	typingMu sync.Mutex
	typing   map[string]context.CancelFunc // chat id → typing task cancel
}

// NewBase creates a Base. mediaDir may be empty when the adapter never
// downloads attachments.
func NewBase(name bus.Channel, b bus.Bus, allowFrom []string, mediaDir string) Base {
	return Base{
		name:      name,
		bus:       b,
		allowFrom: allowFrom,
		mediaDir:  mediaDir,
		typing:    make(map[string]context.CancelFunc),
	}
}

func (b *Base) Name() bus.Channel { return b.name }

// IsAllowed checks the sender against the allow list. An empty list allows
// everyone. Compound ids like "12345|alice" match when any part matches.
func (b *Base) IsAllowed(senderID string) bool {
	if len(b.allowFrom) == 0 {
		return true
	}
	for _, allowed := range b.allowFrom {
		if allowed == senderID {
			return true
		}
	}
	if strings.Contains(senderID, "|") {
		for _, part := range strings.Split(senderID, "|") {
			if part == "" {
				continue
			}
			for _, allowed := range b.allowFrom {
				if allowed == part {
					return true
				}
			}
		}
	}
	return false
}

// HandleMessage checks the allow list and publishes an inbound message.
func (b *Base) HandleMessage(senderID, chatID, content string, media []string, metadata map[string]any) {
	if !b.IsAllowed(senderID) {
		slog.Warn("sender not on allow list", "channel", b.name, "sender", senderID)
		return
	}

	msg := bus.NewInboundMessage(b.name, senderID, chatID, content)
	msg.Media = media
	msg.Metadata = metadata
	b.bus.PublishInbound(msg)
}

// StartTyping runs fn every interval until StopTyping(chatID) or ctx ends.
// A previous typing task for the same chat is replaced.
func (b *Base) StartTyping(ctx context.Context, chatID string, interval time.Duration, fn func()) {
	tctx, cancel := context.WithCancel(ctx)

	b.typingMu.Lock()
	if old, ok := b.typing[chatID]; ok {
		old()
	}
	b.typing[chatID] = cancel
	b.typingMu.Unlock()

	go func() {
		for {
			fn()
			select {
			case <-time.After(interval):
			case <-tctx.Done():
				return
			}
		}
	}()
}

// StopTyping cancels the typing task for one chat.
func (b *Base) StopTyping(chatID string) {
	b.typingMu.Lock()
	defer b.typingMu.Unlock()
	if cancel, ok := b.typing[chatID]; ok {
		cancel()
		delete(b.typing, chatID)
	}
}

// StopAllTyping cancels every typing task (shutdown path).
func (b *Base) StopAllTyping() {
	b.typingMu.Lock()
	defer b.typingMu.Unlock()
	for chatID, cancel := range b.typing {
		cancel()
		delete(b.typing, chatID)
	}
}

// BeforeSend is the shared entry gate for every adapter's Send: it stops the
// chat's typing task and rejects empty content.
func (b *Base) BeforeSend(msg bus.OutboundMessage) error {
	b.StopTyping(msg.ChatId)
	if strings.TrimSpace(msg.Content) == "" && len(msg.Media) == 0 {
		return fmt.Errorf("%s: refusing to send empty message", b.name)
	}
	return nil
}

// SaveMedia writes downloaded attachment bytes under the per-sender media
// directory with a sanitized filename. Returns the local path.
func (b *Base) SaveMedia(senderID, filename string, data []byte) (string, error) {
	if b.mediaDir == "" {
		return "", fmt.Errorf("%s: no media directory configured", b.name)
	}
	dir := filepath.Join(b.mediaDir, sanitizeFilename(senderID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	path := filepath.Join(dir, sanitizeFilename(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write media: %w", err)
	}
	return path, nil
}

// chunkMessage splits content into chunks of at most maxRunes runes,
// preferring newline breaks, then spaces, then a hard cut.
func chunkMessage(content string, maxRunes int) []string {
	runes := []rune(content)
	if len(runes) <= maxRunes {
		return []string{content}
	}

	var chunks []string
	for len(runes) > maxRunes {
		cut := maxRunes
		for i := maxRunes; i > maxRunes/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		if cut == maxRunes {
			for i := maxRunes; i > maxRunes/2; i-- {
				if runes[i-1] == ' ' {
					cut = i
					break
				}
			}
		}
		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), "\n "))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

// sanitizeFilename replaces path separators and other unsafe characters.
func sanitizeFilename(name string) string {
	const unsafe = `<>:"/\|?*`
	var sb strings.Builder
	for _, r := range name {
		if strings.ContainsRune(unsafe, r) || r == 0 {
			sb.WriteByte('_')
		} else {
			sb.WriteRune(r)
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		out = "unnamed"
	}
	return out
}
