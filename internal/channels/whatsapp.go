package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blackcat-ai/blackcat/internal/bus"
	"github.com/blackcat-ai/blackcat/internal/config"
)

// WhatsAppChannel talks JSON frames to a local bridge process over a
// websocket. The bridge owns the actual WhatsApp session; this side only
// relays messages and reconnects when the bridge drops.
type WhatsAppChannel struct {
	Base
	cfg *config.WhatsAppConfig

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

func NewWhatsAppChannel(cfg *config.WhatsAppConfig, b bus.Bus) *WhatsAppChannel {
	return &WhatsAppChannel{
		Base: NewBase(bus.ChannelWhatsApp, b, cfg.AllowFrom, ""),
		cfg:  cfg,
	}
}

func (w *WhatsAppChannel) Start(ctx context.Context) error {
	bridgeURL := w.cfg.BridgeURL
	if bridgeURL == "" {
		bridgeURL = "ws://localhost:3001"
	}
	slog.Info("whatsapp: connecting to bridge", "url", bridgeURL)

	for {
		if err := w.connectOnce(ctx, bridgeURL); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("whatsapp: bridge connection lost, retrying in 5s", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (w *WhatsAppChannel) connectOnce(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	w.setConn(conn, true)
	defer func() {
		conn.Close()
		w.setConn(nil, false)
	}()

	slog.Info("whatsapp: bridge connected")

	if w.cfg.BridgeToken != "" {
		auth, _ := json.Marshal(map[string]string{"type": "auth", "token": w.cfg.BridgeToken})
		_ = conn.WriteMessage(websocket.TextMessage, auth)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		w.handleFrame(raw)
	}
}

func (w *WhatsAppChannel) setConn(conn *websocket.Conn, connected bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn = conn
	w.connected = connected
}

func (w *WhatsAppChannel) handleFrame(raw []byte) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return
	}
	frameType, _ := data["type"].(string)
	switch frameType {
	case "message":
		w.handleBridgeMessage(data)
	case "status":
		status, _ := data["status"].(string)
		slog.Info("whatsapp: bridge status", "status", status)
		w.mu.Lock()
		w.connected = status == "connected"
		w.mu.Unlock()
	case "qr":
		slog.Info("whatsapp: scan the QR code in the bridge terminal")
	case "error":
		slog.Error("whatsapp: bridge error", "error", data["error"])
	}
}

func (w *WhatsAppChannel) handleBridgeMessage(data map[string]any) {
	sender, _ := data["sender"].(string)
	pn, _ := data["pn"].(string)
	content, _ := data["content"].(string)

	userID := pn
	if userID == "" {
		userID = sender
	}
	// Strip the JID suffix: "4915551234@s.whatsapp.net" → "4915551234".
	senderID, _, _ := strings.Cut(userID, "@")

	chatID := sender
	if chatID == "" {
		chatID = userID
	}

	w.HandleMessage(senderID, chatID, content, nil, map[string]any{
		"message_id": data["id"],
		"timestamp":  data["timestamp"],
		"is_group":   data["isGroup"],
	})
}

func (w *WhatsAppChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	w.mu.Lock()
	conn, connected := w.conn, w.connected
	w.mu.Unlock()

	if conn == nil || !connected {
		return fmt.Errorf("whatsapp: bridge not connected")
	}
	if err := w.BeforeSend(msg); err != nil {
		return err
	}

	for _, chunk := range chunkMessage(msg.Content, maxChunkRunes) {
		payload, _ := json.Marshal(map[string]string{
			"type": "send",
			"to":   msg.ChatId,
			"text": chunk,
		})
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return err
		}
	}
	return nil
}
