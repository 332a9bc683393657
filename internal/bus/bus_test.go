package bus

import (
	"fmt"
	"testing"
)

// ─── SessionKey ────────────────────────────────────────────────────

func TestSessionKey(t *testing.T) {
	m := NewInboundMessage(ChannelTelegram, "42", "100", "hi")
	if got := m.SessionKey(); got != "telegram:100" {
		t.Errorf("SessionKey = %q, want %q", got, "telegram:100")
	}
}

func TestPreviewTruncates(t *testing.T) {
	long := ""
	for i := 0; i < 30; i++ {
		long += "0123456789"
	}
	m := NewInboundMessage(ChannelCLI, "u", "c", long)
	p := m.Preview()
	if len(p) != 83 {
		t.Errorf("Preview length = %d, want 83", len(p))
	}
	if p[80:] != "..." {
		t.Errorf("Preview does not end with ellipsis: %q", p[80:])
	}
}

// ─── FIFO ordering ─────────────────────────────────────────────────

func TestInboundFIFO(t *testing.T) {
	b := NewMessageBus(16)
	for i := 0; i < 10; i++ {
		b.PublishInbound(NewInboundMessage(ChannelCLI, "u", "c", fmt.Sprintf("msg-%d", i)))
	}
	for i := 0; i < 10; i++ {
		got := <-b.InboundChan()
		want := fmt.Sprintf("msg-%d", i)
		if got.Content != want {
			t.Fatalf("consume %d = %q, want %q", i, got.Content, want)
		}
	}
}

func TestOutboundFIFO(t *testing.T) {
	b := NewMessageBus(4)
	b.PublishOutbound(NewOutboundMessage(ChannelCLI, "c", "first"))
	b.PublishOutbound(NewOutboundMessage(ChannelCLI, "c", "second"))

	if got := (<-b.OutboundChan()).Content; got != "first" {
		t.Errorf("first consume = %q", got)
	}
	if got := (<-b.OutboundChan()).Content; got != "second" {
		t.Errorf("second consume = %q", got)
	}
	if b.OutboundSize() != 0 {
		t.Errorf("OutboundSize = %d after draining", b.OutboundSize())
	}
}
