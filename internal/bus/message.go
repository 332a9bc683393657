// Package bus defines the message types that flow between channels and the agent.
package bus

import "time"

// Channel identifies the origin or destination platform of a message.
type Channel string

const (
	ChannelTelegram  Channel = "telegram"
	ChannelSlack     Channel = "slack"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelCLI       Channel = "cli"
	ChannelCron      Channel = "cron"
	ChannelHeartbeat Channel = "heartbeat"
	ChannelSystem    Channel = "system"
)

// ChatIdDirect is the chat id used for direct (non-group) scheduler traffic.
const ChatIdDirect = "direct"

// InboundMessage is a message received from a chat channel.
//
// When Channel is "system" the message was injected by a scheduler or
// subagent; ChatId then encodes the true origin as
// "origin_channel:origin_chat_id".
type InboundMessage struct {
	Channel   Channel
	SenderId  string         // user identifier within the channel
	ChatId    string         // chat / channel / DM identifier
	Content   string         // message text
	Timestamp time.Time      // when the message was received
	Media     []string       // local file paths of downloaded attachments
	Metadata  map[string]any // channel-specific extra data (message_id, username, …)
}

// NewInboundMessage creates an InboundMessage with Timestamp set to now.
func NewInboundMessage(channel Channel, senderId, chatId, content string) InboundMessage {
	return InboundMessage{
		Channel:   channel,
		SenderId:  senderId,
		ChatId:    chatId,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// SessionKey returns the unique key used to look up the conversation session.
// Format: "channel:chat_id".
func (m InboundMessage) SessionKey() string {
	return string(m.Channel) + ":" + m.ChatId
}

// Preview returns a short snippet of the message content for logging.
func (m InboundMessage) Preview() string {
	preview := m.Content
	if len(preview) > 80 {
		preview = preview[:80] + "..."
	}
	return preview
}

// OutboundMessage is a response to be sent back through a channel.
type OutboundMessage struct {
	Channel  Channel
	ChatId   string
	Content  string
	ReplyTo  string         // original message ID to quote/reply to (optional)
	Media    []string       // local file paths to attach (optional)
	Metadata map[string]any // channel-specific hints (thread_ts, parse_mode, …)
}

func NewOutboundMessage(channel Channel, chatId, content string) OutboundMessage {
	return OutboundMessage{
		Channel: channel,
		ChatId:  chatId,
		Content: content,
	}
}
