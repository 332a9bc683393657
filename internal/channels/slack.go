package channels

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	slackgo "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/blackcat-ai/blackcat/internal/bus"
	"github.com/blackcat-ai/blackcat/internal/config"
)

// SlackChannel receives events over Socket Mode. Direct messages always
// reach the agent; channel messages only when the bot is mentioned.
type SlackChannel struct {
	Base
	cfg       *config.SlackConfig
	webClient *slackgo.Client
	smClient  *socketmode.Client
	botUserID string
}

func NewSlackChannel(cfg *config.SlackConfig, b bus.Bus) *SlackChannel {
	return &SlackChannel{
		Base: NewBase(bus.ChannelSlack, b, cfg.AllowFrom, ""),
		cfg:  cfg,
	}
}

func (s *SlackChannel) Start(ctx context.Context) error {
	if s.cfg.BotToken == "" || s.cfg.AppToken == "" {
		slog.Warn("slack: bot/app token not configured")
		<-ctx.Done()
		return ctx.Err()
	}

	s.webClient = slackgo.New(s.cfg.BotToken, slackgo.OptionAppLevelToken(s.cfg.AppToken))

	if resp, err := s.webClient.AuthTestContext(ctx); err == nil {
		s.botUserID = resp.UserID
		slog.Info("slack connected", "bot_user_id", s.botUserID)
	}

	s.smClient = socketmode.New(s.webClient)
	go s.smClient.RunContext(ctx) //nolint:errcheck

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-s.smClient.Events:
			if !ok {
				return nil
			}
			s.handleEvent(evt)
		}
	}
}

func (s *SlackChannel) handleEvent(evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	s.smClient.Ack(*evt.Request)

	cb, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	inner := cb.InnerEvent
	if inner.Type != "message" && inner.Type != "app_mention" {
		return
	}
	s.handleInnerEvent(inner)
}

func (s *SlackChannel) handleInnerEvent(ev slackevents.EventsAPIInnerEvent) {
	data, ok := ev.Data.(map[string]any)
	if !ok {
		return
	}
	userID, _ := data["user"].(string)
	channel, _ := data["channel"].(string)
	text, _ := data["text"].(string)
	subtype, _ := data["subtype"].(string)
	channelType, _ := data["channel_type"].(string)
	ts, _ := data["ts"].(string)
	threadTS, _ := data["thread_ts"].(string)

	if subtype != "" || userID == "" || channel == "" || userID == s.botUserID {
		return
	}
	// A mention in a channel arrives as both message and app_mention;
	// process only the app_mention copy.
	if ev.Type == "message" && s.botUserID != "" && strings.Contains(text, "<@"+s.botUserID+">") {
		return
	}
	// Channel messages without a mention are ambient noise.
	if channelType != "im" && ev.Type != "app_mention" {
		return
	}

	text = s.stripMention(text)

	if s.cfg.ReplyInThread && threadTS == "" {
		threadTS = ts
	}

	s.HandleMessage(userID, channel, text, nil, map[string]any{
		"thread_ts":    threadTS,
		"channel_type": channelType,
	})
}

func (s *SlackChannel) stripMention(text string) string {
	if s.botUserID == "" {
		return text
	}
	re := regexp.MustCompile(`<@` + regexp.QuoteMeta(s.botUserID) + `>\s*`)
	return strings.TrimSpace(re.ReplaceAllString(text, ""))
}

func (s *SlackChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if s.webClient == nil {
		return nil
	}
	if err := s.BeforeSend(msg); err != nil {
		return err
	}

	threadTS, _ := msg.Metadata["thread_ts"].(string)
	channelType, _ := msg.Metadata["channel_type"].(string)

	for _, chunk := range chunkMessage(msg.Content, maxChunkRunes) {
		options := []slackgo.MsgOption{slackgo.MsgOptionText(chunk, false)}
		if threadTS != "" && channelType != "im" {
			options = append(options, slackgo.MsgOptionTS(threadTS))
		}
		if _, _, err := s.webClient.PostMessageContext(ctx, msg.ChatId, options...); err != nil {
			return err
		}
	}
	return nil
}
