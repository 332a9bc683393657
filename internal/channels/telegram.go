package channels

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/blackcat-ai/blackcat/internal/bus"
	"github.com/blackcat-ai/blackcat/internal/config"
)

// TelegramChannel receives updates via long polling.
type TelegramChannel struct {
	Base
	cfg *config.TelegramConfig
	bot *tgbotapi.BotAPI
}

func NewTelegramChannel(cfg *config.TelegramConfig, b bus.Bus, mediaDir string) *TelegramChannel {
	return &TelegramChannel{
		Base: NewBase(bus.ChannelTelegram, b, cfg.AllowFrom, mediaDir),
		cfg:  cfg,
	}
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token not configured")
	}
	bot, err := tgbotapi.NewBotAPI(t.cfg.Token)
	if err != nil {
		return fmt.Errorf("telegram: create bot: %w", err)
	}
	t.bot = bot
	slog.Info("telegram connected", "username", bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go t.handleUpdate(ctx, update)
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			t.StopAllTyping()
			return ctx.Err()
		}
	}
}

func (t *TelegramChannel) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	// Compound sender id: numeric id plus username when present.
	senderID := strconv.FormatInt(msg.From.ID, 10)
	if msg.From.UserName != "" {
		senderID += "|" + msg.From.UserName
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	content := msg.Text
	if msg.Caption != "" {
		content = msg.Caption
	}

	var media []string
	if len(msg.Photo) > 0 {
		photo := msg.Photo[len(msg.Photo)-1]
		if path, err := t.downloadFile(senderID, photo.FileID, ".jpg"); err == nil {
			media = append(media, path)
			content = strings.TrimSpace(content + "\n[image: " + path + "]")
		}
	}
	if msg.Document != nil {
		if path, err := t.downloadFile(senderID, msg.Document.FileID, ""); err == nil {
			media = append(media, path)
			content = strings.TrimSpace(content + "\n[file: " + path + "]")
		}
	}

	if content == "" {
		content = "[empty message]"
	}

	t.StartTyping(ctx, chatID, 4*time.Second, func() {
		action := tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping)
		_, _ = t.bot.Send(action)
	})

	t.HandleMessage(senderID, chatID, content, media, map[string]any{
		"message_id": msg.MessageID,
		"user_id":    msg.From.ID,
		"username":   msg.From.UserName,
		"is_group":   msg.Chat.Type != "private",
	})
}

// downloadFile fetches one Telegram file into the media directory.
func (t *TelegramChannel) downloadFile(senderID, fileID, ext string) (string, error) {
	file, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return "", err
	}
	if ext == "" {
		ext = filepath.Ext(file.FilePath)
	}

	resp, err := http.Get(file.Link(t.cfg.Token))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	name := fileID
	if len(name) > 16 {
		name = name[:16]
	}
	return t.SaveMedia(senderID, name+ext, data)
}

func (t *TelegramChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if t.bot == nil {
		return fmt.Errorf("telegram: bot not running")
	}
	if err := t.BeforeSend(msg); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(msg.ChatId, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q", msg.ChatId)
	}

	for _, path := range msg.Media {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
		if _, err := t.bot.Send(doc); err != nil {
			slog.Warn("telegram media send failed", "path", path, "err", err)
		}
	}
	if msg.Content == "" {
		return nil
	}

	var replyMsgID int
	if t.cfg.ReplyToMessage {
		switch v := msg.Metadata["message_id"].(type) {
		case int:
			replyMsgID = v
		case float64:
			replyMsgID = int(v)
		}
	}

	for _, chunk := range chunkMessage(msg.Content, maxChunkRunes) {
		m := tgbotapi.NewMessage(chatID, markdownToTelegramHTML(chunk))
		m.ParseMode = "HTML"
		m.ReplyToMessageID = replyMsgID
		if _, err := t.bot.Send(m); err != nil {
			// HTML can fail on odd markup; retry as plain text.
			plain := tgbotapi.NewMessage(chatID, chunk)
			plain.ReplyToMessageID = replyMsgID
			if _, err := t.bot.Send(plain); err != nil {
				return fmt.Errorf("telegram send: %w", err)
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Markdown → Telegram HTML

var (
	reTGCodeBlock  = regexp.MustCompile("(?s)```[\\w]*\\n?([\\s\\S]*?)```")
	reTGInlineCode = regexp.MustCompile("`([^`]+)`")
	reTGHeader     = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	reTGBlockquote = regexp.MustCompile(`(?m)^>\s*(.*)$`)
	reTGLink       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	reTGBold1      = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reTGBold2      = regexp.MustCompile(`__(.+?)__`)
	reTGStrike     = regexp.MustCompile(`~~(.+?)~~`)
	reTGBullet     = regexp.MustCompile(`(?m)^[-*]\s+`)
)

// markdownToTelegramHTML converts common markdown to the HTML subset
// Telegram accepts. Code spans are extracted first so their contents
// survive the other passes untouched.
func markdownToTelegramHTML(text string) string {
	if text == "" {
		return ""
	}

	var codeBlocks []string
	text = reTGCodeBlock.ReplaceAllStringFunc(text, func(m string) string {
		groups := reTGCodeBlock.FindStringSubmatch(m)
		codeBlocks = append(codeBlocks, groups[1])
		return fmt.Sprintf("\x00CB%d\x00", len(codeBlocks)-1)
	})

	var inlineCodes []string
	text = reTGInlineCode.ReplaceAllStringFunc(text, func(m string) string {
		groups := reTGInlineCode.FindStringSubmatch(m)
		inlineCodes = append(inlineCodes, groups[1])
		return fmt.Sprintf("\x00IC%d\x00", len(inlineCodes)-1)
	})

	text = reTGHeader.ReplaceAllString(text, "$1")
	text = reTGBlockquote.ReplaceAllString(text, "$1")

	text = htmlEscape(text)

	text = reTGLink.ReplaceAllString(text, `<a href="$2">$1</a>`)
	text = reTGBold1.ReplaceAllString(text, "<b>$1</b>")
	text = reTGBold2.ReplaceAllString(text, "<b>$1</b>")
	text = reTGStrike.ReplaceAllString(text, "<s>$1</s>")
	text = reTGBullet.ReplaceAllString(text, "• ")

	for i, code := range inlineCodes {
		text = strings.ReplaceAll(text, fmt.Sprintf("\x00IC%d\x00", i),
			"<code>"+htmlEscape(code)+"</code>")
	}
	for i, code := range codeBlocks {
		text = strings.ReplaceAll(text, fmt.Sprintf("\x00CB%d\x00", i),
			"<pre><code>"+htmlEscape(code)+"</code></pre>")
	}
	return text
}

func htmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
