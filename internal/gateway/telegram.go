package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TelegramAdapter implements GatewayAdapter for Telegram using long polling.
type TelegramAdapter struct {
	token       string
	endpoint    string
	bot         *tgbotapi.BotAPI
	handler     MessageHandler
	http        *http.Client
	pacer       *rate.Limiter
	stopOnce    sync.Once
	connected   bool
	connectedAt time.Time
	lastError   string
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewTelegramAdapter creates a Telegram gateway adapter.
func NewTelegramAdapter(token string, logger *zap.Logger) *TelegramAdapter {
	return &TelegramAdapter{
		token:    token,
		endpoint: tgbotapi.APIEndpoint,
		http:     &http.Client{Timeout: 60 * time.Second},
		// keeps well under the 30 messages per second bot limit and the
		// one message per second per chat guideline
		pacer:  newPacer(3, 1),
		logger: logger,
	}
}

func (a *TelegramAdapter) Platform() string { return "telegram" }

func (a *TelegramAdapter) OnMessage(h MessageHandler) { a.handler = h }

// Connect authenticates the bot and starts polling for updates until ctx ends.
func (a *TelegramAdapter) Connect(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPIWithClient(a.token, a.endpoint, a.http)
	if err != nil {
		a.setState(false, fmt.Sprintf("login: %v", err))
		return fmt.Errorf("telegram login: %w", err)
	}
	a.mu.Lock()
	a.bot = bot
	a.mu.Unlock()
	a.setState(true, "")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		a.stopPolling()
	}()
	go func() {
		for update := range updates {
			if update.Message != nil {
				a.handleUpdate(update.Message)
			}
		}
	}()

	a.logger.Info("telegram adapter connected", zap.String("user", bot.Self.UserName))
	return nil
}

func (a *TelegramAdapter) setState(connected bool, errMsg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if connected && !a.connected {
		a.connectedAt = time.Now()
	}
	a.connected = connected
	a.lastError = errMsg
}

func (a *TelegramAdapter) handleUpdate(m *tgbotapi.Message) {
	if a.handler == nil {
		return
	}

	content := m.Text
	if content == "" {
		content = m.Caption
	}
	if m.IsCommand() {
		// strip the @botname suffix used in group chats
		content = "/" + m.Command()
		if args := m.CommandArguments(); args != "" {
			content += " " + args
		}
	}

	msg := &InboundMessage{
		Platform:  "telegram",
		ChannelID: strconv.FormatInt(m.Chat.ID, 10),
		Content:   content,
		Timestamp: m.Time(),
		ReplyTo:   strconv.Itoa(m.MessageID),
	}
	if m.From != nil {
		msg.UserID = strconv.FormatInt(m.From.ID, 10)
		msg.UserName = m.From.UserName
		if msg.UserName == "" {
			msg.UserName = m.From.FirstName
		}
	}
	if doc := m.Document; doc != nil {
		msg.Attachments = append(msg.Attachments, Attachment{
			ID:       doc.FileID,
			Name:     doc.FileName,
			MimeType: doc.MimeType,
			Size:     int64(doc.FileSize),
		})
	}
	a.handler(msg)
}

func (a *TelegramAdapter) client() (*tgbotapi.BotAPI, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.bot == nil {
		return nil, fmt.Errorf("telegram: not connected")
	}
	return a.bot, nil
}

// Download resolves the file id to a direct URL and fetches it.
func (a *TelegramAdapter) Download(ctx context.Context, att *Attachment) ([]byte, error) {
	if att.Size > MaxAttachmentBytes {
		return nil, ErrAttachmentTooLarge
	}
	bot, err := a.client()
	if err != nil {
		return nil, err
	}
	url, err := bot.GetFileDirectURL(att.ID)
	if err != nil {
		return nil, fmt.Errorf("telegram file url %s: %w", att.Name, err)
	}
	data, err := fetchURL(ctx, a.http, url, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram download %s: %w", att.Name, err)
	}
	return data, nil
}

// Send posts Markdown text, retrying a chunk as plain text when Telegram
// rejects its entities.
func (a *TelegramAdapter) Send(ctx context.Context, msg *OutboundMessage) error {
	bot, err := a.client()
	if err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(msg.ChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", msg.ChannelID, err)
	}

	return sendChunks(ctx, a.pacer, msg.Content, TelegramMessageLimit, func(chunk string) error {
		out := tgbotapi.NewMessage(chatID, chunk)
		out.ParseMode = tgbotapi.ModeMarkdown
		_, err := bot.Send(out)
		if err == nil {
			return nil
		}
		a.logger.Debug("telegram markdown rejected, sending plain text", zap.Error(err))
		out.ParseMode = ""
		if _, err := bot.Send(out); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
		return nil
	})
}

func (a *TelegramAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{
		Platform:  "telegram",
		Connected: a.connected,
		Error:     a.lastError,
	}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
		if a.bot != nil {
			s.Details = "bot=" + a.bot.Self.UserName
		}
	}
	return s
}

func (a *TelegramAdapter) stopPolling() {
	a.stopOnce.Do(func() {
		if bot, err := a.client(); err == nil {
			bot.StopReceivingUpdates()
		}
	})
}

// Close stops polling.
func (a *TelegramAdapter) Close() error {
	a.stopPolling()
	a.setState(false, "")
	return nil
}
