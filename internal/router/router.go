package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/nidhogg/contract-analyzer/internal/agent"
	"github.com/nidhogg/contract-analyzer/internal/command"
	"github.com/nidhogg/contract-analyzer/internal/extract"
	"github.com/nidhogg/contract-analyzer/internal/gateway"
	"github.com/nidhogg/contract-analyzer/internal/orchestrator"
)

// Messenger sends replies and fetches attachments. *gateway.Gateway satisfies it.
type Messenger interface {
	Send(ctx context.Context, msg *gateway.OutboundMessage) error
	Download(ctx context.Context, platform string, att *gateway.Attachment) ([]byte, error)
}

// Analyzer runs one analysis. *orchestrator.Pipeline satisfies it.
type Analyzer interface {
	Run(ctx context.Context, text string) (*orchestrator.Report, error)
}

// sectionLimit bounds each agent section in a chat reply.
const sectionLimit = 3000

const (
	msgUnsupported = "❌ *Unsupported file format*\n\nPlease upload a PDF or DOCX file."
	msgDownloading = "📥 *Downloading file...*"
	msgExtracting  = "📖 *Extracting text from document...*"
	msgEmptyText   = "❌ *Could not extract text from document*\n\n" +
		"The file appears to be empty or contains only images."
	msgUploadHint = "📎 Upload a contract as a PDF or DOCX file and I'll analyze it for you.\n\n" +
		"Send /help to see what the agents look at."
	msgTruncated  = "\n\n_...truncated for length_"
	msgNoAnalysis = "No analysis available"
)

var msgSeparator = strings.Repeat("─", 30)

// MessageRouter turns inbound chat messages into commands or document analyses.
// Each message is handled on its own goroutine.
type MessageRouter struct {
	messenger Messenger
	analyzer  Analyzer
	commands  *command.Registry
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// New creates a new MessageRouter.
func New(messenger Messenger, analyzer Analyzer, commands *command.Registry, logger *zap.Logger) *MessageRouter {
	ctx, cancel := context.WithCancel(context.Background())
	return &MessageRouter{
		messenger: messenger,
		analyzer:  analyzer,
		commands:  commands,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Handle schedules an inbound message. Signature matches gateway.MessageHandler.
func (mr *MessageRouter) Handle(msg *gateway.InboundMessage) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if mr.closed {
		mr.logger.Warn("router closed, dropping message",
			zap.String("platform", msg.Platform),
			zap.String("channel", msg.ChannelID))
		return
	}
	mr.wg.Add(1)
	go func() {
		defer mr.wg.Done()
		ctx, cancel := context.WithCancel(mr.ctx)
		defer cancel()
		if msg.Done != nil {
			go func() {
				select {
				case <-msg.Done:
					cancel()
				case <-ctx.Done():
				}
			}()
		}
		mr.handle(ctx, msg)
	}()
}

// Close stops accepting messages and waits for in-flight work. When ctx ends
// first the remaining work is canceled and ctx.Err() returned.
func (mr *MessageRouter) Close(ctx context.Context) error {
	mr.mu.Lock()
	mr.closed = true
	mr.mu.Unlock()

	done := make(chan struct{})
	go func() {
		mr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		mr.cancel()
		return nil
	case <-ctx.Done():
		mr.cancel()
		<-done
		return ctx.Err()
	}
}

func (mr *MessageRouter) handle(ctx context.Context, msg *gateway.InboundMessage) {
	log := mr.logger.With(
		zap.String("platform", msg.Platform),
		zap.String("channel", msg.ChannelID),
		zap.String("user", msg.UserName),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("message handler panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			mr.reply(ctx, msg, errorMessage(fmt.Errorf("%v", r)), true)
		}
	}()

	if len(msg.Attachments) > 0 {
		mr.analyzeDocument(ctx, log, msg, &msg.Attachments[0])
		return
	}

	if command.IsCommand(msg.Content) {
		log.Info("dispatching command", zap.String("content", msg.Content))
		cc := &command.CommandContext{
			Platform:  msg.Platform,
			ChannelID: msg.ChannelID,
			UserID:    msg.UserID,
			UserName:  msg.UserName,
		}
		result, err := mr.commands.Dispatch(ctx, msg.Content, cc)
		if err != nil {
			log.Error("command dispatch error", zap.Error(err))
			mr.reply(ctx, msg, "Command error: "+err.Error(), true)
			return
		}
		mr.reply(ctx, msg, result.Content, true)
		return
	}

	mr.reply(ctx, msg, msgUploadHint, true)
}

// analyzeDocument downloads, extracts and analyzes one attachment, reporting
// progress along the way. The last reply of every path is marked Final.
func (mr *MessageRouter) analyzeDocument(ctx context.Context, log *zap.Logger, msg *gateway.InboundMessage, att *gateway.Attachment) {
	log = log.With(zap.String("file", att.Name))

	if !extract.SupportedExtension(att.Name) {
		log.Info("rejected unsupported file")
		mr.reply(ctx, msg, msgUnsupported, true)
		return
	}

	mr.reply(ctx, msg, msgDownloading, false)
	data, err := mr.messenger.Download(ctx, msg.Platform, att)
	if err != nil {
		log.Error("download failed", zap.Error(err))
		mr.reply(ctx, msg, errorMessage(err), true)
		return
	}

	mr.reply(ctx, msg, msgExtracting, false)
	text, err := extract.Extract(ctx, data, att.Name, att.MimeType)
	switch {
	case errors.Is(err, extract.ErrUnsupportedFormat):
		mr.reply(ctx, msg, msgUnsupported, true)
		return
	case errors.Is(err, extract.ErrEmptyDocument):
		mr.reply(ctx, msg, msgEmptyText, true)
		return
	case err != nil:
		log.Error("extraction failed", zap.Error(err))
		mr.reply(ctx, msg, errorMessage(err), true)
		return
	}
	if strings.TrimSpace(text) == "" {
		mr.reply(ctx, msg, msgEmptyText, true)
		return
	}

	mr.reply(ctx, msg, runningMessage(), false)
	report, err := mr.analyzer.Run(ctx, text)
	if abandoned(msg) {
		log.Info("requester went away, dropping analysis")
		return
	}
	if err != nil {
		log.Error("analysis failed", zap.Error(err))
		mr.reply(ctx, msg, errorMessage(err), true)
		return
	}
	log.Info("analysis delivered",
		zap.String("run_id", report.RunID),
		zap.Int("degraded", report.Degraded()))

	mr.reply(ctx, msg, completionHeader(att.Name, utf8.RuneCountInString(text)), false)
	for _, role := range agent.PhaseOneRoles {
		p, _ := agent.ProfileFor(role)
		mr.reply(ctx, msg, FormatSection(p.Icon, p.Title, report.Aggregated[role].Content), false)
	}
	mr.reply(ctx, msg, msgSeparator, false)
	mp, _ := agent.ProfileFor(agent.RoleManager)
	mr.reply(ctx, msg, FormatSection(mp.Icon, mp.Title, report.Consolidated.Content), true)
}

// abandoned reports whether the requester of msg stopped waiting.
func abandoned(msg *gateway.InboundMessage) bool {
	select {
	case <-msg.Done:
		return true
	default:
		return false
	}
}

func (mr *MessageRouter) reply(ctx context.Context, orig *gateway.InboundMessage, text string, final bool) {
	err := mr.messenger.Send(ctx, &gateway.OutboundMessage{
		Platform:  orig.Platform,
		ChannelID: orig.ChannelID,
		Content:   text,
		ReplyTo:   orig.ReplyTo,
		Final:     final,
	})
	if err != nil {
		mr.logger.Error("send reply failed",
			zap.String("platform", orig.Platform),
			zap.String("channel", orig.ChannelID),
			zap.Error(err))
	}
}

func runningMessage() string {
	var b strings.Builder
	b.WriteString("🔄 *Running multi-agent analysis...*\n\n")
	b.WriteString("This may take a minute. Analyzing with:")
	for _, p := range agent.Profiles() {
		fmt.Fprintf(&b, "\n• %s %s", p.Icon, agentLabel(p))
	}
	return b.String()
}

// agentLabel turns "Legal Analysis" into "Legal Agent" and the manager into "Manager Agent".
func agentLabel(p agent.Profile) string {
	if p.Role == agent.RoleManager {
		return "Manager Agent"
	}
	return strings.TrimSuffix(p.Title, " Analysis") + " Agent"
}

var numbers = message.NewPrinter(language.English)

func completionHeader(fileName string, chars int) string {
	return numbers.Sprintf("✅ *Analysis Complete!*\n\n📄 File: `%s`\n📏 Characters analyzed: %d", fileName, chars)
}

// FormatSection renders one agent's output for chat, cutting content over
// 3000 characters.
func FormatSection(icon, title, content string) string {
	if strings.TrimSpace(content) == "" {
		content = msgNoAnalysis
	}
	if utf8.RuneCountInString(content) > sectionLimit {
		content = agent.Truncate(content, sectionLimit) + msgTruncated
	}
	return fmt.Sprintf("%s *%s*\n\n%s", icon, title, content)
}

func errorMessage(err error) string {
	return fmt.Sprintf("❌ *Error during analysis*\n\nSomething went wrong: %v\n\nPlease try again or contact support.", err)
}
