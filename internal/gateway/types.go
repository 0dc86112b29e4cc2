package gateway

import (
	"context"
	"errors"
	"time"
)

// GatewayAdapter defines the interface for platform adapters.
type GatewayAdapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg *OutboundMessage) error
	OnMessage(handler MessageHandler)
	Download(ctx context.Context, att *Attachment) ([]byte, error)
	Status() AdapterStatus
	Close() error
}

// MessageHandler processes inbound messages from any platform.
type MessageHandler func(msg *InboundMessage)

// MaxAttachmentBytes caps downloads. It matches the Telegram bot API limit.
const MaxAttachmentBytes = 20 << 20

// ErrAttachmentTooLarge is returned when a file exceeds MaxAttachmentBytes.
var ErrAttachmentTooLarge = errors.New("attachment exceeds size limit")

// Attachment is a file shared alongside an inbound message. Data is set when
// the adapter already holds the bytes (REST uploads); otherwise Download
// fetches them.
type Attachment struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Data     []byte `json:"-"`
}

// InboundMessage is a normalized message from any platform.
type InboundMessage struct {
	Platform    string       `json:"platform"`
	ChannelID   string       `json:"channel_id"`
	UserID      string       `json:"user_id"`
	UserName    string       `json:"user_name"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
	ReplyTo     string       `json:"reply_to,omitempty"`

	// Done is closed when the requester stops waiting for replies. Nil for
	// chat platforms, where replies are always delivered.
	Done <-chan struct{} `json:"-"`
}

// OutboundMessage is a message sent to a specific platform channel.
// Final marks the last message of a conversational turn.
type OutboundMessage struct {
	Platform  string `json:"platform"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	ReplyTo   string `json:"reply_to,omitempty"`
	Final     bool   `json:"final,omitempty"`
}

// AdapterStatus reports connectivity of one adapter.
type AdapterStatus struct {
	Platform    string     `json:"platform"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Details     string     `json:"details,omitempty"`
}
