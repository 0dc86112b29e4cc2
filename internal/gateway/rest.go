package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultRESTTimeout = 5 * time.Minute

// RESTAdapter implements GatewayAdapter for HTTP-based message ingestion.
// Each request opens a channel, dispatches one inbound message and returns
// every reply up to the one marked Final.
type RESTAdapter struct {
	handler  MessageHandler
	channels map[string]chan *OutboundMessage // channelID -> pending responses
	timeout  time.Duration
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewRESTAdapter creates a REST gateway adapter. A zero timeout uses five minutes.
func NewRESTAdapter(timeout time.Duration, logger *zap.Logger) *RESTAdapter {
	if timeout <= 0 {
		timeout = defaultRESTTimeout
	}
	return &RESTAdapter{
		channels: make(map[string]chan *OutboundMessage),
		timeout:  timeout,
		logger:   logger,
	}
}

func (a *RESTAdapter) Platform() string { return "rest" }

func (a *RESTAdapter) Connect(_ context.Context) error { return nil }

func (a *RESTAdapter) OnMessage(h MessageHandler) { a.handler = h }

func (a *RESTAdapter) Close() error { return nil }

func (a *RESTAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return AdapterStatus{
		Platform:  "rest",
		Connected: true,
		Details:   fmt.Sprintf("open_channels=%d", len(a.channels)),
	}
}

// Download returns the bytes received with the upload.
func (a *RESTAdapter) Download(_ context.Context, att *Attachment) ([]byte, error) {
	if len(att.Data) == 0 {
		return nil, fmt.Errorf("attachment %s has no data", att.Name)
	}
	return att.Data, nil
}

// Send delivers a message to a waiting REST channel.
func (a *RESTAdapter) Send(ctx context.Context, msg *OutboundMessage) error {
	a.mu.RLock()
	ch, ok := a.channels[msg.ChannelID]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no active channel: %s", msg.ChannelID)
	}
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("channel %s buffer full", msg.ChannelID)
	}
}

// Routes returns a chi router with REST gateway endpoints.
func (a *RESTAdapter) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/message", a.handleMessage)
	r.Post("/upload", a.handleUpload)
	return r
}

type restReply struct {
	ChannelID string             `json:"channel_id"`
	Messages  []*OutboundMessage `json:"messages"`
}

// handleMessage accepts a text message, for example a slash command.
func (a *RESTAdapter) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		UserName string `json:"user_name"`
		Content  string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeJSONError(w, http.StatusBadRequest, "content is required")
		return
	}
	a.dispatch(w, r, &InboundMessage{
		UserID:   req.UserID,
		UserName: req.UserName,
		Content:  req.Content,
	})
}

// handleUpload accepts a multipart form with a "file" part and optional
// "content", "user_id" and "user_name" fields.
func (a *RESTAdapter) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxAttachmentBytes+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := readLimited(file)
	if errors.Is(err, ErrAttachmentTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "could not read file")
		return
	}

	a.dispatch(w, r, &InboundMessage{
		UserID:   r.FormValue("user_id"),
		UserName: r.FormValue("user_name"),
		Content:  r.FormValue("content"),
		Attachments: []Attachment{{
			Name:     header.Filename,
			MimeType: header.Header.Get("Content-Type"),
			Size:     int64(len(data)),
			Data:     data,
		}},
	})
}

func (a *RESTAdapter) dispatch(w http.ResponseWriter, r *http.Request, msg *InboundMessage) {
	channelID := uuid.New().String()
	ch := make(chan *OutboundMessage, 32)

	a.mu.Lock()
	a.channels[channelID] = ch
	a.mu.Unlock()

	done := make(chan struct{})
	defer func() {
		a.mu.Lock()
		delete(a.channels, channelID)
		a.mu.Unlock()
		close(done)
	}()

	msg.Platform = "rest"
	msg.ChannelID = channelID
	msg.Timestamp = time.Now()
	msg.Done = done
	if a.handler != nil {
		a.handler(msg)
	}

	reply := restReply{ChannelID: channelID}
	timeout := time.NewTimer(a.timeout)
	defer timeout.Stop()
	for {
		select {
		case out := <-ch:
			reply.Messages = append(reply.Messages, out)
			if out.Final {
				writeJSON(w, http.StatusOK, reply)
				return
			}
		case <-timeout.C:
			a.logger.Warn("rest channel timed out",
				zap.String("channel", channelID),
				zap.Int("received", len(reply.Messages)))
			writeJSON(w, http.StatusGatewayTimeout, reply)
			return
		case <-r.Context().Done():
			a.logger.Info("rest client went away",
				zap.String("channel", channelID),
				zap.Int("received", len(reply.Messages)))
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
