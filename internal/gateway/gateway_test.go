package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

func TestSplitMessageShortTextUntouched(t *testing.T) {
	got := SplitMessage("hello\nworld", 100)
	if len(got) != 1 || got[0] != "hello\nworld" {
		t.Errorf("chunks = %q", got)
	}
}

func TestSplitMessageAtLineBoundaries(t *testing.T) {
	line := strings.Repeat("a", 40)
	text := strings.Join([]string{line, line, line, line, line}, "\n")

	chunks := SplitMessage(text, 100)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3: %q", len(chunks), chunks)
	}
	for _, c := range chunks {
		if utf8.RuneCountInString(c) > 100 {
			t.Errorf("chunk over limit: %d", utf8.RuneCountInString(c))
		}
		for _, l := range strings.Split(c, "\n") {
			if l != line {
				t.Errorf("line split mid-way: %q", l)
			}
		}
	}
	if strings.Join(chunks, "\n") != text {
		t.Error("rejoined chunks differ from input")
	}
}

func TestSplitMessageHardSplitsLongLines(t *testing.T) {
	text := "intro\n" + strings.Repeat("é", 250) + "\noutro"
	chunks := SplitMessage(text, 100)

	total := 0
	for _, c := range chunks {
		n := utf8.RuneCountInString(c)
		if n > 100 {
			t.Errorf("chunk over limit: %d", n)
		}
		if !utf8.ValidString(c) {
			t.Error("chunk split inside a rune")
		}
		total += strings.Count(c, "é")
	}
	if total != 250 {
		t.Errorf("characters preserved = %d, want 250", total)
	}
	if chunks[0] != "intro" || chunks[len(chunks)-1] != strings.Repeat("é", 50)+"\noutro" {
		t.Errorf("chunks = %q", chunks)
	}
}

// replyingHandler answers every inbound message on its own goroutine, the way
// the message router does.
func replyingHandler(t *testing.T, a *RESTAdapter, seen chan<- *InboundMessage) MessageHandler {
	return func(msg *InboundMessage) {
		seen <- msg
		go func() {
			ctx := context.Background()
			for i, content := range []string{"📥 working", "part two", "done"} {
				err := a.Send(ctx, &OutboundMessage{
					Platform:  "rest",
					ChannelID: msg.ChannelID,
					Content:   content,
					Final:     i == 2,
				})
				if err != nil {
					t.Errorf("send: %v", err)
				}
			}
		}()
	}
}

func TestRESTAdapterCollectsUntilFinal(t *testing.T) {
	a := NewRESTAdapter(5*time.Second, zap.NewNop())
	seen := make(chan *InboundMessage, 1)
	a.OnMessage(replyingHandler(t, a, seen))

	srv := httptest.NewServer(a.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/message", "application/json", strings.NewReader(`{"user_id":"u1","content":"/help"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var reply restReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(reply.Messages) != 3 || !reply.Messages[2].Final {
		t.Fatalf("messages = %+v", reply.Messages)
	}
	in := <-seen
	if in.Content != "/help" || in.UserID != "u1" || in.Platform != "rest" || in.ChannelID != reply.ChannelID {
		t.Errorf("inbound = %+v", in)
	}
}

func TestRESTAdapterUploadCarriesAttachment(t *testing.T) {
	a := NewRESTAdapter(5*time.Second, zap.NewNop())
	seen := make(chan *InboundMessage, 1)
	a.OnMessage(replyingHandler(t, a, seen))

	srv := httptest.NewServer(a.Routes())
	defer srv.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "contract.pdf")
	_, _ = fw.Write([]byte("%PDF-1.4 data"))
	_ = mw.WriteField("user_name", "alice")
	_ = mw.Close()

	resp, err := http.Post(srv.URL+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	in := <-seen
	if len(in.Attachments) != 1 {
		t.Fatalf("attachments = %+v", in.Attachments)
	}
	att := in.Attachments[0]
	if att.Name != "contract.pdf" || string(att.Data) != "%PDF-1.4 data" || att.Size != 13 {
		t.Errorf("attachment = %+v", att)
	}
	data, err := a.Download(context.Background(), &att)
	if err != nil || string(data) != "%PDF-1.4 data" {
		t.Errorf("download = %q, %v", data, err)
	}
}

func TestRESTAdapterRejectsEmptyContent(t *testing.T) {
	a := NewRESTAdapter(time.Second, zap.NewNop())
	srv := httptest.NewServer(a.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/message", "application/json", strings.NewReader(`{"content":""}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRESTAdapterTimeoutReturnsPartialTranscript(t *testing.T) {
	a := NewRESTAdapter(100*time.Millisecond, zap.NewNop())
	a.OnMessage(func(msg *InboundMessage) {
		go func() { _ = a.Send(context.Background(), &OutboundMessage{ChannelID: msg.ChannelID, Content: "started"}) }()
	})
	srv := httptest.NewServer(a.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/message", "application/json", strings.NewReader(`{"content":"hi"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", resp.StatusCode)
	}
	var reply restReply
	_ = json.NewDecoder(resp.Body).Decode(&reply)
	if len(reply.Messages) != 1 {
		t.Errorf("messages = %+v", reply.Messages)
	}
}

func TestRESTAdapterSignalsDoneWhenClientLeaves(t *testing.T) {
	a := NewRESTAdapter(5*time.Second, zap.NewNop())
	seen := make(chan *InboundMessage, 1)
	a.OnMessage(func(msg *InboundMessage) { seen <- msg })
	srv := httptest.NewServer(a.Routes())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/message", strings.NewReader(`{"content":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	errc := make(chan error, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
		}
		errc <- err
	}()

	in := <-seen
	if in.Done == nil {
		t.Fatal("inbound message has no Done channel")
	}
	select {
	case <-in.Done:
		t.Fatal("Done closed while the client is still waiting")
	default:
	}

	cancel()
	<-errc
	select {
	case <-in.Done:
	case <-time.After(5 * time.Second):
		t.Fatal("Done not closed after the client went away")
	}
	if err := a.Send(context.Background(), &OutboundMessage{ChannelID: in.ChannelID, Content: "late"}); err == nil {
		t.Error("send to a closed channel should fail")
	}
}

type fakeAdapter struct {
	platform string
	mu       sync.Mutex
	sent     []*OutboundMessage
	handler  MessageHandler
}

func (f *fakeAdapter) Platform() string              { return f.platform }
func (f *fakeAdapter) Connect(context.Context) error { return nil }
func (f *fakeAdapter) OnMessage(h MessageHandler)    { f.handler = h }
func (f *fakeAdapter) Close() error                  { return nil }
func (f *fakeAdapter) Status() AdapterStatus         { return AdapterStatus{Platform: f.platform, Connected: true} }
func (f *fakeAdapter) Download(context.Context, *Attachment) ([]byte, error) {
	return []byte("remote"), nil
}
func (f *fakeAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func TestGatewayRoutesByPlatform(t *testing.T) {
	g := NewGateway(zap.NewNop())
	slackish := &fakeAdapter{platform: "slack"}
	discordish := &fakeAdapter{platform: "discord"}
	g.Register(slackish)
	g.Register(discordish)

	var got *InboundMessage
	g.SetHandler(func(msg *InboundMessage) { got = msg })
	slackish.handler(&InboundMessage{Platform: "slack", Content: "hi"})
	if got == nil || got.Content != "hi" {
		t.Fatalf("handler not wired: %+v", got)
	}

	if err := g.Send(context.Background(), &OutboundMessage{Platform: "discord", Content: "x"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(discordish.sent) != 1 || len(slackish.sent) != 0 {
		t.Errorf("sent discord=%d slack=%d", len(discordish.sent), len(slackish.sent))
	}
	if err := g.Send(context.Background(), &OutboundMessage{Platform: "irc"}); err == nil {
		t.Error("expected error for unknown platform")
	}

	data, err := g.Download(context.Background(), "slack", &Attachment{Name: "a.pdf"})
	if err != nil || string(data) != "remote" {
		t.Errorf("download = %q, %v", data, err)
	}
	data, _ = g.Download(context.Background(), "slack", &Attachment{Data: []byte("inline")})
	if string(data) != "inline" {
		t.Errorf("inline download = %q", data)
	}

	st := g.Statuses()
	if len(st) != 2 || st[0].Platform != "discord" || st[1].Platform != "slack" {
		t.Errorf("statuses = %+v", st)
	}
}
