package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ai-interview-copilot/internal/stt"
)

type recordingCallback struct {
	mu       sync.Mutex
	partials []string
	finals   []string
	errs     []error
}

func (c *recordingCallback) OnPartial(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partials = append(c.partials, text)
}

func (c *recordingCallback) OnFinal(text string, _ float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finals = append(c.finals, text)
}

func (c *recordingCallback) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *recordingCallback) snapshot() (partials, finals []string, errs []error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.partials...), append([]string(nil), c.finals...), append([]error(nil), c.errs...)
}

func TestListenURL(t *testing.T) {
	a := New(Config{APIKey: "key", BaseURL: "https://api.deepgram.com/v1", Model: "general"}, stt.Config{
		SampleRateHz:   16000,
		Channels:       1,
		Encoding:       "linear16",
		InterimResults: true,
		Punctuate:      true,
		Language:       "en-US",
	})

	raw, err := a.listenURL()
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}

	if u.Scheme != "wss" {
		t.Errorf("expected wss scheme, got %s", u.Scheme)
	}
	if u.Path != "/v1/listen" {
		t.Errorf("expected /v1/listen path, got %s", u.Path)
	}

	q := u.Query()
	want := map[string]string{
		"model":           "general",
		"encoding":        "linear16",
		"sample_rate":     "16000",
		"channels":        "1",
		"interim_results": "true",
		"punctuate":       "true",
		"language":        "en-US",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("query %s: got %q, want %q", k, got, v)
		}
	}
}

func TestListenURL_Defaults(t *testing.T) {
	a := New(Config{APIKey: "key"}, stt.Config{})

	raw, err := a.listenURL()
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()
	if q.Get("encoding") != "linear16" || q.Get("sample_rate") != "16000" || q.Get("channels") != "1" {
		t.Errorf("unexpected default stream params: %s", u.RawQuery)
	}
}

func TestStart_RequiresAPIKey(t *testing.T) {
	a := New(Config{}, stt.Config{})
	if err := a.Start(context.Background(), &recordingCallback{}); err == nil {
		t.Error("expected error without an API key")
	}
}

func TestSendAudio_DropsWhenNotOpen(t *testing.T) {
	a := New(Config{APIKey: "key"}, stt.Config{})

	// Never started: frames are dropped, not queued, and not an error.
	if err := a.SendAudio(context.Background(), []byte{1, 2, 3}); err != nil {
		t.Errorf("frames before connect must be dropped silently, got %v", err)
	}
}

func TestAdapter_AgainstWebsocketServer(t *testing.T) {
	upgrader := websocket.Upgrader{
		Subprotocols: []string{"token"},
	}

	received := make(chan []byte, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Sec-WebSocket-Protocol"), "token") {
			t.Errorf("expected token subprotocol auth, got %q", r.Header.Get("Sec-WebSocket-Protocol"))
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		// Transcript messages in Deepgram's response shape.
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":{"alternatives":[{"transcript":"tell me","confidence":0.8}]},"is_final":false}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":{"alternatives":[{"transcript":"","confidence":0}]},"is_final":false}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":{"alternatives":[{"transcript":"Tell me about yourself.","confidence":0.95}]},"is_final":true}`))

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- payload
		}
	}))
	defer srv.Close()

	a := New(Config{APIKey: "test-key", BaseURL: srv.URL}, stt.Config{SampleRateHz: 16000, Channels: 1})
	cb := &recordingCallback{}
	if err := a.Start(context.Background(), cb); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, finals, _ := cb.snapshot()
		if len(finals) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	partials, finals, errs := cb.snapshot()
	if len(partials) != 1 || partials[0] != "tell me" {
		t.Errorf("unexpected partials: %v", partials)
	}
	if len(finals) != 1 || finals[0] != "Tell me about yourself." {
		t.Errorf("unexpected finals: %v", finals)
	}
	if len(errs) != 0 {
		t.Errorf("blank and malformed frames must be skipped, got %v", errs)
	}

	if err := a.SendAudio(context.Background(), []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	select {
	case frame := <-received:
		if len(frame) != 4 {
			t.Errorf("expected 4-byte frame, got %d", len(frame))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("audio frame never reached the server")
	}

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	// Close sends the end-of-stream control message before dropping the
	// socket.
	select {
	case frame := <-received:
		if string(frame) != `{"type":"CloseStream"}` {
			t.Errorf("unexpected close message: %s", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CloseStream never reached the server")
	}

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
}
