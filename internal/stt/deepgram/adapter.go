// Package deepgram provides a Deepgram streaming websocket STT adapter.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-interview-copilot/internal/observability/logging"
	"ai-interview-copilot/internal/observability/metrics"
	"ai-interview-copilot/internal/stt"
)

// Config controls the Deepgram websocket connection.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Adapter implements stt.Adapter against the Deepgram streaming API.
type Adapter struct {
	cfg    Config
	stream stt.Config
	log    zerolog.Logger
	m      *metrics.Metrics

	mu     sync.Mutex
	conn   *websocket.Conn
	open   bool
	closed bool
}

// New creates a Deepgram adapter.
func New(cfg Config, stream stt.Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "general"
	}
	return &Adapter{
		cfg:    cfg,
		stream: stream,
		log:    logging.WithComponent("deepgram"),
		m:      metrics.DefaultMetrics,
	}
}

// Start opens the streaming socket and begins delivering transcript
// fragments to the callback. Socket errors surface via cb.OnError and are not
// retried here; the session layer decides whether to restart.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return errors.New("DEEPGRAM_API_KEY is not configured")
	}

	listenURL, err := a.listenURL()
	if err != nil {
		return err
	}

	// Bearer-style auth travels as a websocket sub-protocol pair.
	dialer := *websocket.DefaultDialer
	dialer.Subprotocols = []string{"token", a.cfg.APIKey}

	conn, _, err := dialer.DialContext(ctx, listenURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to Deepgram websocket: %w", err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = conn.Close()
		return errors.New("adapter already closed")
	}
	a.conn = conn
	a.open = true
	a.mu.Unlock()

	a.log.Info().Str("url", a.cfg.BaseURL).Msg("Deepgram websocket connected")
	go a.readLoop(conn, cb)
	return nil
}

// SendAudio sends one binary PCM frame. Frames are dropped while the socket
// is not open; audio is never buffered across disconnects.
func (a *Adapter) SendAudio(_ context.Context, audio []byte) error {
	if len(audio) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open || a.conn == nil {
		a.m.AudioFramesDropped.Inc()
		return nil
	}
	if err := a.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to send audio frame: %w", err)
	}
	a.m.RecordAudioFrame(len(audio))
	return nil
}

// Close tells Deepgram the stream is over and closes the socket. Safe to call
// multiple times and from any state.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.open = false
	if a.conn != nil {
		_ = a.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
		_ = a.conn.Close()
		a.conn = nil
	}
	return nil
}

func (a *Adapter) readLoop(conn *websocket.Conn, cb stt.Callback) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			a.mu.Lock()
			a.open = false
			wasClosed := a.closed
			a.mu.Unlock()
			if !wasClosed && !isExpectedClose(err) {
				cb.OnError(fmt.Errorf("deepgram read failed: %w", err))
			}
			return
		}

		var resp response
		if err := json.Unmarshal(payload, &resp); err != nil {
			// Malformed frames are logged and skipped, never fatal.
			a.log.Warn().Err(err).Msg("Malformed Deepgram message skipped")
			continue
		}

		if strings.EqualFold(resp.Type, "Error") {
			message := strings.TrimSpace(resp.Message)
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			a.m.STTErrors.WithLabelValues("deepgram").Inc()
			cb.OnError(errors.New(message))
			continue
		}

		if len(resp.Channel.Alternatives) == 0 {
			continue
		}
		alt := resp.Channel.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)
		if text == "" {
			continue
		}

		if resp.IsFinal {
			cb.OnFinal(text, alt.Confidence)
		} else {
			cb.OnPartial(text)
		}
	}
}

func (a *Adapter) listenURL() (string, error) {
	base := strings.TrimSpace(a.cfg.BaseURL)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram base URL: %w", err)
	}

	s := a.stream
	if s.Encoding == "" {
		s.Encoding = "linear16"
	}
	if s.SampleRateHz <= 0 {
		s.SampleRateHz = 16000
	}
	if s.Channels <= 0 {
		s.Channels = 1
	}

	q := listenURL.Query()
	q.Set("model", a.cfg.Model)
	q.Set("encoding", s.Encoding)
	q.Set("sample_rate", fmt.Sprintf("%d", s.SampleRateHz))
	q.Set("channels", fmt.Sprintf("%d", s.Channels))
	q.Set("interim_results", fmt.Sprintf("%t", s.InterimResults))
	q.Set("punctuate", fmt.Sprintf("%t", s.Punctuate))
	if s.Language != "" {
		q.Set("language", s.Language)
	}
	listenURL.RawQuery = q.Encode()
	return listenURL.String(), nil
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

type response struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	IsFinal bool   `json:"is_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}
