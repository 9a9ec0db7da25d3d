// Package answer resolves candidate questions to answers, preferring the TTL
// cache and otherwise streaming from the answer backend.
package answer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ai-interview-copilot/internal/cache"
	"ai-interview-copilot/internal/models"
	"ai-interview-copilot/internal/observability/logging"
	"ai-interview-copilot/internal/observability/metrics"
)

// Sink receives answer lifecycle events.
type Sink interface {
	AnswerDelta(rec models.AnswerRecord, delta string)
	AnswerComplete(rec models.AnswerRecord)
	AnswerError(question string, err error)
}

// Config controls the pipeline.
type Config struct {
	BaseURL string
	// UserToken is the authenticated user identity; submissions without
	// one are suppressed.
	UserToken string
	// IdleTimeout aborts a streaming request when no byte arrives within
	// the window. Zero disables the watchdog.
	IdleTimeout time.Duration
}

// Pipeline dedupes repeated questions, serves cached answers, and streams
// the rest from the backend.
type Pipeline struct {
	cfg    Config
	client *http.Client
	cache  *cache.Cache
	sink   Sink
	log    zerolog.Logger
	m      *metrics.Metrics

	mu            sync.Mutex
	lastSubmitted string
	history       []models.AnswerRecord
}

// request is the answer backend's POST body.
type request struct {
	Text           string             `json:"text"`
	Context        string             `json:"context"`
	FullTranscript []models.Utterance `json:"fullTranscript"`
}

// streamLine is one decoded delta from the response stream.
type streamLine struct {
	Content string `json:"content"`
}

// New creates an answer pipeline.
func New(cfg Config, answerCache *cache.Cache, sink Sink) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		client: &http.Client{},
		cache:  answerCache,
		sink:   sink,
		log:    logging.WithComponent("answer"),
		m:      metrics.DefaultMetrics,
	}
}

// Submit resolves one question. It is a no-op when the question is blank,
// identical to the most recently submitted question, or no authenticated
// user is present. Cache hits bypass the network entirely; misses stream
// from the backend and, on success, populate the cache. Failures surface via
// the sink and leave no partial cache entry.
func (p *Pipeline) Submit(ctx context.Context, question, contextText string, fullTranscript []models.Utterance) {
	question = strings.TrimSpace(question)
	if question == "" {
		return
	}
	if p.cfg.UserToken == "" {
		p.m.RecordAnswer("suppressed")
		return
	}

	p.mu.Lock()
	if question == p.lastSubmitted {
		p.mu.Unlock()
		p.m.RecordAnswer("suppressed")
		return
	}
	p.lastSubmitted = question
	p.mu.Unlock()

	if cached, ok := p.cache.Get(question); ok {
		p.m.CacheHits.Inc()
		p.m.RecordAnswer("cache")
		rec := models.AnswerRecord{
			ID:        uuid.NewString(),
			Question:  question,
			Answer:    cached,
			Timestamp: time.Now(),
			FromCache: true,
		}
		p.prepend(rec)
		p.sink.AnswerComplete(rec)
		return
	}
	p.m.CacheMisses.Inc()

	if err := p.stream(ctx, question, contextText, fullTranscript); err != nil {
		p.m.RecordAnswer("error")
		p.log.Error().Err(err).Str("question", question).Msg("Answer stream failed")
		p.sink.AnswerError(question, err)
	}
}

func (p *Pipeline) stream(ctx context.Context, question, contextText string, fullTranscript []models.Utterance) error {
	start := time.Now()

	body, err := json.Marshal(request{
		Text:           question,
		Context:        contextText,
		FullTranscript: fullTranscript,
	})
	if err != nil {
		return fmt.Errorf("failed to encode answer request: %w", err)
	}

	// The watchdog cancels the request when the stream goes quiet.
	reqCtx := ctx
	var cancel context.CancelFunc
	var watchdog *time.Timer
	if p.cfg.IdleTimeout > 0 {
		reqCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		watchdog = time.AfterFunc(p.cfg.IdleTimeout, cancel)
		defer watchdog.Stop()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.cfg.BaseURL+"/api/meeting/assist", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build answer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.UserToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("answer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("answer backend returned status %d", resp.StatusCode)
	}

	rec := models.AnswerRecord{
		ID:          uuid.NewString(),
		Question:    question,
		Timestamp:   time.Now(),
		IsStreaming: true,
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if watchdog != nil {
			watchdog.Reset(p.cfg.IdleTimeout)
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "data: ")

		var delta streamLine
		if err := json.Unmarshal([]byte(line), &delta); err != nil {
			// A bad line never aborts the whole stream.
			p.m.AnswerLinesMalformed.Inc()
			p.log.Warn().Err(err).Msg("Malformed stream line skipped")
			continue
		}
		if delta.Content == "" {
			continue
		}

		rec.Answer += delta.Content
		p.m.AnswerDeltasReceived.Inc()
		p.sink.AnswerDelta(rec, delta.Content)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("answer stream interrupted: %w", err)
	}

	rec.IsStreaming = false
	p.prepend(rec)
	p.cache.Set(question, rec.Answer)
	p.m.RecordAnswer("stream")
	p.m.AnswerStreamDuration.Observe(time.Since(start).Seconds())
	p.sink.AnswerComplete(rec)
	return nil
}

// prepend records a completed answer, most recent first.
func (p *Pipeline) prepend(rec models.AnswerRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append([]models.AnswerRecord{rec}, p.history...)
}

// History returns a copy of the answer history, most recent first.
func (p *Pipeline) History() []models.AnswerRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.AnswerRecord(nil), p.history...)
}

// Reset clears the history and dedupe state for a fresh session.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = nil
	p.lastSubmitted = ""
}
