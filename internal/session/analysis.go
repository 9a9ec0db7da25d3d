package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"ai-interview-copilot/internal/channel"
	"ai-interview-copilot/internal/models"
	"ai-interview-copilot/internal/observability/logging"
)

// analysisBridge turns inbound channel messages into emitter events. A
// stream of analysis_stream messages accumulates into one streaming record
// until a message carrying isDone arrives.
type analysisBridge struct {
	emitter Emitter

	mu      sync.Mutex
	current *models.AnswerRecord
}

// BindAnalysis registers the analysis message handlers on the channel
// client. Unknown message types on the wire are ignored by the client
// itself.
func BindAnalysis(c *channel.Client, emitter Emitter) {
	b := &analysisBridge{emitter: emitter}
	log := logging.WithComponent("analysis")

	// Inbound messages carry their fields beside the type tag, not under a
	// data wrapper.
	c.AddHandler(channel.TypeAnalysisStream, func(payload json.RawMessage) {
		var msg models.AnalysisStreamPayload
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Warn().Err(err).Msg("Malformed analysis_stream payload skipped")
			return
		}
		b.onStream(msg)
	})

	c.AddHandler(channel.TypeAnalysisResponse, func(payload json.RawMessage) {
		var msg models.AnalysisResponsePayload
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Warn().Err(err).Msg("Malformed analysis_response payload skipped")
			return
		}
		b.onResponse(msg)
	})

	c.AddHandler(channel.TypeError, func(payload json.RawMessage) {
		var msg struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Warn().Err(err).Msg("Malformed channel error payload skipped")
			return
		}
		emitter.SessionError(models.ErrorCodeChannel, msg.Message)
	})
}

func (b *analysisBridge) onStream(p models.AnalysisStreamPayload) {
	b.mu.Lock()
	if b.current == nil {
		b.current = &models.AnswerRecord{
			ID:          uuid.NewString(),
			Timestamp:   time.Now(),
			IsStreaming: true,
		}
	}
	b.current.Answer += p.Content
	rec := *b.current
	if p.IsDone {
		b.current = nil
		rec.IsStreaming = false
	}
	b.mu.Unlock()

	if p.IsDone {
		b.emitter.AnswerComplete(rec)
		return
	}
	b.emitter.AnswerDelta(rec, p.Content)
}

func (b *analysisBridge) onResponse(p models.AnalysisResponsePayload) {
	b.mu.Lock()
	b.current = nil
	b.mu.Unlock()

	b.emitter.AnswerComplete(models.AnswerRecord{
		ID:        uuid.NewString(),
		Answer:    p.Content,
		Timestamp: time.Now(),
	})
}
