package session

import (
	"context"
	"sync"

	"ai-interview-copilot/internal/events"
	"ai-interview-copilot/internal/models"
	"ai-interview-copilot/internal/observability/logging"
)

// AnswerSink routes answer pipeline events to the emitter and mirrors
// completed answers to the event publisher. It is bound to a machine after
// construction because the pipeline and machine reference each other.
type AnswerSink struct {
	emitter   Emitter
	publisher *events.Publisher

	mu sync.Mutex
	m  *Machine
}

// NewAnswerSink creates an unbound sink. Publisher may be nil.
func NewAnswerSink(emitter Emitter, publisher *events.Publisher) *AnswerSink {
	return &AnswerSink{emitter: emitter, publisher: publisher}
}

// Bind attaches the session machine so completed answers can be attributed
// to the current session.
func (s *AnswerSink) Bind(m *Machine) {
	s.mu.Lock()
	s.m = m
	s.mu.Unlock()
}

func (s *AnswerSink) AnswerDelta(rec models.AnswerRecord, delta string) {
	s.emitter.AnswerDelta(rec, delta)
}

func (s *AnswerSink) AnswerComplete(rec models.AnswerRecord) {
	s.emitter.AnswerComplete(rec)

	if s.publisher == nil {
		return
	}
	s.mu.Lock()
	m := s.m
	s.mu.Unlock()
	var sessionID string
	if m != nil {
		sessionID = m.Snapshot().ID
	}
	if err := s.publisher.PublishAnswer(context.Background(), sessionID, rec); err != nil {
		log := logging.WithComponent("session")
		log.Warn().Err(err).Msg("Failed to publish answer event")
	}
}

func (s *AnswerSink) AnswerError(question string, err error) {
	s.emitter.SessionError(models.ErrorCodeAnswer, err.Error())
}
