package session

import (
	"errors"
	"testing"

	"ai-interview-copilot/internal/events"
	"ai-interview-copilot/internal/models"
)

func TestAnswerSink_CompleteForwardsAndPublishes(t *testing.T) {
	em := &answerRecordingEmitter{}
	s := NewAnswerSink(em, events.New(nil))

	h := newHarness(t, "token")
	s.Bind(h.machine)

	rec := models.AnswerRecord{ID: "ans-1", Question: "Q?", Answer: "A."}
	s.AnswerComplete(rec)

	em.mu.Lock()
	defer em.mu.Unlock()
	if len(em.completed) != 1 || em.completed[0].ID != "ans-1" {
		t.Errorf("unexpected completions: %v", em.completed)
	}
}

func TestAnswerSink_PublishFailureOnlyWarns(t *testing.T) {
	// An unbound sink has no session id, so the publish is rejected by
	// validation; the completion must still reach the emitter.
	em := &answerRecordingEmitter{}
	s := NewAnswerSink(em, events.New(nil))

	s.AnswerComplete(models.AnswerRecord{ID: "ans-1", Question: "Q?", Answer: "A."})

	em.mu.Lock()
	defer em.mu.Unlock()
	if len(em.completed) != 1 {
		t.Fatalf("expected 1 completion despite publish failure, got %d", len(em.completed))
	}
}

func TestAnswerSink_ErrorSurfacesAnswerCode(t *testing.T) {
	em := &answerRecordingEmitter{}
	s := NewAnswerSink(em, nil)

	s.AnswerError("Q?", errors.New("backend down"))

	em.recordingEmitter.mu.Lock()
	defer em.recordingEmitter.mu.Unlock()
	if len(em.errors) != 1 || em.errors[0] != models.ErrorCodeAnswer {
		t.Errorf("expected answer error code, got %v", em.errors)
	}
}
