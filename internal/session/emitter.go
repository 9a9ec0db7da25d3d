package session

import "ai-interview-copilot/internal/models"

// Emitter is the narrow boundary a presentation layer subscribes to. The
// core never couples to how events are rendered.
type Emitter interface {
	StateChanged(state models.SessionState, reason models.StateReason)
	Interim(speaker models.Speaker, text string)
	UtteranceUpdated(u models.Utterance)
	AnswerDelta(rec models.AnswerRecord, delta string)
	AnswerComplete(rec models.AnswerRecord)
	SessionError(code models.ErrorCode, detail string)
}
