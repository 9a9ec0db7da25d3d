// Package models defines the data structures shared across the copilot core.
package models

import "time"

// Speaker identifies who is currently talking.
type Speaker string

const (
	SpeakerInterviewer Speaker = "interviewer"
	SpeakerCandidate   Speaker = "candidate"
)

// Toggle returns the other speaker.
func (s Speaker) Toggle() Speaker {
	if s == SpeakerInterviewer {
		return SpeakerCandidate
	}
	return SpeakerInterviewer
}

// CallKind selects the capture topology for a session.
type CallKind string

const (
	CallKindPhone CallKind = "phone"
	CallKindVideo CallKind = "video"
)

// Valid reports whether the kind is one of the supported call kinds.
func (k CallKind) Valid() bool {
	return k == CallKindPhone || k == CallKindVideo
}

// SessionState models the copilot session lifecycle.
type SessionState string

const (
	SessionStateIdle            SessionState = "idle"
	SessionStateAwaitingContext SessionState = "awaiting_context"
	SessionStateRecording       SessionState = "recording"
	SessionStateError           SessionState = "error"
)

// StateReason provides a structured reason for state transitions.
type StateReason string

const (
	ReasonRecordingStarted  StateReason = "recording_started"
	ReasonRecordingStopped  StateReason = "recording_stopped"
	ReasonContextRequired   StateReason = "context_required"
	ReasonContextCollected  StateReason = "context_collected"
	ReasonCaptureFailed     StateReason = "capture_failed"
	ReasonTranscriberFailed StateReason = "transcriber_failed"
	ReasonDisplayEnded      StateReason = "display_ended"
)

// ErrorCode identifies errors surfaced through the emitter.
type ErrorCode string

const (
	ErrorCodeConfig        ErrorCode = "config"
	ErrorCodeAuth          ErrorCode = "auth"
	ErrorCodeCapture       ErrorCode = "capture"
	ErrorCodeSystemAudio   ErrorCode = "system_audio"
	ErrorCodeTranscription ErrorCode = "transcription"
	ErrorCodeAnswer        ErrorCode = "answer"
	ErrorCodeChannel       ErrorCode = "channel"
)

// TranscriptFragment is a single partial or final piece of recognized speech.
// Fragments are ephemeral: interim fragments are overwritten by the next
// fragment for the same utterance and are never persisted.
type TranscriptFragment struct {
	Text    string  `json:"text"`
	IsFinal bool    `json:"isFinal"`
	Speaker Speaker `json:"speaker"`
}

// Utterance is a contiguous, speaker-attributed run of finalized transcript
// text. Consecutive final fragments from the same speaker merge into one
// utterance; a speaker switch always starts a new one.
type Utterance struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Fragments []string  `json:"fragments"`
	Timestamp time.Time `json:"timestamp"`
}

// Text joins the utterance fragments in arrival order.
func (u Utterance) Text() string {
	switch len(u.Fragments) {
	case 0:
		return ""
	case 1:
		return u.Fragments[0]
	}
	n := 0
	for _, f := range u.Fragments {
		n += len(f) + 1
	}
	out := make([]byte, 0, n)
	for i, f := range u.Fragments {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, f...)
	}
	return string(out)
}

// AnswerRecord tracks one question through the answer pipeline. While
// streaming, Answer is append-only; IsStreaming flips false on completion or
// error, after which the record is immutable.
type AnswerRecord struct {
	ID          string    `json:"id"`
	Question    string    `json:"question"`
	Answer      string    `json:"answer"`
	Timestamp   time.Time `json:"timestamp"`
	FromCache   bool      `json:"fromCache"`
	IsStreaming bool      `json:"isStreaming"`
}

// Session is the root object owned by the session state machine. All other
// entities are scoped to it and discarded when it ends.
type Session struct {
	ID               string    `json:"id"`
	CallKind         CallKind  `json:"callKind"`
	CurrentSpeaker   Speaker   `json:"currentSpeaker"`
	IsRecording      bool      `json:"isRecording"`
	ContextText      string    `json:"contextText"`
	ContextCollected bool      `json:"contextCollected"`
	StartedAt        time.Time `json:"startedAt"`
}

// AnalysisStreamPayload is the incremental analysis message pushed over the
// message channel.
type AnalysisStreamPayload struct {
	Content string `json:"content"`
	IsDone  bool   `json:"isDone"`
}

// AnalysisResponsePayload carries a complete analysis result.
type AnalysisResponsePayload struct {
	Content string `json:"content"`
}
