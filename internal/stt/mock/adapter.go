// Package mock provides a scripted STT adapter for testing and demos without
// credentials. It simulates progressive partial transcripts followed by
// exactly one final per utterance.
package mock

import (
	"context"
	"sync"

	"ai-interview-copilot/internal/stt"
)

// Utterance is one scripted utterance: partials delivered one per audio
// frame, then the final.
type Utterance struct {
	Partials   []string
	Final      string
	Confidence float64
}

// DefaultScript provides sample utterances for demo runs.
var DefaultScript = []Utterance{
	{
		Partials:   []string{"tell me", "tell me about a time"},
		Final:      "Tell me about a time you disagreed with a teammate.",
		Confidence: 0.95,
	},
	{
		Partials:   []string{"we were", "we were migrating the"},
		Final:      "We were migrating the billing service and I pushed back on the rollout plan.",
		Confidence: 0.92,
	},
	{
		Partials:   []string{"what would", "what would you do"},
		Final:      "What would you do differently today?",
		Confidence: 0.97,
	},
}

// Adapter implements stt.Adapter by replaying a script. Each SendAudio call
// advances the script by one event, delivered synchronously on the caller's
// goroutine so tests stay deterministic.
type Adapter struct {
	mu        sync.Mutex
	script    []Utterance
	cb        stt.Callback
	utterance int
	partial   int
	closed    bool
}

// New creates a mock adapter replaying the given script, or DefaultScript
// when none is provided.
func New(script ...Utterance) *Adapter {
	if len(script) == 0 {
		script = DefaultScript
	}
	return &Adapter{script: script}
}

// Start records the callback; no connection is made.
func (a *Adapter) Start(_ context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = cb
	return nil
}

// SendAudio advances the script: one partial per frame, then the final.
func (a *Adapter) SendAudio(_ context.Context, _ []byte) error {
	a.mu.Lock()
	if a.closed || a.cb == nil || a.utterance >= len(a.script) {
		a.mu.Unlock()
		return nil
	}
	utt := a.script[a.utterance]
	cb := a.cb

	if a.partial < len(utt.Partials) {
		text := utt.Partials[a.partial]
		a.partial++
		a.mu.Unlock()
		cb.OnPartial(text)
		return nil
	}

	a.utterance++
	a.partial = 0
	a.mu.Unlock()
	cb.OnFinal(utt.Final, utt.Confidence)
	return nil
}

// Close ends the session. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}
