// Package transcript merges partial/final transcript fragments into
// speaker-attributed utterances and gates when a finalized utterance should
// be submitted for analysis.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ai-interview-copilot/internal/models"
)

// Update describes the effect of one fragment on the aggregate.
type Update struct {
	// Interim is the current interim speech for display; empty once a
	// final fragment resets it. Interims are never persisted.
	Interim string

	// Utterance is a copy of the utterance the fragment was folded into,
	// set only for final fragments.
	Utterance *models.Utterance

	// NewUtterance reports whether the final fragment started a new
	// utterance rather than extending the last one.
	NewUtterance bool

	// Submit is set when the finalized text should go to the answer
	// pipeline (the active speaker is the candidate).
	Submit   bool
	Question string
}

// Aggregator owns the utterance list for one session. Speaker switching is
// an explicit external signal, never inferred from audio.
type Aggregator struct {
	mu         sync.Mutex
	utterances []models.Utterance
	interim    string
	// boundary forces the next final fragment into a new utterance. Set by
	// a speaker switch; a switch always starts a new utterance even when
	// the speaker toggles away and back without speaking.
	boundary bool

	now   func() time.Time
	newID func() string
}

// New creates an empty aggregator.
func New() *Aggregator {
	return &Aggregator{
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// SpeakerSwitched marks an utterance boundary. Only the session layer calls
// this, from the operator toggle.
func (a *Aggregator) SpeakerSwitched() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.boundary = true
	a.interim = ""
}

// Add folds one fragment into the aggregate.
func (a *Aggregator) Add(frag models.TranscriptFragment) Update {
	text := strings.TrimSpace(frag.Text)
	if text == "" {
		return Update{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !frag.IsFinal {
		a.interim = text
		return Update{Interim: text}
	}

	a.interim = ""

	var u *models.Utterance
	fresh := true
	if n := len(a.utterances); n > 0 && !a.boundary && a.utterances[n-1].Speaker == frag.Speaker {
		u = &a.utterances[n-1]
		fresh = false
	} else {
		a.utterances = append(a.utterances, models.Utterance{
			ID:        a.newID(),
			Speaker:   frag.Speaker,
			Timestamp: a.now(),
		})
		u = &a.utterances[len(a.utterances)-1]
	}
	a.boundary = false
	u.Fragments = append(u.Fragments, text)

	copied := *u
	copied.Fragments = append([]string(nil), u.Fragments...)

	return Update{
		Utterance:    &copied,
		NewUtterance: fresh,
		Submit:       frag.Speaker == models.SpeakerCandidate,
		Question:     text,
	}
}

// Utterances returns a copy of the persisted utterances in order.
func (a *Aggregator) Utterances() []models.Utterance {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]models.Utterance, len(a.utterances))
	for i, u := range a.utterances {
		out[i] = u
		out[i].Fragments = append([]string(nil), u.Fragments...)
	}
	return out
}

// Interim returns the current interim speech for display.
func (a *Aggregator) Interim() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interim
}

// Reset clears all utterances and interim state. Utterances are never
// deleted within a session; Reset is the session-reset path only.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.utterances = nil
	a.interim = ""
	a.boundary = false
}
