// Package session orchestrates start/stop/switch-speaker/error transitions
// across audio capture, transcription, aggregation and answer generation.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ai-interview-copilot/internal/answer"
	"ai-interview-copilot/internal/audio"
	"ai-interview-copilot/internal/events"
	"ai-interview-copilot/internal/models"
	"ai-interview-copilot/internal/observability/logging"
	"ai-interview-copilot/internal/observability/metrics"
	"ai-interview-copilot/internal/stt"
	"ai-interview-copilot/internal/transcript"
)

var (
	ErrNotAuthenticated   = errors.New("authenticated user required")
	ErrAlreadyRecording   = errors.New("a session is already recording")
	ErrNotRecording       = errors.New("no active recording session")
	ErrInvalidCallKind    = errors.New("call kind must be phone or video")
	ErrShareNotConfirmed  = errors.New("screen and audio share must be confirmed before starting")
	ErrNotAwaitingContext = errors.New("session is not awaiting context")
	ErrEmptyContext       = errors.New("meeting context must not be empty")
)

// AdapterFactory builds a fresh STT adapter for each session.
type AdapterFactory func(ctx context.Context) (stt.Adapter, error)

// Config controls session behavior.
type Config struct {
	// UserToken is the authenticated user identity. Start refuses to run
	// without one.
	UserToken string
	Audio     audio.Config
	// BlockSize is the number of samples per audio frame sent to the
	// transcription client.
	BlockSize int
}

// Deps are the collaborators the machine orchestrates.
type Deps struct {
	Opener     audio.Opener
	NewAdapter AdapterFactory
	Answers    *answer.Pipeline
	Publisher  *events.Publisher
	Emitter    Emitter
	Metrics    *metrics.Metrics
}

// StartOptions carries per-start flags.
type StartOptions struct {
	// ShareConfirmed records that the user explicitly confirmed the
	// screen+audio share. Required for video sessions.
	ShareConfirmed bool
}

// Machine is the session state machine. Exactly one session may exist per
// process; the audio context, media tracks and sockets are exclusively owned
// by the current session.
type Machine struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	mu         sync.Mutex
	state      models.SessionState
	sess       models.Session
	agg        *transcript.Aggregator
	adapter    stt.Adapter
	capture    *audio.Capture
	pumpDone   chan struct{}
	generation int
}

// New creates an idle session machine.
func New(cfg Config, deps Deps) *Machine {
	if cfg.BlockSize < audio.RenderQuantum {
		cfg.BlockSize = 1024
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	return &Machine{
		cfg:   cfg,
		deps:  deps,
		log:   logging.WithComponent("session"),
		state: models.SessionStateIdle,
		agg:   transcript.New(),
	}
}

// State returns the current lifecycle state.
func (m *Machine) State() models.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsRecording reports whether a session is actively recording.
func (m *Machine) IsRecording() bool {
	return m.State() == models.SessionStateRecording
}

// Snapshot returns a copy of the current session root object.
func (m *Machine) Snapshot() models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// Utterances returns the persisted transcript so far.
func (m *Machine) Utterances() []models.Utterance {
	return m.agg.Utterances()
}

// Start begins a session of the given kind. Video sessions require the user
// to have confirmed the screen+audio share; phone sessions require collected
// meeting context on first run, in which case the machine parks in
// awaiting_context until ProvideContext is called.
func (m *Machine) Start(ctx context.Context, kind models.CallKind, opts StartOptions) error {
	if strings.TrimSpace(m.cfg.UserToken) == "" {
		m.deps.Emitter.SessionError(models.ErrorCodeAuth, "sign in to use the interview copilot")
		return ErrNotAuthenticated
	}
	if !kind.Valid() {
		return ErrInvalidCallKind
	}

	m.mu.Lock()
	if m.state == models.SessionStateRecording {
		m.mu.Unlock()
		return ErrAlreadyRecording
	}
	if kind == models.CallKindVideo && !opts.ShareConfirmed {
		m.mu.Unlock()
		return ErrShareNotConfirmed
	}
	if kind == models.CallKindPhone && !m.sess.ContextCollected {
		m.state = models.SessionStateAwaitingContext
		m.mu.Unlock()
		m.deps.Emitter.StateChanged(models.SessionStateAwaitingContext, models.ReasonContextRequired)
		return nil
	}
	m.mu.Unlock()

	return m.beginRecording(ctx, kind)
}

// ProvideContext supplies the mandatory free-text meeting context for a
// first phone session and starts recording. Empty context is a validation
// error and the machine stays in awaiting_context.
func (m *Machine) ProvideContext(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)

	m.mu.Lock()
	if m.state != models.SessionStateAwaitingContext {
		m.mu.Unlock()
		return ErrNotAwaitingContext
	}
	if text == "" {
		m.mu.Unlock()
		return ErrEmptyContext
	}
	m.sess.ContextText = text
	m.sess.ContextCollected = true
	m.mu.Unlock()

	m.deps.Emitter.StateChanged(models.SessionStateAwaitingContext, models.ReasonContextCollected)
	return m.beginRecording(ctx, models.CallKindPhone)
}

func (m *Machine) beginRecording(ctx context.Context, kind models.CallKind) error {
	capture, err := audio.Acquire(ctx, kind, m.deps.Opener, m.cfg.Audio)
	if err != nil {
		m.setState(models.SessionStateIdle)
		if errors.Is(err, audio.ErrNoSystemAudio) {
			m.deps.Emitter.SessionError(models.ErrorCodeSystemAudio, err.Error())
		} else {
			m.deps.Emitter.SessionError(models.ErrorCodeCapture, err.Error())
		}
		return err
	}

	adapter, err := m.deps.NewAdapter(ctx)
	if err == nil {
		err = adapter.Start(ctx, &sttCallback{m: m})
	}
	if err != nil {
		capture.Close()
		m.setState(models.SessionStateIdle)
		m.deps.Emitter.SessionError(models.ErrorCodeTranscription, err.Error())
		return fmt.Errorf("failed to start transcription: %w", err)
	}

	m.mu.Lock()
	m.generation++
	gen := m.generation
	contextText := m.sess.ContextText
	contextCollected := m.sess.ContextCollected
	m.sess = models.Session{
		ID:               uuid.NewString(),
		CallKind:         kind,
		CurrentSpeaker:   models.SpeakerInterviewer,
		IsRecording:      true,
		ContextText:      contextText,
		ContextCollected: contextCollected,
		StartedAt:        time.Now(),
	}
	m.agg = transcript.New()
	m.adapter = adapter
	m.capture = capture
	m.pumpDone = make(chan struct{})
	m.state = models.SessionStateRecording
	pumpDone := m.pumpDone
	m.mu.Unlock()

	m.deps.Metrics.RecordSessionStart()
	m.log.Info().Str("callKind", string(kind)).Msg("Recording started")
	m.deps.Emitter.StateChanged(models.SessionStateRecording, models.ReasonRecordingStarted)

	go m.pump(ctx, gen, capture, adapter, pumpDone)
	return nil
}

// pump reads mixed audio blocks, converts them to 16-bit PCM and pushes them
// to the transcription client. It only pushes frames outward; it never
// touches aggregator state.
func (m *Machine) pump(ctx context.Context, gen int, capture *audio.Capture, adapter stt.Adapter, done chan struct{}) {
	// When the pump itself triggers the stop, done must close before
	// stop runs or stop would wait out its own drain timeout.
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }
	defer finish()

	samples := make([]float32, m.cfg.BlockSize)
	pcm := make([]byte, m.cfg.BlockSize*2)

	for {
		n, err := capture.Mixer.ReadBlock(samples)
		if n > 0 {
			audio.PCM16FromFloat32(samples[:n], pcm[:n*2])
			m.deps.Metrics.RecordAudioFrame(n * 2)
			if sendErr := adapter.SendAudio(ctx, pcm[:n*2]); sendErr != nil {
				if m.alive(gen) {
					m.deps.Emitter.SessionError(models.ErrorCodeTranscription, sendErr.Error())
					finish()
					m.fail(gen, models.ReasonTranscriberFailed)
				}
				return
			}
		}
		if err != nil {
			// A hardware/display track ending unexpectedly forces an
			// implicit stop.
			if errors.Is(err, io.EOF) {
				if m.alive(gen) {
					m.log.Info().Msg("Capture stream ended, stopping session")
					finish()
					m.stop(models.ReasonDisplayEnded)
				}
				return
			}
			if m.alive(gen) {
				m.deps.Emitter.SessionError(models.ErrorCodeCapture, err.Error())
				finish()
				m.fail(gen, models.ReasonCaptureFailed)
			}
			return
		}
	}
}

// ToggleSpeaker flips the active speaker. Only meaningful while recording;
// it is the sole trigger for new-utterance boundaries.
func (m *Machine) ToggleSpeaker() (models.Speaker, error) {
	m.mu.Lock()
	if m.state != models.SessionStateRecording {
		m.mu.Unlock()
		return "", ErrNotRecording
	}
	m.sess.CurrentSpeaker = m.sess.CurrentSpeaker.Toggle()
	speaker := m.sess.CurrentSpeaker
	agg := m.agg
	m.mu.Unlock()

	agg.SpeakerSwitched()
	m.deps.Metrics.SpeakerSwitches.Inc()
	m.log.Info().Str("speaker", string(speaker)).Msg("Speaker switched")
	return speaker, nil
}

// Analyze submits text to the answer pipeline on demand, outside the
// candidate-final gating.
func (m *Machine) Analyze(ctx context.Context, text string) {
	m.mu.Lock()
	contextText := m.sess.ContextText
	agg := m.agg
	m.mu.Unlock()
	m.deps.Answers.Submit(ctx, text, contextText, agg.Utterances())
}

// Stop ends the session, releasing the transcription client, audio
// processors, media tracks and audio context in that order. Safe to invoke
// from any state, including when some resources were never acquired.
func (m *Machine) Stop() {
	m.stop(models.ReasonRecordingStopped)
}

func (m *Machine) stop(reason models.StateReason) {
	m.mu.Lock()
	wasIdle := m.state == models.SessionStateIdle
	wasRecording := m.state == models.SessionStateRecording
	startedAt := m.sess.StartedAt
	adapter := m.adapter
	capture := m.capture
	pumpDone := m.pumpDone
	m.generation++
	m.adapter = nil
	m.capture = nil
	m.pumpDone = nil
	m.sess.IsRecording = false
	m.state = models.SessionStateIdle
	m.mu.Unlock()

	// Every release step is individually guarded: one failing release must
	// not block the rest.
	if adapter != nil {
		if err := adapter.Close(); err != nil {
			m.log.Warn().Err(err).Msg("Transcription client teardown reported an error")
		}
	}
	if capture != nil {
		capture.Close()
	}
	if pumpDone != nil {
		select {
		case <-pumpDone:
		case <-time.After(2 * time.Second):
			m.log.Warn().Msg("Audio pump did not drain in time")
		}
	}

	if wasRecording {
		m.deps.Metrics.RecordSessionEnd(time.Since(startedAt))
	}
	if !wasIdle {
		m.log.Info().Str("reason", string(reason)).Msg("Session stopped")
		m.deps.Emitter.StateChanged(models.SessionStateIdle, reason)
	}
}

// fail routes an unrecoverable failure through the error state, then cleans
// up back to idle.
func (m *Machine) fail(gen int, reason models.StateReason) {
	if !m.alive(gen) {
		return
	}
	m.deps.Emitter.StateChanged(models.SessionStateError, reason)
	m.stop(reason)
}

// Reset discards all session-scoped state: transcript, answer history,
// collected context.
func (m *Machine) Reset() {
	m.Stop()
	m.mu.Lock()
	m.agg.Reset()
	m.sess = models.Session{}
	m.mu.Unlock()
	m.deps.Answers.Reset()
}

// alive guards late callbacks arriving after teardown: a stale generation
// or a non-recording state must not revive the session.
func (m *Machine) alive(gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation && m.state == models.SessionStateRecording
}

func (m *Machine) setState(s models.SessionState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// sttCallback receives transcript fragments and fans them into the
// aggregator and answer pipeline with the speaker active at arrival time.
type sttCallback struct {
	m *Machine
}

func (c *sttCallback) OnPartial(text string) {
	m := c.m
	m.mu.Lock()
	if m.state != models.SessionStateRecording {
		m.mu.Unlock()
		return
	}
	speaker := m.sess.CurrentSpeaker
	agg := m.agg
	m.mu.Unlock()

	upd := agg.Add(models.TranscriptFragment{Text: text, IsFinal: false, Speaker: speaker})
	if upd.Interim == "" {
		return
	}
	m.deps.Metrics.TranscriptsPartial.Inc()
	m.deps.Emitter.Interim(speaker, upd.Interim)
}

func (c *sttCallback) OnFinal(text string, _ float64) {
	m := c.m
	m.mu.Lock()
	if m.state != models.SessionStateRecording {
		m.mu.Unlock()
		return
	}
	speaker := m.sess.CurrentSpeaker
	sessionID := m.sess.ID
	contextText := m.sess.ContextText
	agg := m.agg
	m.mu.Unlock()

	upd := agg.Add(models.TranscriptFragment{Text: text, IsFinal: true, Speaker: speaker})
	if upd.Utterance == nil {
		return
	}

	m.deps.Metrics.TranscriptsFinal.Inc()
	if upd.NewUtterance {
		m.deps.Metrics.UtterancesCreated.Inc()
	}
	m.deps.Emitter.UtteranceUpdated(*upd.Utterance)

	if m.deps.Publisher != nil {
		if err := m.deps.Publisher.PublishUtterance(context.Background(), sessionID, *upd.Utterance); err != nil {
			m.log.Warn().Err(err).Msg("Failed to publish utterance event")
		}
	}

	if upd.Submit {
		go m.deps.Answers.Submit(context.Background(), upd.Question, contextText, agg.Utterances())
	}
}

func (c *sttCallback) OnError(err error) {
	m := c.m
	m.mu.Lock()
	gen := m.generation
	recording := m.state == models.SessionStateRecording
	m.mu.Unlock()
	if !recording {
		return
	}
	m.deps.Emitter.SessionError(models.ErrorCodeTranscription, err.Error())
	m.fail(gen, models.ReasonTranscriberFailed)
}
