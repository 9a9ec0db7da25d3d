package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"ai-interview-copilot/internal/answer"
	"ai-interview-copilot/internal/audio"
	"ai-interview-copilot/internal/cache"
	"ai-interview-copilot/internal/models"
	"ai-interview-copilot/internal/stt"
)

// blockingSource parks ReadBlock until closed, then signals end of stream.
type blockingSource struct {
	stopped chan struct{}
	once    sync.Once
}

func newBlockingSource() *blockingSource {
	return &blockingSource{stopped: make(chan struct{})}
}

func (s *blockingSource) ReadBlock(_ []float32) (int, error) {
	<-s.stopped
	return 0, io.EOF
}

func (s *blockingSource) Close() error {
	s.once.Do(func() { close(s.stopped) })
	return nil
}

// endedSource reports end of stream on the first read, the way a display
// track behaves when the user stops sharing right away.
type endedSource struct{}

func (endedSource) ReadBlock(_ []float32) (int, error) { return 0, io.EOF }
func (endedSource) Close() error                       { return nil }

type fakeOpener struct {
	mu            sync.Mutex
	displayAudio  bool
	ended         bool
	micOpened     bool
	displayOpened bool
	displayClosed bool
}

func (f *fakeOpener) newSource() audio.Source {
	if f.ended {
		return endedSource{}
	}
	return newBlockingSource()
}

func (f *fakeOpener) Microphone(_ context.Context, _ audio.Config) (audio.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.micOpened = true
	return f.newSource(), nil
}

func (f *fakeOpener) Display(_ context.Context, _ audio.Config) (*audio.DisplayStream, error) {
	f.mu.Lock()
	f.displayOpened = true
	f.mu.Unlock()
	var src audio.Source
	if f.displayAudio {
		src = f.newSource()
	}
	return audio.NewDisplayStream(src, func() error {
		f.mu.Lock()
		f.displayClosed = true
		f.mu.Unlock()
		return nil
	}), nil
}

type fakeAdapter struct {
	mu       sync.Mutex
	cb       stt.Callback
	started  bool
	closed   int
	startErr error
}

func (a *fakeAdapter) Start(_ context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startErr != nil {
		return a.startErr
	}
	a.cb = cb
	a.started = true
	return nil
}

func (a *fakeAdapter) SendAudio(_ context.Context, _ []byte) error { return nil }

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed++
	return nil
}

func (a *fakeAdapter) callback() stt.Callback {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cb
}

// recordingEmitter captures every emitted event for assertions.
type recordingEmitter struct {
	mu         sync.Mutex
	states     []models.SessionState
	reasons    []models.StateReason
	interims   []string
	utterances []models.Utterance
	errors     []models.ErrorCode
}

func (e *recordingEmitter) StateChanged(s models.SessionState, r models.StateReason) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = append(e.states, s)
	e.reasons = append(e.reasons, r)
}

func (e *recordingEmitter) Interim(_ models.Speaker, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.interims = append(e.interims, text)
}

func (e *recordingEmitter) UtteranceUpdated(u models.Utterance) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.utterances = append(e.utterances, u)
}

func (e *recordingEmitter) AnswerDelta(_ models.AnswerRecord, _ string) {}
func (e *recordingEmitter) AnswerComplete(_ models.AnswerRecord)       {}

func (e *recordingEmitter) SessionError(code models.ErrorCode, _ string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors = append(e.errors, code)
}

func (e *recordingEmitter) lastError() models.ErrorCode {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errors) == 0 {
		return ""
	}
	return e.errors[len(e.errors)-1]
}

type harness struct {
	machine *Machine
	opener  *fakeOpener
	adapter *fakeAdapter
	emitter *recordingEmitter
}

func newHarness(t *testing.T, token string) *harness {
	t.Helper()

	h := &harness{
		opener:  &fakeOpener{displayAudio: true},
		adapter: &fakeAdapter{},
		emitter: &recordingEmitter{},
	}
	sink := NewAnswerSink(h.emitter, nil)
	answers := answer.New(answer.Config{UserToken: ""}, cache.New(5*time.Minute), sink)

	h.machine = New(Config{UserToken: token, BlockSize: 256}, Deps{
		Opener:     h.opener,
		NewAdapter: func(_ context.Context) (stt.Adapter, error) { return h.adapter, nil },
		Answers:    answers,
		Emitter:    h.emitter,
	})
	sink.Bind(h.machine)
	t.Cleanup(h.machine.Stop)
	return h
}

func TestStart_RequiresAuthenticatedUser(t *testing.T) {
	h := newHarness(t, "")

	err := h.machine.Start(context.Background(), models.CallKindPhone, StartOptions{})
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if h.emitter.lastError() != models.ErrorCodeAuth {
		t.Errorf("expected auth error surfaced, got %s", h.emitter.lastError())
	}
	if h.opener.micOpened {
		t.Error("no capture may be attempted without an authenticated user")
	}
}

func TestStart_RejectsInvalidCallKind(t *testing.T) {
	h := newHarness(t, "token")

	if err := h.machine.Start(context.Background(), models.CallKind("webinar"), StartOptions{}); !errors.Is(err, ErrInvalidCallKind) {
		t.Fatalf("expected ErrInvalidCallKind, got %v", err)
	}
}

func TestStart_PhoneFirstRunRequiresContext(t *testing.T) {
	h := newHarness(t, "token")
	ctx := context.Background()

	if err := h.machine.Start(ctx, models.CallKindPhone, StartOptions{}); err != nil {
		t.Fatal(err)
	}
	if h.machine.State() != models.SessionStateAwaitingContext {
		t.Fatalf("expected awaiting_context, got %s", h.machine.State())
	}
	h.opener.mu.Lock()
	micOpened := h.opener.micOpened
	h.opener.mu.Unlock()
	if micOpened {
		t.Error("no capture may start before context is collected")
	}

	// Empty context is rejected; the machine stays parked.
	if err := h.machine.ProvideContext(ctx, "   "); !errors.Is(err, ErrEmptyContext) {
		t.Fatalf("expected ErrEmptyContext, got %v", err)
	}
	if h.machine.State() != models.SessionStateAwaitingContext {
		t.Errorf("expected machine still awaiting context, got %s", h.machine.State())
	}

	if err := h.machine.ProvideContext(ctx, "Backend role, distributed systems focus"); err != nil {
		t.Fatal(err)
	}
	if h.machine.State() != models.SessionStateRecording {
		t.Fatalf("expected recording, got %s", h.machine.State())
	}
	if h.machine.Snapshot().ContextText != "Backend role, distributed systems focus" {
		t.Error("collected context must be retained on the session")
	}
}

func TestStart_PhoneSecondRunSkipsContextPrompt(t *testing.T) {
	h := newHarness(t, "token")
	ctx := context.Background()

	_ = h.machine.Start(ctx, models.CallKindPhone, StartOptions{})
	_ = h.machine.ProvideContext(ctx, "first run context")
	h.machine.Stop()

	if err := h.machine.Start(ctx, models.CallKindPhone, StartOptions{}); err != nil {
		t.Fatal(err)
	}
	if h.machine.State() != models.SessionStateRecording {
		t.Fatalf("expected immediate recording on second run, got %s", h.machine.State())
	}
	if h.machine.Snapshot().ContextText != "first run context" {
		t.Error("context must carry over between sessions")
	}
}

func TestStart_VideoRequiresShareConfirmation(t *testing.T) {
	h := newHarness(t, "token")

	err := h.machine.Start(context.Background(), models.CallKindVideo, StartOptions{})
	if !errors.Is(err, ErrShareNotConfirmed) {
		t.Fatalf("expected ErrShareNotConfirmed, got %v", err)
	}
}

func TestStart_VideoWithoutSystemAudioFailsCleanly(t *testing.T) {
	h := newHarness(t, "token")
	h.opener.displayAudio = false

	err := h.machine.Start(context.Background(), models.CallKindVideo, StartOptions{ShareConfirmed: true})
	if !errors.Is(err, audio.ErrNoSystemAudio) {
		t.Fatalf("expected ErrNoSystemAudio, got %v", err)
	}
	if h.emitter.lastError() != models.ErrorCodeSystemAudio {
		t.Errorf("expected system_audio error surfaced, got %s", h.emitter.lastError())
	}
	if h.machine.State() != models.SessionStateIdle {
		t.Errorf("expected idle after failed start, got %s", h.machine.State())
	}

	h.opener.mu.Lock()
	defer h.opener.mu.Unlock()
	if h.opener.micOpened {
		t.Error("the microphone must never be opened when the share has no audio")
	}
	if !h.opener.displayClosed {
		t.Error("the audio-less share must be released")
	}
}

func TestStart_AdapterFailureReleasesCapture(t *testing.T) {
	h := newHarness(t, "token")
	h.adapter.startErr = errors.New("backend unavailable")

	err := h.machine.Start(context.Background(), models.CallKindVideo, StartOptions{ShareConfirmed: true})
	if err == nil {
		t.Fatal("expected transcription start error")
	}
	if h.emitter.lastError() != models.ErrorCodeTranscription {
		t.Errorf("expected transcription error surfaced, got %s", h.emitter.lastError())
	}
	if h.machine.State() != models.SessionStateIdle {
		t.Errorf("expected idle after failed start, got %s", h.machine.State())
	}
}

func TestToggleSpeaker(t *testing.T) {
	h := newHarness(t, "token")

	if _, err := h.machine.ToggleSpeaker(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording while idle, got %v", err)
	}

	if err := h.machine.Start(context.Background(), models.CallKindVideo, StartOptions{ShareConfirmed: true}); err != nil {
		t.Fatal(err)
	}

	// The interviewer is active at session start.
	if got := h.machine.Snapshot().CurrentSpeaker; got != models.SpeakerInterviewer {
		t.Fatalf("expected interviewer active at start, got %s", got)
	}
	speaker, err := h.machine.ToggleSpeaker()
	if err != nil {
		t.Fatal(err)
	}
	if speaker != models.SpeakerCandidate {
		t.Errorf("expected candidate after toggle, got %s", speaker)
	}
	speaker, _ = h.machine.ToggleSpeaker()
	if speaker != models.SpeakerInterviewer {
		t.Errorf("expected interviewer after second toggle, got %s", speaker)
	}
}

func TestTranscriptFlow(t *testing.T) {
	h := newHarness(t, "token")

	if err := h.machine.Start(context.Background(), models.CallKindVideo, StartOptions{ShareConfirmed: true}); err != nil {
		t.Fatal(err)
	}
	cb := h.adapter.callback()
	if cb == nil {
		t.Fatal("adapter must receive the callback on start")
	}

	cb.OnPartial("tell me about")
	cb.OnFinal("Tell me about yourself.", 0.95)
	cb.OnFinal("Take your time.", 0.95)

	h.emitter.mu.Lock()
	interims := len(h.emitter.interims)
	updates := len(h.emitter.utterances)
	h.emitter.mu.Unlock()
	if interims != 1 {
		t.Errorf("expected 1 interim event, got %d", interims)
	}
	if updates != 2 {
		t.Fatalf("expected 2 utterance updates, got %d", updates)
	}

	// Both finals came from the same speaker with no switch: one utterance.
	utts := h.machine.Utterances()
	if len(utts) != 1 {
		t.Fatalf("expected 1 utterance, got %d", len(utts))
	}
	if got := utts[0].Text(); got != "Tell me about yourself. Take your time." {
		t.Errorf("unexpected utterance text: %q", got)
	}

	// A switch starts a new utterance for the candidate.
	if _, err := h.machine.ToggleSpeaker(); err != nil {
		t.Fatal(err)
	}
	cb.OnFinal("I have eight years of backend experience.", 0.9)

	utts = h.machine.Utterances()
	if len(utts) != 2 {
		t.Fatalf("expected 2 utterances after switch, got %d", len(utts))
	}
	if utts[1].Speaker != models.SpeakerCandidate {
		t.Errorf("expected candidate utterance, got %s", utts[1].Speaker)
	}
}

func TestStop_IdempotentAndReleasesResources(t *testing.T) {
	h := newHarness(t, "token")

	if err := h.machine.Start(context.Background(), models.CallKindVideo, StartOptions{ShareConfirmed: true}); err != nil {
		t.Fatal(err)
	}

	h.machine.Stop()
	h.machine.Stop()

	if h.machine.State() != models.SessionStateIdle {
		t.Errorf("expected idle, got %s", h.machine.State())
	}
	h.adapter.mu.Lock()
	closed := h.adapter.closed
	h.adapter.mu.Unlock()
	if closed != 1 {
		t.Errorf("expected exactly one adapter close, got %d", closed)
	}
}

func TestCaptureEnd_StopsPromptly(t *testing.T) {
	h := newHarness(t, "token")
	h.opener.ended = true

	start := time.Now()
	if err := h.machine.Start(context.Background(), models.CallKindVideo, StartOptions{ShareConfirmed: true}); err != nil {
		t.Fatal(err)
	}

	// The ended capture stops the session from inside the pump; the
	// teardown must not sit out the drain timeout waiting on itself.
	deadline := time.Now().Add(1500 * time.Millisecond)
	for h.machine.State() != models.SessionStateIdle {
		if time.Now().After(deadline) {
			t.Fatal("session did not return to idle promptly after the capture ended")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Fatalf("teardown took %v, expected well under the drain timeout", elapsed)
	}

	h.emitter.mu.Lock()
	defer h.emitter.mu.Unlock()
	found := false
	for i, s := range h.emitter.states {
		if s == models.SessionStateIdle && h.emitter.reasons[i] == models.ReasonDisplayEnded {
			found = true
		}
	}
	if !found {
		t.Error("expected an idle transition attributed to the ended display")
	}
}

func TestLateCallbacksAfterStopIgnored(t *testing.T) {
	h := newHarness(t, "token")

	if err := h.machine.Start(context.Background(), models.CallKindVideo, StartOptions{ShareConfirmed: true}); err != nil {
		t.Fatal(err)
	}
	cb := h.adapter.callback()
	h.machine.Stop()

	cb.OnPartial("straggler")
	cb.OnFinal("A late final.", 0.9)
	cb.OnError(errors.New("late socket error"))

	h.emitter.mu.Lock()
	defer h.emitter.mu.Unlock()
	if len(h.emitter.interims) != 0 {
		t.Error("late partials must be dropped after stop")
	}
	if len(h.emitter.utterances) != 0 {
		t.Error("late finals must be dropped after stop")
	}
	for _, code := range h.emitter.errors {
		if code == models.ErrorCodeTranscription {
			t.Error("late socket errors must not be surfaced after stop")
		}
	}
	if len(h.machine.Utterances()) != 0 {
		t.Error("late finals must not mutate the transcript")
	}
}

func TestReset_ClearsSessionScopedState(t *testing.T) {
	h := newHarness(t, "token")
	ctx := context.Background()

	_ = h.machine.Start(ctx, models.CallKindPhone, StartOptions{})
	_ = h.machine.ProvideContext(ctx, "context")
	cb := h.adapter.callback()
	cb.OnFinal("Something said.", 0.9)

	h.machine.Reset()

	if len(h.machine.Utterances()) != 0 {
		t.Error("Reset must clear the transcript")
	}
	if h.machine.Snapshot().ContextCollected {
		t.Error("Reset must clear the collected context")
	}
}
