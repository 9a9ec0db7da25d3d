package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"ai-interview-copilot/internal/answer"
	"ai-interview-copilot/internal/audio"
	"ai-interview-copilot/internal/cache"
	"ai-interview-copilot/internal/channel"
	"ai-interview-copilot/internal/config"
	"ai-interview-copilot/internal/events"
	"ai-interview-copilot/internal/models"
	"ai-interview-copilot/internal/observability"
	"ai-interview-copilot/internal/observability/logging"
	"ai-interview-copilot/internal/session"
	"ai-interview-copilot/internal/stt"
	"ai-interview-copilot/internal/stt/deepgram"
	"ai-interview-copilot/internal/stt/google"
	"ai-interview-copilot/internal/stt/mock"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Configuration errors surface before any capture attempt.
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})
	log := logging.Logger()

	obs := observability.NewServer(cfg.Observability.HTTPAddr)
	obs.Start()

	publisher := events.New(&events.Config{
		Enabled:        cfg.Kafka.Enabled,
		Brokers:        cfg.Kafka.Brokers,
		TopicUtterance: cfg.Kafka.TopicUtterance,
		TopicAnswer:    cfg.Kafka.TopicAnswer,
		Principal:      cfg.Kafka.Principal,
	})
	defer publisher.Close()

	ch := channel.New(channel.Config{
		URL:         cfg.Channel.URL,
		Token:       cfg.Service.UserToken,
		BaseDelay:   cfg.Channel.BaseDelay,
		MaxAttempts: cfg.Channel.MaxAttempts,
	})

	emitter := &channelEmitter{ch: ch, log: logging.WithComponent("emitter")}
	session.BindAnalysis(ch, emitter)

	sink := session.NewAnswerSink(emitter, publisher)
	answers := answer.New(answer.Config{
		BaseURL:     cfg.Answer.BaseURL,
		UserToken:   cfg.Service.UserToken,
		IdleTimeout: cfg.Answer.IdleTimeout,
	}, cache.New(cfg.Cache.TTL), sink)

	machine := session.New(session.Config{
		UserToken: cfg.Service.UserToken,
		Audio: audio.Config{
			FFmpegCommand: cfg.Audio.FFmpegCommand,
			InputFormat:   cfg.Audio.InputFormat,
			MicDevice:     cfg.Audio.MicDevice,
			DisplayDevice: cfg.Audio.DisplayDevice,
			SampleRate:    cfg.STT.SampleRateHz,
			MicGain:       cfg.Audio.MicGain,
			DisplayGain:   cfg.Audio.DisplayGain,
		},
		BlockSize: cfg.Audio.BlockSize,
	}, session.Deps{
		Opener:     audio.FFmpegOpener{},
		NewAdapter: adapterFactory(cfg),
		Answers:    answers,
		Publisher:  publisher,
		Emitter:    emitter,
	})
	sink.Bind(machine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch.Run(ctx)

	// The context prompt reads a full stdin line before the keyboard loop
	// takes over the same stream.
	stdin := bufio.NewReader(os.Stdin)
	if err := startSession(ctx, machine, cfg, stdin); err != nil {
		log.Error().Err(err).Msg("Failed to start session")
	}
	go session.RunKeyboard(ctx, stdin, machine)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")
	machine.Stop()
	ch.Close()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Observability server shutdown reported an error")
	}
}

// startSession begins a session of the configured kind, answering the
// context prompt from stdin when a first phone session requires it.
func startSession(ctx context.Context, m *session.Machine, cfg *config.Configuration, stdin *bufio.Reader) error {
	kind := models.CallKind(os.Getenv("COPILOT_CALL_KIND"))
	if kind == "" {
		kind = models.CallKindPhone
	}

	opts := session.StartOptions{
		// A configured display device records the user's explicit consent
		// to share screen and audio.
		ShareConfirmed: cfg.Audio.DisplayDevice != "",
	}
	if err := m.Start(ctx, kind, opts); err != nil {
		return err
	}

	if m.State() == models.SessionStateAwaitingContext {
		contextText := os.Getenv("COPILOT_MEETING_CONTEXT")
		if contextText == "" {
			fmt.Print("Describe the meeting context: ")
			line, err := readContextLine(stdin)
			if err != nil {
				return err
			}
			contextText = line
		}
		return m.ProvideContext(ctx, contextText)
	}
	return nil
}

// readContextLine reads one full line from the prompt, whitespace-trimmed.
// Multi-word descriptions are kept intact.
func readContextLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// adapterFactory selects the transcription backend from config.
func adapterFactory(cfg *config.Configuration) session.AdapterFactory {
	stream := stt.Config{
		SampleRateHz:   cfg.STT.SampleRateHz,
		Channels:       cfg.STT.Channels,
		Encoding:       cfg.STT.Encoding,
		InterimResults: cfg.STT.InterimResults,
		Punctuate:      cfg.STT.Punctuate,
		Language:       cfg.Deepgram.Language,
	}

	switch cfg.STT.Provider {
	case "google":
		return func(ctx context.Context) (stt.Adapter, error) {
			return google.New(ctx, stream)
		}
	case "mock":
		return func(ctx context.Context) (stt.Adapter, error) {
			return mock.New(), nil
		}
	default:
		return func(ctx context.Context) (stt.Adapter, error) {
			return deepgram.New(deepgram.Config{
				APIKey:  cfg.Deepgram.APIKey,
				BaseURL: cfg.Deepgram.BaseURL,
				Model:   cfg.Deepgram.Model,
			}, stream), nil
		}
	}
}

// Outbound channel message types.
const (
	msgState          = "session_state"
	msgInterim        = "transcript_interim"
	msgUtterance      = "transcript_utterance"
	msgAnswerDelta    = "answer_delta"
	msgAnswerComplete = "answer_complete"
	msgError          = "session_error"
)

// channelEmitter renders session events onto the message channel and the
// structured log.
type channelEmitter struct {
	ch  *channel.Client
	log zerolog.Logger
}

func (e *channelEmitter) StateChanged(state models.SessionState, reason models.StateReason) {
	e.log.Info().Str("state", string(state)).Str("reason", string(reason)).Msg("Session state changed")
	_ = e.ch.Send(msgState, map[string]string{"state": string(state), "reason": string(reason)})
}

func (e *channelEmitter) Interim(speaker models.Speaker, text string) {
	_ = e.ch.Send(msgInterim, map[string]string{"speaker": string(speaker), "text": text})
}

func (e *channelEmitter) UtteranceUpdated(u models.Utterance) {
	_ = e.ch.Send(msgUtterance, u)
}

func (e *channelEmitter) AnswerDelta(rec models.AnswerRecord, delta string) {
	_ = e.ch.Send(msgAnswerDelta, map[string]string{"id": rec.ID, "delta": delta})
}

func (e *channelEmitter) AnswerComplete(rec models.AnswerRecord) {
	e.log.Info().Str("id", rec.ID).Bool("fromCache", rec.FromCache).Msg("Answer complete")
	_ = e.ch.Send(msgAnswerComplete, rec)
}

func (e *channelEmitter) SessionError(code models.ErrorCode, detail string) {
	e.log.Error().Str("code", string(code)).Str("detail", detail).Msg("Session error")
	_ = e.ch.Send(msgError, map[string]string{"code": string(code), "message": detail})
}
