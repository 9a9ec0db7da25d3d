// Package audio acquires microphone and system-audio streams and merges them
// through a low-latency in-process mixing graph.
package audio

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"ai-interview-copilot/internal/models"
	"ai-interview-copilot/internal/observability/logging"
)

// ErrNoSystemAudio is returned when a video-call share carries no audio
// track. The user must explicitly re-share with audio enabled; this is a hard
// precondition and is never retried.
var ErrNoSystemAudio = errors.New("no system audio captured: share the screen with audio enabled")

// Config describes how streams should be captured.
type Config struct {
	FFmpegCommand string
	InputFormat   string
	MicDevice     string
	DisplayDevice string
	SampleRate    int
	MicGain       float64
	DisplayGain   float64
}

// DisplayStream is an acquired screen-share stream. Audio is nil when the
// share carried no audio track.
type DisplayStream struct {
	Audio Source

	closeOnce sync.Once
	closer    func() error
}

// NewDisplayStream wraps an acquired display share.
func NewDisplayStream(audio Source, closer func() error) *DisplayStream {
	return &DisplayStream{Audio: audio, closer: closer}
}

// Close releases the share's underlying tracks. Idempotent.
func (d *DisplayStream) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.Audio != nil {
			err = d.Audio.Close()
		}
		if d.closer != nil {
			if cerr := d.closer(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// Opener acquires capture devices. Injectable for tests.
type Opener interface {
	// Microphone opens the local microphone stream.
	Microphone(ctx context.Context, cfg Config) (Source, error)

	// Display opens the system/display share. The returned stream may lack
	// an audio track.
	Display(ctx context.Context, cfg Config) (*DisplayStream, error)
}

// FFmpegOpener acquires devices through ffmpeg/pulse subprocesses.
type FFmpegOpener struct{}

// Microphone opens the default (or configured) pulse source.
func (FFmpegOpener) Microphone(ctx context.Context, cfg Config) (Source, error) {
	return StartFFmpegSource(ctx, FFmpegConfig{
		Command:     cfg.FFmpegCommand,
		InputFormat: cfg.InputFormat,
		Device:      cfg.MicDevice,
		SampleRate:  cfg.SampleRate,
	})
}

// Display opens the monitor source carrying system audio. An unset display
// device means the user shared without audio.
func (FFmpegOpener) Display(ctx context.Context, cfg Config) (*DisplayStream, error) {
	if cfg.DisplayDevice == "" {
		return NewDisplayStream(nil, nil), nil
	}
	src, err := StartFFmpegSource(ctx, FFmpegConfig{
		Command:     cfg.FFmpegCommand,
		InputFormat: cfg.InputFormat,
		Device:      cfg.DisplayDevice,
		SampleRate:  cfg.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	return NewDisplayStream(src, nil), nil
}

// Capture owns the acquired streams and the mixing graph for one session.
type Capture struct {
	Mixer *Mixer

	log     zerolog.Logger
	mic     Source
	display *DisplayStream

	closeOnce sync.Once
}

// Acquire opens the streams for the given call kind and builds the mixing
// graph. For phone calls only the microphone is captured; for video calls the
// system-audio share is acquired first and its audio track is a hard
// precondition. On any failure every already-acquired resource is released
// before returning.
func Acquire(ctx context.Context, kind models.CallKind, opener Opener, cfg Config) (*Capture, error) {
	log := logging.WithComponent("audio")

	if kind == models.CallKindPhone {
		mic, err := opener.Microphone(ctx, cfg)
		if err != nil {
			return nil, err
		}
		mixer, err := NewMixer([]Source{mic}, []float64{1.0})
		if err != nil {
			_ = mic.Close()
			return nil, err
		}
		return &Capture{Mixer: mixer, mic: mic, log: log}, nil
	}

	display, err := opener.Display(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if display.Audio == nil {
		_ = display.Close()
		return nil, ErrNoSystemAudio
	}

	mic, err := opener.Microphone(ctx, cfg)
	if err != nil {
		_ = display.Close()
		return nil, err
	}

	// System/interviewer audio dominates; the local mic is attenuated to
	// avoid echo.
	mixer, err := NewMixer(
		[]Source{display.Audio, mic},
		[]float64{cfg.DisplayGain, cfg.MicGain},
	)
	if err != nil {
		_ = mic.Close()
		_ = display.Close()
		return nil, err
	}

	return &Capture{Mixer: mixer, mic: mic, display: display, log: log}, nil
}

// Close disconnects the graph and stops all underlying tracks. Idempotent
// and safe to call multiple times; each release step is individually guarded
// so one failure does not block the rest.
func (c *Capture) Close() {
	c.closeOnce.Do(func() {
		if c.Mixer != nil {
			if err := c.Mixer.Close(); err != nil {
				c.log.Warn().Err(err).Msg("Mixer teardown reported an error")
			}
		}
		if c.mic != nil {
			if err := c.mic.Close(); err != nil {
				c.log.Warn().Err(err).Msg("Microphone teardown reported an error")
			}
		}
		if c.display != nil {
			if err := c.display.Close(); err != nil {
				c.log.Warn().Err(err).Msg("Display teardown reported an error")
			}
		}
	})
}
