// Package config resolves runtime configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration stores runtime configuration for the copilot core.
type Configuration struct {
	Service       ServiceConfig
	Deepgram      DeepgramConfig
	STT           STTConfig
	Answer        AnswerConfig
	Channel       ChannelConfig
	Audio         AudioConfig
	Cache         CacheConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	// UserToken is the authenticated user identity passed as a bearer token
	// to the answer and channel backends. Authentication UX itself is an
	// external collaborator.
	UserToken string
}

type DeepgramConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

type STTConfig struct {
	Provider       string // deepgram, google, mock
	SampleRateHz   int
	Channels       int
	Encoding       string
	InterimResults bool
	Punctuate      bool
}

type AnswerConfig struct {
	BaseURL     string
	IdleTimeout time.Duration
}

type ChannelConfig struct {
	URL         string
	BaseDelay   time.Duration
	MaxAttempts int
}

type AudioConfig struct {
	FFmpegCommand string
	InputFormat   string
	MicDevice     string
	DisplayDevice string // monitor source carrying system audio; empty means no audio shared
	MicGain       float64
	DisplayGain   float64
	BlockSize     int
}

type CacheConfig struct {
	TTL time.Duration
}

type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	TopicUtterance string
	TopicAnswer    string
	Principal      string
}

type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
	HTTPAddr  string
}

// Load resolves configuration from environment variables. The speech backend
// API key, answer backend URL and message channel URL are required; a missing
// value is a fatal configuration error surfaced before any capture attempt.
func Load() (*Configuration, error) {
	cfg := &Configuration{
		Service: ServiceConfig{
			UserToken: strings.TrimSpace(os.Getenv("COPILOT_USER_TOKEN")),
		},
		Deepgram: DeepgramConfig{
			APIKey:   strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			BaseURL:  envOrDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
			Model:    envOrDefault("DEEPGRAM_MODEL", "general"),
			Language: envOrDefault("DEEPGRAM_LANGUAGE", "en-US"),
		},
		STT: STTConfig{
			Provider:       envOrDefault("STT_PROVIDER", "deepgram"),
			SampleRateHz:   envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			Channels:       envOrDefaultInt("STT_CHANNELS", 1),
			Encoding:       envOrDefault("STT_AUDIO_ENCODING", "linear16"),
			InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", true),
			Punctuate:      envOrDefaultBool("STT_PUNCTUATE", true),
		},
		Answer: AnswerConfig{
			BaseURL:     strings.TrimSpace(os.Getenv("ANSWER_BASE_URL")),
			IdleTimeout: envOrDefaultDuration("ANSWER_IDLE_TIMEOUT", 30*time.Second),
		},
		Channel: ChannelConfig{
			URL:         strings.TrimSpace(os.Getenv("CHANNEL_URL")),
			BaseDelay:   envOrDefaultDuration("CHANNEL_BASE_DELAY", time.Second),
			MaxAttempts: envOrDefaultInt("CHANNEL_MAX_ATTEMPTS", 5),
		},
		Audio: AudioConfig{
			FFmpegCommand: envOrDefault("COPILOT_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:   envOrDefault("COPILOT_AUDIO_INPUT_FORMAT", "pulse"),
			MicDevice:     envOrDefault("COPILOT_MIC_DEVICE", "default"),
			DisplayDevice: strings.TrimSpace(os.Getenv("COPILOT_DISPLAY_DEVICE")),
			MicGain:       envOrDefaultFloat("COPILOT_MIC_GAIN", 0.0),
			DisplayGain:   envOrDefaultFloat("COPILOT_DISPLAY_GAIN", 1.0),
			BlockSize:     envOrDefaultInt("COPILOT_AUDIO_BLOCK_SIZE", 1024),
		},
		Cache: CacheConfig{
			TTL: envOrDefaultDuration("ANSWER_CACHE_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Enabled:        envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:        splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
			TopicUtterance: envOrDefault("KAFKA_TOPIC_UTTERANCE", "interview.utterance.final"),
			TopicAnswer:    envOrDefault("KAFKA_TOPIC_ANSWER", "interview.answer.completed"),
			Principal:      envOrDefault("SERVICE_PRINCIPAL", "svc-interview-copilot"),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
			HTTPAddr:  envOrDefault("OBSERVABILITY_HTTP_ADDR", ":9090"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Configuration) validate() error {
	if c.Deepgram.APIKey == "" && c.STT.Provider == "deepgram" {
		return fmt.Errorf("missing required configuration: DEEPGRAM_API_KEY")
	}
	if c.Answer.BaseURL == "" {
		return fmt.Errorf("missing required configuration: ANSWER_BASE_URL")
	}
	if c.Channel.URL == "" {
		return fmt.Errorf("missing required configuration: CHANNEL_URL")
	}
	if c.STT.SampleRateHz <= 0 {
		c.STT.SampleRateHz = 16000
	}
	if c.STT.Channels <= 0 {
		c.STT.Channels = 1
	}
	if c.Audio.BlockSize < 128 {
		c.Audio.BlockSize = 1024
	}
	if c.Channel.MaxAttempts <= 0 {
		c.Channel.MaxAttempts = 5
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 5 * time.Minute
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func envOrDefaultFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return parsed
}

func envOrDefaultBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func splitNonEmpty(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
