// Package events mirrors finalized utterances and completed answers to Kafka
// for downstream consumers. Publishing is best-effort: when Kafka is
// disabled the publisher runs in log-only mode.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-interview-copilot/internal/models"
	"ai-interview-copilot/internal/observability/metrics"
)

// Event types carried in Kafka headers and payloads.
const (
	EventTypeUtteranceFinal  = "interview.utterance.final"
	EventTypeAnswerCompleted = "interview.answer.completed"
)

// UtteranceEvent is the payload published for each finalized utterance.
type UtteranceEvent struct {
	EventType string         `json:"eventType"`
	SessionID string         `json:"sessionId"`
	Speaker   models.Speaker `json:"speaker"`
	Text      string         `json:"text"`
	Timestamp int64          `json:"timestamp"`
}

// AnswerEvent is the payload published for each completed answer.
type AnswerEvent struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	FromCache bool   `json:"fromCache"`
	Timestamp int64  `json:"timestamp"`
}

// Config holds Kafka publisher configuration.
type Config struct {
	Enabled        bool
	Brokers        []string
	TopicUtterance string
	TopicAnswer    string
	Principal      string
}

// Publisher publishes session events to separate Kafka topics.
type Publisher struct {
	writerUtterance *kafka.Writer
	writerAnswer    *kafka.Writer
	principal       string
	topicUtterance  string
	topicAnswer     string
	enabled         bool
	metrics         *metrics.Metrics
}

// New creates a Kafka event publisher with separate topics for utterances
// and answers.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{enabled: false, metrics: m}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:      cfg.Principal,
			topicUtterance: cfg.TopicUtterance,
			topicAnswer:    cfg.TopicAnswer,
			enabled:        false,
			metrics:        m,
		}
	}

	// Longer dial timeouts for DNS resolution in Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	writerUtterance := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicUtterance,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
	writerAnswer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicAnswer,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicUtterance", cfg.TopicUtterance).
		Str("topicAnswer", cfg.TopicAnswer).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerUtterance: writerUtterance,
		writerAnswer:    writerAnswer,
		principal:       cfg.Principal,
		topicUtterance:  cfg.TopicUtterance,
		topicAnswer:     cfg.TopicAnswer,
		enabled:         true,
		metrics:         m,
	}
}

// PublishUtterance publishes a finalized utterance event.
func (p *Publisher) PublishUtterance(ctx context.Context, sessionID string, u models.Utterance) error {
	ev := UtteranceEvent{
		EventType: EventTypeUtteranceFinal,
		SessionID: sessionID,
		Speaker:   u.Speaker,
		Text:      u.Text(),
		Timestamp: time.Now().UnixMilli(),
	}
	if err := validateUtterance(ev); err != nil {
		return err
	}
	return p.publish(ctx, p.writerUtterance, p.topicUtterance, EventTypeUtteranceFinal, sessionID, ev)
}

// PublishAnswer publishes a completed answer event.
func (p *Publisher) PublishAnswer(ctx context.Context, sessionID string, rec models.AnswerRecord) error {
	ev := AnswerEvent{
		EventType: EventTypeAnswerCompleted,
		SessionID: sessionID,
		Question:  rec.Question,
		Answer:    rec.Answer,
		FromCache: rec.FromCache,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := validateAnswer(ev); err != nil {
		return err
	}
	return p.publish(ctx, p.writerAnswer, p.topicAnswer, EventTypeAnswerCompleted, sessionID, ev)
}

func validateUtterance(ev UtteranceEvent) error {
	if ev.SessionID == "" {
		return errors.New("utterance event missing session id")
	}
	if ev.Text == "" {
		return errors.New("utterance event missing text")
	}
	return nil
}

func validateAnswer(ev AnswerEvent) error {
	if ev.SessionID == "" {
		return errors.New("answer event missing session id")
	}
	if ev.Question == "" {
		return errors.New("answer event missing question")
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerUtterance != nil {
		if e := p.writerUtterance.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing utterance writer")
			err = e
		}
	}
	if p.writerAnswer != nil {
		if e := p.writerAnswer.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing answer writer")
			err = e
		}
	}
	return err
}
