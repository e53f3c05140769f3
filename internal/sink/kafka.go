// Package sink publishes validated cards to Kafka. Cards that pass
// validation go to the main topic; cards that fail go to a dead-letter topic
// together with their violations.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/dshills/cardcheck/internal/schema"
)

// Header keys set on every published message.
const (
	HeaderRunID          = "run-id"
	HeaderCardType       = "card-type"
	HeaderViolationCount = "violation-count"
	HeaderCriticalCount  = "critical-count"
)

// ErrNoBrokers is returned by NewPublisher when no broker address is set.
var ErrNoBrokers = errors.New("sink: no kafka brokers configured")

// Config names the brokers and topics.
type Config struct {
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	DLQTopic string   `mapstructure:"dlq_topic"`
}

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublishObserver is notified after every topic write.
type PublishObserver interface {
	ObservePublish(topic string, n int, err error)
}

// Publisher writes cards to the main and dead-letter topics.
type Publisher struct {
	main, dlq           messageWriter
	mainTopic, dlqTopic string
	runID               string
	log                 *zap.Logger
	obs                 PublishObserver
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the publisher's logger.
func WithLogger(l *zap.Logger) Option { return func(p *Publisher) { p.log = l } }

// WithObserver sets a publish observer, usually the metrics collector.
func WithObserver(o PublishObserver) Option { return func(p *Publisher) { p.obs = o } }

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option { return func(p *Publisher) { p.runID = id } }

// NewPublisher creates a publisher with one synchronous writer per topic.
func NewPublisher(cfg Config, opts ...Option) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if cfg.Topic == "" || cfg.DLQTopic == "" {
		return nil, fmt.Errorf("sink: topic and dlq topic are required")
	}
	balancer := &kafka.Hash{}
	main := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     balancer,
		BatchSize:    100,
		RequiredAcks: kafka.RequireAll,
	}
	dlq := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.DLQTopic,
		Balancer:     balancer,
		BatchSize:    10,
		RequiredAcks: kafka.RequireAll,
	}
	return newPublisher(main, dlq, cfg.Topic, cfg.DLQTopic, opts...), nil
}

func newPublisher(main, dlq messageWriter, mainTopic, dlqTopic string, opts ...Option) *Publisher {
	p := &Publisher{
		main:      main,
		dlq:       dlq,
		mainTopic: mainTopic,
		dlqTopic:  dlqTopic,
		runID:     uuid.NewString(),
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunID returns the identifier stamped on every message of this publisher.
func (p *Publisher) RunID() string { return p.runID }

// Stats counts the messages of one Publish call.
type Stats struct {
	Published    int
	DeadLettered int
}

// deadLetter is the value of a dead-letter message.
type deadLetter struct {
	RunID  string             `json:"runId"`
	Type   schema.CardType    `json:"type"`
	Index  int                `json:"index"`
	Card   any                `json:"card"`
	Errors []schema.Violation `json:"errors"`
}

// Publish routes each card by its entry in res. cards must be the slice that
// produced res. A batch-level input violation (res.Errors) has no cards to
// route and publishes nothing.
func (p *Publisher) Publish(ctx context.Context, ct schema.CardType, cards []any, res schema.ArrayResult) (Stats, error) {
	var good, bad []kafka.Message
	for _, cr := range res.Results {
		if cr.Index < 0 || cr.Index >= len(cards) {
			return Stats{}, fmt.Errorf("sink: result index %d out of range (%d cards)", cr.Index, len(cards))
		}
		card := cards[cr.Index]
		headers := p.headers(ct, cr.Result)
		key := []byte(cr.ID)
		if cr.ID == "" {
			key = []byte(fmt.Sprintf("%s-%d", ct, cr.Index))
		}

		if cr.Result.IsValid {
			value, err := json.Marshal(card)
			if err != nil {
				return Stats{}, fmt.Errorf("sink: marshal card %d: %w", cr.Index, err)
			}
			good = append(good, kafka.Message{Key: key, Value: value, Headers: headers})
			continue
		}
		value, err := json.Marshal(deadLetter{RunID: p.runID, Type: ct, Index: cr.Index, Card: card, Errors: cr.Result.Errors})
		if err != nil {
			return Stats{}, fmt.Errorf("sink: marshal dead letter %d: %w", cr.Index, err)
		}
		bad = append(bad, kafka.Message{Key: key, Value: value, Headers: headers})
	}

	var st Stats
	if err := p.write(ctx, p.main, p.mainTopic, good); err != nil {
		return st, err
	}
	st.Published = len(good)
	if err := p.write(ctx, p.dlq, p.dlqTopic, bad); err != nil {
		return st, err
	}
	st.DeadLettered = len(bad)

	p.log.Info("published cards",
		zap.String("type", string(ct)),
		zap.String("run_id", p.runID),
		zap.Int("published", st.Published),
		zap.Int("dead_lettered", st.DeadLettered))
	return st, nil
}

func (p *Publisher) write(ctx context.Context, w messageWriter, topic string, msgs []kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	err := w.WriteMessages(ctx, msgs...)
	if p.obs != nil {
		p.obs.ObservePublish(topic, len(msgs), err)
	}
	if err != nil {
		p.log.Error("kafka write failed", zap.String("topic", topic), zap.Int("messages", len(msgs)), zap.Error(err))
		return fmt.Errorf("sink: write %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) headers(ct schema.CardType, r schema.ValidationResult) []kafka.Header {
	return []kafka.Header{
		{Key: HeaderRunID, Value: []byte(p.runID)},
		{Key: HeaderCardType, Value: []byte(ct)},
		{Key: HeaderViolationCount, Value: []byte(strconv.Itoa(len(r.Errors)))},
		{Key: HeaderCriticalCount, Value: []byte(strconv.Itoa(r.Summary.Critical))},
	}
}

// Close closes both writers.
func (p *Publisher) Close() error {
	return errors.Join(p.main.Close(), p.dlq.Close())
}
