package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"inventory-ledger/internal/core"
)

// CursorName is the feed_cursors row owned by the Kafka relay.
const CursorName = "kafka"

// Message is one ledger entry ready for publication.
type Message struct {
	Key   []byte
	Value []byte
}

// Publisher delivers a batch of messages or fails as a whole.
type Publisher interface {
	Publish(ctx context.Context, msgs []Message) error
	Close() error
}

// Observer receives relay progress. metrics.Metrics satisfies it.
type Observer interface {
	ObservePublished(n int, cursor int64)
	ObserveFeedFailure()
}

// ── Kafka publisher ──────────────────────────────────────────────────────────

type kafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher writes to topic, hashing keys so every entry of a variant
// lands on the same partition in seq order.
func NewKafkaPublisher(brokers []string, topic string) Publisher {
	return &kafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

func (p *kafkaPublisher) Publish(ctx context.Context, msgs []Message) error {
	out := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		out[i] = kafka.Message{Key: m.Key, Value: m.Value}
	}
	if err := p.writer.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("failed to write to kafka: %w", err)
	}
	return nil
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}

// ── Relay ────────────────────────────────────────────────────────────────────

// Config controls polling. Zero values take defaults.
type Config struct {
	Interval time.Duration
	Batch    int
	Settle   time.Duration
}

// Relay copies committed ledger rows to a Publisher, at least once, in seq
// order. The cursor advances only after a batch is published.
//
// Seqs are handed out when a row is appended, not when its transaction
// commits, and rolled back transactions leave holes, so a missing seq cannot
// be told apart from one still in flight. The relay waits Settle after a
// row's RecordedAt before publishing past it. A transaction that commits more
// than Settle after appending its first row can land behind the cursor and
// is then never published; keep Settle well above the longest posting
// transaction. The ledger table stays authoritative and Auditor replays it.
type Relay struct {
	store     core.LedgerStore
	publisher Publisher
	observer  Observer
	log       *slog.Logger
	cfg       Config
	now       func() time.Time
}

func NewRelay(store core.LedgerStore, publisher Publisher, observer Observer, log *slog.Logger, cfg Config) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 500
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		observer:  observer,
		log:       log.With("component", "feed"),
		cfg:       cfg,
		now:       time.Now,
	}
}

// Run polls until ctx is cancelled. Iteration errors are logged and retried
// on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.log.Info("feed relay started", "interval", r.cfg.Interval, "batch", r.cfg.Batch)
	for {
		for {
			n, err := r.Step(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.log.Error("feed relay step failed", "error", err)
				if r.observer != nil {
					r.observer.ObserveFeedFailure()
				}
				break
			}
			// a full batch means more may be waiting
			if n < r.cfg.Batch {
				break
			}
		}
		select {
		case <-ctx.Done():
			r.log.Info("feed relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Step publishes one batch and returns how many rows it published.
func (r *Relay) Step(ctx context.Context) (int, error) {
	cursor, err := r.store.FeedCursor(ctx, CursorName)
	if err != nil {
		return 0, fmt.Errorf("failed to read feed cursor: %w", err)
	}
	txns, err := r.store.ListTransactions(ctx, core.TransactionFilter{AfterSeq: cursor, Limit: r.cfg.Batch})
	if err != nil {
		return 0, fmt.Errorf("failed to list ledger: %w", err)
	}

	// Rows younger than the settle window may still have lower-seq siblings
	// in flight; stop at the first one.
	cutoff := r.now().Add(-r.cfg.Settle)
	ready := txns[:0:0]
	for _, t := range txns {
		if t.RecordedAt.After(cutoff) {
			break
		}
		ready = append(ready, t)
	}
	if len(ready) == 0 {
		return 0, nil
	}

	msgs := make([]Message, len(ready))
	for i, t := range ready {
		msgs[i], err = Encode(t)
		if err != nil {
			return 0, err
		}
	}
	if err := r.publisher.Publish(ctx, msgs); err != nil {
		return 0, err
	}

	last := ready[len(ready)-1].Seq
	if err := r.store.SaveFeedCursor(ctx, CursorName, last); err != nil {
		return 0, fmt.Errorf("failed to save feed cursor: %w", err)
	}
	if r.observer != nil {
		r.observer.ObservePublished(len(ready), last)
	}
	r.log.Debug("feed batch published", "count", len(ready), "cursor", last)
	return len(ready), nil
}

// Encode renders a ledger row as a feed message keyed by variant id.
func Encode(t core.InventoryTransaction) (Message, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode transaction %d: %w", t.Seq, err)
	}
	return Message{Key: []byte(t.VariantID.String()), Value: body}, nil
}
