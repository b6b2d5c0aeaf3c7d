// Package invalidation consumes collection-update events from Kafka and
// flushes the page cache for the affected collection.
package invalidation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/cascadegeo/featureserv/internal/config"
)

// Event is one collection-update notification.
type Event struct {
	Version    int       `json:"version"`
	Op         string    `json:"op"`
	Collection string    `json:"collection"`
	TS         time.Time `json:"ts"`
	FeatureID  any       `json:"feature_id,omitempty"`
	Source     string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case "insert", "update", "delete":
	default:
		return fmt.Errorf("op must be insert|update|delete")
	}
	if strings.TrimSpace(e.Collection) == "" {
		return fmt.Errorf("collection is required")
	}
	return nil
}

// Flusher is the cache-side contract the consumer needs.
type Flusher interface {
	Invalidate(ctx context.Context, collection string) error
}

type Consumer struct {
	cfg   config.Invalidation
	cache Flusher
	log   zerolog.Logger
}

func New(cfg config.Invalidation, cache Flusher, log zerolog.Logger) *Consumer {
	return &Consumer{cfg: cfg, cache: cache, log: log}
}

// Start joins the consumer group and processes events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil {
		return fmt.Errorf("invalidation: nil cache")
	}

	scfg := sarama.NewConfig()
	scfg.Version = sarama.V2_1_0_0
	scfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	scfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, scfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	c.log.Info().
		Strs("brokers", c.cfg.Brokers).
		Str("topic", c.cfg.Topic).
		Str("group", c.cfg.GroupID).
		Msg("invalidation consumer starting")

	handler := &groupHandler{process: c.processOne}
	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.log.Error().Err(err).Msg("invalidation consumer error")
				time.Sleep(2 * time.Second)
			}
		}
	}
}

func (c *Consumer) processOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		// malformed events are logged and skipped, not retried
		c.log.Warn().Err(err).Int64("offset", msg.Offset).Msg("bad invalidation event")
		return nil
	}
	if err := ev.Validate(); err != nil {
		c.log.Warn().Err(err).Int64("offset", msg.Offset).Msg("invalid invalidation event")
		return nil
	}
	if err := c.cache.Invalidate(ctx, ev.Collection); err != nil {
		return fmt.Errorf("flush %s: %w", ev.Collection, err)
	}
	c.log.Debug().Str("collection", ev.Collection).Str("op", ev.Op).Msg("page cache flushed")
	return nil
}

type messageProcessor func(context.Context, *sarama.ConsumerMessage) error

type groupHandler struct {
	process messageProcessor
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("claim context done: %w", ctx.Err())
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.process(ctx, msg); err != nil {
				return fmt.Errorf("process failed (topic=%s, part=%d, off=%d): %w",
					msg.Topic, msg.Partition, msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
		}
	}
}
