// Package kafkaconsumer drops stale asset-cache entries in response to
// geodata-change events published on Kafka.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/geoforge/chunkplane/internal/cache/assetcache"
	"github.com/geoforge/chunkplane/internal/invalidation"
	"github.com/geoforge/chunkplane/internal/model"
	"github.com/geoforge/chunkplane/internal/observability"
)

// AssetStore is the cache surface the consumer needs.
type AssetStore interface {
	List() ([]assetcache.Metadata, error)
	Clear(bbox model.BBox) error
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	store  AssetStore
}

func New(cfg Config, logger *slog.Logger, store AssetStore) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg, logger: logger, store: store}
}

// Start consumes until ctx is cancelled. Transient group errors back off
// and rejoin; only setup failures return.
func (c *Consumer) Start(ctx context.Context) error {
	if c.store == nil {
		return errors.New("kafkaconsumer: missing asset store")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne handles a single event: decode, validate, drop every cached
// asset whose bbox intersects the changed region. Malformed or invalid
// messages are counted and skipped, never retried: a bad event would poison
// the partition otherwise.
func (c *Consumer) ProcessOne(_ context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		observability.ObserveInvalidation("decode", 0, err)
		c.logger.Warn("skipping malformed invalidation event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		observability.ObserveInvalidation(ev.Op, 0, err)
		c.logger.Warn("skipping invalid invalidation event",
			"topic", msg.Topic, "offset", msg.Offset, "err", err)
		return nil
	}

	dropped, err := c.Invalidate(ev.Region)
	observability.ObserveInvalidation(ev.Op, dropped, err)
	if err != nil {
		return err
	}

	c.logger.Debug("invalidated cached assets",
		"op", ev.Op, "region", ev.Region.String(), "dropped", dropped)
	return nil
}

// Invalidate clears every cached entry intersecting region and returns how
// many were dropped.
func (c *Consumer) Invalidate(region model.BBox) (int, error) {
	entries, err := c.store.List()
	if err != nil {
		return 0, fmt.Errorf("list cache: %w", err)
	}

	dropped := 0
	for _, meta := range entries {
		if !meta.BBox.Intersects(region) {
			continue
		}
		if err := c.store.Clear(meta.BBox); err != nil {
			return dropped, fmt.Errorf("clear %s: %w", meta.BBox, err)
		}
		dropped++
	}
	return dropped, nil
}
