package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// RunHandler is called for every RunCompleted event. Returning an error leaves the
// message unmarked; the session moves on, and the message is only delivered again
// after the next rebalance or restart.
type RunHandler func(ctx context.Context, event RunCompleted) error

// Consumer follows the run event topic with a consumer group.
type Consumer struct {
	group   sarama.ConsumerGroup
	handler RunHandler
	topic   string
	groupID string
	logger  zerolog.Logger
	ready   chan bool
}

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Handler RunHandler
	Logger  zerolog.Logger
}

// NewConsumer creates a consumer group member for cfg.Topic.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Handler == nil {
		return nil, errors.New("run handler is required")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_6_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		group:   group,
		handler: cfg.Handler,
		topic:   cfg.Topic,
		groupID: cfg.GroupID,
		logger:  cfg.Logger,
		ready:   make(chan bool),
	}, nil
}

// Start consumes in the background until ctx is canceled. It returns once the
// first session is set up.
func (c *Consumer) Start(ctx context.Context) error {
	h := &groupHandler{handler: c.handler, logger: c.logger, ready: c.ready}

	go func() {
		for {
			if err := c.group.Consume(ctx, []string{c.topic}, h); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				c.logger.Error().Err(err).Msg("kafka consumer error")
			}
			if ctx.Err() != nil {
				return
			}
			h.ready = make(chan bool)
		}
	}()

	select {
	case <-c.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.logger.Info().Str("group", c.groupID).Str("topic", c.topic).Msg("kafka consumer started")

	go func() {
		for err := range c.group.Errors() {
			c.logger.Error().Err(err).Msg("kafka consumer group error")
		}
	}()
	return nil
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	handler RunHandler
	logger  zerolog.Logger
	ready   chan bool
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if h.handle(session.Context(), message.Value) {
				session.MarkMessage(message, "")
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// handle decodes and dispatches one message and reports whether to mark it.
// Undecodable messages are marked so they are not redelivered forever.
func (h *groupHandler) handle(ctx context.Context, value []byte) bool {
	var event RunCompleted
	if err := json.Unmarshal(value, &event); err != nil {
		h.logger.Warn().Err(err).Msg("skipping malformed run event")
		return true
	}
	if event.RunID == "" {
		h.logger.Warn().Msg("skipping run event without run_id")
		return true
	}
	if err := h.handler(ctx, event); err != nil {
		h.logger.Error().Err(err).Str("run_id", event.RunID).Msg("run event handler failed")
		return false
	}
	return true
}
