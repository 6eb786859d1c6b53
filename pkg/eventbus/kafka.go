package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/megayours/megaforwarder/pkg/config"
)

const defaultTopic = "oraclenode.webhook-events.v1"

// kafkaBus publishes Events via a sync producer and drains them with a
// background consumer group, dispatching each to handler. Grounded on
// backend/pkg/ingest/kafka/{producer,consumer}.go's NewSyncProducer /
// NewConsumerGroup pairing and consumeLoop's retry-after-backoff shape.
type kafkaBus struct {
	producer sarama.SyncProducer
	consumer sarama.ConsumerGroup
	topic    string
	handler  Handler
	logger   *zap.Logger
	recorder Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func buildSaramaConfig(cfg config.KafkaConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.Idempotent = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Net.MaxOpenRequests = 1
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest

	if cfg.TLS {
		sc.Net.TLS.Enable = true
	}
	if cfg.SASL.Mechanism != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User = cfg.SASL.Username
		sc.Net.SASL.Password = cfg.SASL.Password
		switch cfg.SASL.Mechanism {
		case "SCRAM-SHA-256":
			sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: sha256HashGenerator}
			}
		case "SCRAM-SHA-512":
			sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: sha512HashGenerator}
			}
		default:
			sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}
	return sc
}

func newKafkaBus(cfg config.KafkaConfig, handler Handler, logger *zap.Logger, recorder Metrics) (*kafkaBus, error) {
	if handler == nil {
		return nil, errNoHandler
	}
	topic := cfg.Topic
	if topic == "" {
		topic = defaultTopic
	}
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "oraclenode-webhook-dispatch"
	}

	saramaCfg := buildSaramaConfig(cfg)

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("eventbus: new producer: %w", err)
	}

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, saramaCfg)
	if err != nil {
		producer.Close()
		return nil, fmt.Errorf("eventbus: new consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bus := &kafkaBus{
		producer: producer,
		consumer: consumerGroup,
		topic:    topic,
		handler:  handler,
		logger:   logger,
		recorder: recorder,
		ctx:      ctx,
		cancel:   cancel,
	}

	bus.wg.Add(1)
	go bus.consumeLoop()

	return bus, nil
}

func (b *kafkaBus) Publish(_ context.Context, event Event) error {
	data, err := encodeEvent(event)
	if err != nil {
		return fmt.Errorf("eventbus: encode: %w", err)
	}
	_, _, err = b.producer.SendMessage(&sarama.ProducerMessage{
		Topic: b.topic,
		Key:   sarama.StringEncoder(event.ID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("eventbus: publish: %w", err)
	}
	return nil
}

func (b *kafkaBus) consumeLoop() {
	defer b.wg.Done()
	handler := &groupHandler{bus: b}
	for {
		if err := b.consumer.Consume(b.ctx, []string{b.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			if b.logger != nil {
				b.logger.Warn("eventbus consumer error, retrying after backoff", zap.Error(err))
			}
			select {
			case <-b.ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		if b.ctx.Err() != nil {
			return
		}
	}
}

func (b *kafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()

	var errs []error
	if err := b.consumer.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.producer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type groupHandler struct {
	bus *kafkaBus
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if h.bus.recorder != nil {
				lag := claim.HighWaterMarkOffset() - message.Offset - 1
				if lag < 0 {
					lag = 0
				}
				h.bus.recorder.SetKafkaConsumerLag(claim.Topic(), claim.Partition(), lag)
			}
			event, err := decodeEvent(message.Value)
			if err != nil {
				if h.bus.logger != nil {
					h.bus.logger.Warn("eventbus dropping undecodable message", zap.Error(err), zap.Int64("offset", message.Offset))
				}
				session.MarkMessage(message, "")
				continue
			}
			if err := h.bus.handler(ctx, event); err != nil {
				if h.bus.logger != nil {
					h.bus.logger.Warn("eventbus handler failed, leaving offset uncommitted",
						zap.Error(err), zap.String("eventId", event.ID))
				}
				continue
			}
			session.MarkMessage(message, "")
		}
	}
}
