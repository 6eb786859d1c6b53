// Package eventbus decouples the /helius/webhook HTTP handler from Task
// execution: the webhook handler publishes an Event onto an internal Kafka
// topic and returns immediately; a dedicated consumer drains the topic and
// dispatches a Task per event (dedup of repeated deltas happens in the
// webhook handler before publish, not here). When no broker is configured,
// Factory returns a synchronous Bus that calls the handler inline, so the
// webhook path keeps working without Kafka.
//
// The Kafka-backed Bus uses a sync producer for publish and a
// consumer-group handler loop for consumption, with xdg-go/scram bridged
// through sarama.SCRAMClient for SASL auth. Events travel as a cbor
// envelope around an opaque dispatch payload rather than a generated
// schema, since this domain has no protobuf/IDL toolchain to reuse.
package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/megayours/megaforwarder/pkg/config"
)

// Event is the envelope published for one webhook-originated dispatch.
type Event struct {
	ID        string
	Mint      string
	Account   string
	Payload   []byte
	Timestamp time.Time
}

func encodeEvent(e Event) ([]byte, error) { return cbor.Marshal(e) }
func decodeEvent(b []byte) (Event, error) {
	var e Event
	err := cbor.Unmarshal(b, &e)
	return e, err
}

// Handler processes one drained Event. On an error the Kafka consumer logs
// it and does not mark that message, then moves on to the next one; the
// message is not redelivered, and marking a later offset in the same
// partition commits past it.
type Handler func(ctx context.Context, event Event) error

// Bus is the publish side the webhook handler depends on.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Metrics is the subset of metrics.Recorder the Kafka consumer reports
// lag against; declared here so this package never imports metrics
// directly.
type Metrics interface {
	SetKafkaConsumerLag(topic string, partition int32, lag int64)
}

// NewEvent stamps a fresh event ID and packages mint/account/payload into
// an Event. now is an explicit parameter rather than an internal
// time.Now() call so callers — and tests asserting on Event.Timestamp —
// can construct a fully deterministic Event; production callers simply
// pass time.Now().
func NewEvent(mint, account string, payload []byte, now time.Time) Event {
	return Event{ID: uuid.NewString(), Mint: mint, Account: account, Payload: payload, Timestamp: now}
}

// Factory returns a Kafka-backed Bus when cfg.Brokers is set, or a
// synchronous fallback Bus that invokes handler inline otherwise. The
// returned Bus always owns the consumer loop for the Kafka case; call
// Close to stop it.
func Factory(cfg config.KafkaConfig, handler Handler, logger *zap.Logger, recorder Metrics) (Bus, error) {
	if len(cfg.Brokers) == 0 {
		return newSyncBus(handler), nil
	}
	return newKafkaBus(cfg, handler, logger, recorder)
}

var errNoHandler = fmt.Errorf("eventbus: handler required")
