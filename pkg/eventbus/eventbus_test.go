package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megayours/megaforwarder/pkg/config"
)

func TestFactoryReturnsSyncBusWithoutBrokers(t *testing.T) {
	var received []Event
	handler := func(_ context.Context, e Event) error {
		received = append(received, e)
		return nil
	}

	bus, err := Factory(config.KafkaConfig{}, handler, nil, nil)
	require.NoError(t, err)
	defer bus.Close()

	_, isSync := bus.(*syncBus)
	assert.True(t, isSync)

	event := NewEvent("mint-1", "account-1", []byte("payload"), time.Now())
	require.NoError(t, bus.Publish(context.Background(), event))
	require.Len(t, received, 1)
	assert.Equal(t, "mint-1", received[0].Mint)
}

func TestSyncBusPropagatesHandlerError(t *testing.T) {
	boom := assert.AnError
	bus := newSyncBus(func(context.Context, Event) error { return boom })
	err := bus.Publish(context.Background(), NewEvent("m", "a", nil, time.Now()))
	assert.ErrorIs(t, err, boom)
}

func TestSyncBusRequiresHandler(t *testing.T) {
	bus := newSyncBus(nil)
	err := bus.Publish(context.Background(), NewEvent("m", "a", nil, time.Now()))
	assert.Error(t, err)
}

func TestEventRoundTripsThroughCBOR(t *testing.T) {
	original := NewEvent("mint-2", "account-2", []byte("hello"), time.Now().Truncate(time.Second))
	data, err := encodeEvent(original)
	require.NoError(t, err)

	decoded, err := decodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, original.ID, decoded.ID)
	assert.Equal(t, original.Mint, decoded.Mint)
	assert.Equal(t, original.Account, decoded.Account)
	assert.Equal(t, original.Payload, decoded.Payload)
	assert.True(t, original.Timestamp.Equal(decoded.Timestamp))
}

func TestBuildSaramaConfigEnablesScramSha256(t *testing.T) {
	sc := buildSaramaConfig(config.KafkaConfig{
		TLS: true,
		SASL: config.SASLConfig{
			Mechanism: "SCRAM-SHA-256",
			Username:  "user",
			Password:  "pass",
		},
	})
	assert.True(t, sc.Net.TLS.Enable)
	assert.True(t, sc.Net.SASL.Enable)
	require.NotNil(t, sc.Net.SASL.SCRAMClientGeneratorFunc)
	client := sc.Net.SASL.SCRAMClientGeneratorFunc()
	_, ok := client.(*scramClient)
	assert.True(t, ok)
}
