package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFactoryReturnsNoopSinkWithoutDSN(t *testing.T) {
	sink, err := Factory("", zap.NewNop(), nil)
	require.NoError(t, err)
	_, isNoop := sink.(noopSink)
	assert.True(t, isNoop)

	sink.Record(context.Background(), TaskAuditRecord{TaskID: "t1"})
	require.NoError(t, sink.Close())
}

func TestPgSinkDropsRecordWhenQueueFull(t *testing.T) {
	sink := &pgSink{
		logger: zap.NewNop(),
		queue:  make(chan TaskAuditRecord, 1),
		done:   make(chan struct{}),
	}

	sink.Record(context.Background(), TaskAuditRecord{TaskID: "t1", StartedAt: time.Now()})
	sink.Record(context.Background(), TaskAuditRecord{TaskID: "t2", StartedAt: time.Now()})

	assert.Len(t, sink.queue, 1, "a full queue must drop rather than block")
	queued := <-sink.queue
	assert.Equal(t, "t1", queued.TaskID, "the first enqueued record must be the one retained")
}
