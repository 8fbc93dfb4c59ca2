package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sale-engine/sale"
	"github.com/warp/sale-engine/sale/store"
	"go.uber.org/zap/zaptest"
)

type fakeWriter struct {
	mu    sync.Mutex
	msgs  []kafka.Message
	calls int
	err   error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func seedEvents(t *testing.T, m *store.Memory, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		s := &sale.Sale{
			ID:        sale.SaleID("sale-" + string(rune('a'+i))),
			CashierID: "cashier-1",
			Status:    sale.StatusCompleted,
		}
		ev, err := sale.NewEvent(sale.EventSaleCompleted, s, time.Now())
		require.NoError(t, err)
		require.NoError(t, m.AppendEvent(context.Background(), ev))
	}
}

func TestOutboxPoller_PublishesPendingInOrder(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	seedEvents(t, m, 3)

	w := &fakeWriter{}
	p := NewOutboxPoller(m, w, DefaultConfig(), zaptest.NewLogger(t))

	// WHEN: one poll runs
	n := p.PublishPending(ctx)

	// THEN: every event is delivered keyed by sale id and marked published
	assert.Equal(t, 3, n)
	require.Len(t, w.msgs, 3)
	assert.Equal(t, "sale-a", string(w.msgs[0].Key))
	assert.Equal(t, "sale-c", string(w.msgs[2].Key))
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)
	assert.Equal(t, string(sale.EventSaleCompleted), string(w.msgs[0].Headers[0].Value))

	pending, err := m.PendingEvents(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// A second poll has nothing to send
	assert.Equal(t, 0, p.PublishPending(ctx))
	assert.Len(t, w.msgs, 3)
}

func TestOutboxPoller_RespectsBatchSize(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	seedEvents(t, m, 5)

	w := &fakeWriter{}
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	p := NewOutboxPoller(m, w, cfg, zaptest.NewLogger(t))

	assert.Equal(t, 2, p.PublishPending(ctx))
	assert.Equal(t, 2, p.PublishPending(ctx))
	assert.Equal(t, 1, p.PublishPending(ctx))
	assert.Len(t, w.msgs, 5)
}

func TestOutboxPoller_FailedWriteKeepsEventsPending(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	seedEvents(t, m, 2)

	w := &fakeWriter{err: errors.New("broker unavailable")}
	p := NewOutboxPoller(m, w, DefaultConfig(), zaptest.NewLogger(t))

	assert.Equal(t, 0, p.PublishPending(ctx))
	// Delivery stops at the first failure
	assert.Equal(t, 1, w.calls)

	pending, err := m.PendingEvents(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	// Broker recovers
	w.err = nil
	assert.Equal(t, 2, p.PublishPending(ctx))
}

func TestOutboxPoller_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	seedEvents(t, m, 1)

	w := &fakeWriter{err: errors.New("broker unavailable")}
	cfg := DefaultConfig()
	cfg.MaxFailures = 2
	cfg.OpenTimeout = time.Hour
	p := NewOutboxPoller(m, w, cfg, zaptest.NewLogger(t))

	p.PublishPending(ctx)
	p.PublishPending(ctx)
	require.Equal(t, 2, w.calls)

	// WHEN: the circuit is open
	p.PublishPending(ctx)

	// THEN: the writer is not called
	assert.Equal(t, 2, w.calls)
	pending, err := m.PendingEvents(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestOutboxPoller_RunStopsOnCancel(t *testing.T) {
	m := store.NewMemory()
	seedEvents(t, m, 1)

	w := &fakeWriter{}
	cfg := DefaultConfig()
	cfg.Interval = 5 * time.Millisecond
	p := NewOutboxPoller(m, w, cfg, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		pending, _ := m.PendingEvents(context.Background(), 0)
		return len(pending) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
