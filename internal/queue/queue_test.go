package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dwerrors "github.com/Aman-CERP/dropwatch/internal/errors"
)

func entry(key string) Entry {
	return Entry{Path: "/p/" + key, Key: key}
}

func TestQueue_FIFO(t *testing.T) {
	// Given: an unbounded queue with three entries
	q := New()
	ctx := context.Background()
	for _, k := range []string{"txt/a", "txt/b", "txt/c"} {
		require.NoError(t, q.Enqueue(ctx, entry(k)))
	}

	// When: draining it
	var got []string
	for i := 0; i < 3; i++ {
		e, err := q.Dequeue(ctx)
		require.NoError(t, err)
		got = append(got, e.Key)
	}

	// Then: order is preserved
	assert.Equal(t, []string{"txt/a", "txt/b", "txt/c"}, got)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_Enqueue_SetsTimestamp(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(context.Background(), entry("k")))

	e, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.False(t, e.EnqueuedAt.IsZero())
}

func TestQueue_Unbounded_GrowsAndCompacts(t *testing.T) {
	// Given: more entries than the compaction threshold
	q := New()
	ctx := context.Background()
	const n = 1000
	for i := 0; i < n; i++ {
		require.NoError(t, q.Enqueue(ctx, entry(fmt.Sprint(i))))
	}

	// When/Then: every entry comes back in order
	for i := 0; i < n; i++ {
		e, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprint(i), e.Key)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_Dequeue_BlocksUntilEnqueue(t *testing.T) {
	// Given: an empty queue and a waiting consumer
	q := New()
	got := make(chan Entry, 1)
	go func() {
		e, err := q.Dequeue(context.Background())
		if err == nil {
			got <- e
		}
	}()

	select {
	case <-got:
		t.Fatal("dequeue returned before any entry was queued")
	case <-time.After(20 * time.Millisecond):
	}

	// When: a producer enqueues
	require.NoError(t, q.Enqueue(context.Background(), entry("late")))

	// Then: the consumer wakes
	select {
	case e := <-got:
		assert.Equal(t, "late", e.Key)
	case <-time.After(time.Second):
		t.Fatal("consumer did not wake")
	}
}

func TestQueue_Dequeue_ContextCancel(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_Interrupt_WakesBlockedConsumer(t *testing.T) {
	// Given: a consumer blocked on an empty queue
	q := New()
	errc := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)

	// When: interrupting
	q.Interrupt()

	// Then: the consumer gets ErrInterrupted
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrInterrupted)
	case <-time.After(time.Second):
		t.Fatal("interrupt did not wake consumer")
	}
}

func TestQueue_Interrupt_KeepsEntries(t *testing.T) {
	// Given: a queued entry and a pending interrupt
	q := New()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, entry("kept")))
	q.Interrupt()

	// When: dequeuing twice
	_, err1 := q.Dequeue(ctx)
	e, err2 := q.Dequeue(ctx)

	// Then: the interrupt is reported once and the entry survives
	assert.ErrorIs(t, err1, ErrInterrupted)
	require.NoError(t, err2)
	assert.Equal(t, "kept", e.Key)
}

func TestQueue_Reject_WhenFull(t *testing.T) {
	// Given: a queue of capacity 2 with the reject policy
	q := New(WithCapacity(2, PolicyReject))
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, entry("a")))
	require.NoError(t, q.Enqueue(ctx, entry("b")))

	// When: a third entry arrives
	err := q.Enqueue(ctx, entry("c"))

	// Then: it is refused with ErrQueueFull
	require.Error(t, err)
	assert.True(t, errors.Is(err, dwerrors.ErrQueueFull))
	assert.Equal(t, 2, q.Len())
}

func TestQueue_DropOldest_EvictsHead(t *testing.T) {
	// Given: a full drop_oldest queue with an evict hook
	var evicted []string
	q := New(WithCapacity(2, PolicyDropOldest), WithEvictHook(func(e Entry) {
		evicted = append(evicted, e.Key)
	}))
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, entry("a")))
	require.NoError(t, q.Enqueue(ctx, entry("b")))

	// When: a third entry arrives
	require.NoError(t, q.Enqueue(ctx, entry("c")))

	// Then: the head was evicted and FIFO order holds for the rest
	assert.Equal(t, []string{"a"}, evicted)
	e1, _ := q.Dequeue(ctx)
	e2, _ := q.Dequeue(ctx)
	assert.Equal(t, "b", e1.Key)
	assert.Equal(t, "c", e2.Key)
}

func TestQueue_Block_WaitsForSpace(t *testing.T) {
	// Given: a full blocking queue
	q := New(WithCapacity(1, PolicyBlock))
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, entry("a")))

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(ctx, entry("b"))
	}()

	select {
	case <-done:
		t.Fatal("enqueue should block while full")
	case <-time.After(20 * time.Millisecond):
	}

	// When: the consumer takes an entry
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)

	// Then: the producer proceeds
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("producer not released")
	}
	assert.Equal(t, 1, q.Len())
}

func TestQueue_Block_ContextCancel(t *testing.T) {
	q := New(WithCapacity(1, PolicyBlock))
	require.NoError(t, q.Enqueue(context.Background(), entry("a")))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := q.Enqueue(ctx, entry("b"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_Close_DeliversQueuedThenErrClosed(t *testing.T) {
	// Given: a queue holding two entries
	q := New()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, entry("txt/a")))
	require.NoError(t, q.Enqueue(ctx, entry("txt/b")))

	// When: it is closed
	q.Close()
	q.Close()

	// Then: the consumer still receives both, then ErrClosed
	e, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "txt/a", e.Key)
	e, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "txt/b", e.Key)
	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	// And: producers are refused
	assert.ErrorIs(t, q.Enqueue(ctx, entry("txt/c")), ErrClosed)
}

func TestQueue_Close_WakesBlockedConsumer(t *testing.T) {
	// Given: a consumer blocked on an empty queue
	q := New()
	errc := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)

	// When: closing
	q.Close()

	// Then: the consumer gets ErrClosed
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("close did not wake consumer")
	}
}

func TestQueue_Close_ReleasesBlockedProducer(t *testing.T) {
	// Given: a producer waiting on a full blocking queue
	q := New(WithCapacity(1, PolicyBlock))
	require.NoError(t, q.Enqueue(context.Background(), entry("a")))
	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(context.Background(), entry("b"))
	}()
	time.Sleep(10 * time.Millisecond)

	// When: closing
	q.Close()

	// Then: the producer fails with ErrClosed and the queued entry survives
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("producer not released")
	}
	assert.Equal(t, 1, q.Len())
}

func TestQueue_ManyProducersSingleConsumer(t *testing.T) {
	// Given: several producers
	q := New()
	ctx := context.Background()
	const producers, perProducer = 8, 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.Enqueue(ctx, entry(fmt.Sprintf("%d/%d", p, i)))
			}
		}(p)
	}

	// When: one consumer reads everything
	seen := make(map[string]bool)
	lastIdx := make(map[int]int)
	for i := 0; i < producers*perProducer; i++ {
		e, err := q.Dequeue(ctx)
		require.NoError(t, err)
		var p, idx int
		_, err = fmt.Sscanf(e.Key, "%d/%d", &p, &idx)
		require.NoError(t, err)

		// Then: each producer's entries arrive in its own order
		if prev, ok := lastIdx[p]; ok {
			require.Greater(t, idx, prev)
		}
		lastIdx[p] = idx
		seen[e.Key] = true
	}
	wg.Wait()
	assert.Len(t, seen, producers*perProducer)
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"block", PolicyBlock, false},
		{"DROP_OLDEST", PolicyDropOldest, false},
		{" reject ", PolicyReject, false},
		{"", PolicyBlock, false},
		{"lifo", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
