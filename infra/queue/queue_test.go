package queue

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	producer int
	n        int
	seq      uint64
}

func (i *item) SetArrivalSeq(s uint64) { i.seq = s }

func implementations(capacity uint64, mode Mode) map[string]Queue[*item] {
	return map[string]Queue[*item]{
		"ring": NewRing[*item](capacity, mode),
		"chan": NewChan[*item](int(capacity), mode),
	}
}

func TestFIFOSingleProducer(t *testing.T) {
	for name, q := range implementations(16, RejectNew) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 10; i++ {
				require.NoError(t, q.Enqueue(context.Background(), &item{n: i}))
			}
			var got []*item
			for len(got) < 10 {
				batch, ok := q.DequeueBatch(4)
				require.True(t, ok)
				got = append(got, batch...)
			}
			for i, it := range got {
				assert.Equal(t, i, it.n)
				assert.Equal(t, uint64(i+1), it.seq)
			}
		})
	}
}

func TestArrivalSeqUniqueUnderContention(t *testing.T) {
	const producers = 8
	const perProducer = 500

	for name, q := range implementations(1024, BlockProducer) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for p := 0; p < producers; p++ {
				wg.Add(1)
				go func(p int) {
					defer wg.Done()
					for n := 0; n < perProducer; n++ {
						_ = q.Enqueue(context.Background(), &item{producer: p, n: n})
					}
				}(p)
			}

			var got []*item
			for len(got) < producers*perProducer {
				batch, ok := q.DequeueBatch(64)
				require.True(t, ok)
				got = append(got, batch...)
			}
			wg.Wait()

			// Every arrival sequence is unique and the set is exactly 1..N.
			seqs := make([]uint64, len(got))
			for i, it := range got {
				seqs[i] = it.seq
			}
			sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
			for i, s := range seqs {
				require.Equal(t, uint64(i+1), s)
			}

			// Per-producer submission order is preserved in arrival order.
			lastN := make(map[int]int)
			byArrival := make([]*item, len(got))
			copy(byArrival, got)
			sort.Slice(byArrival, func(i, j int) bool { return byArrival[i].seq < byArrival[j].seq })
			for _, it := range byArrival {
				if prev, ok := lastN[it.producer]; ok {
					require.Greater(t, it.n, prev)
				}
				lastN[it.producer] = it.n
			}
		})
	}
}

func TestDequeueMatchesArrivalOrder(t *testing.T) {
	for name, q := range implementations(64, RejectNew) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 20; i++ {
				require.NoError(t, q.Enqueue(context.Background(), &item{n: i}))
			}
			var prev uint64
			for consumed := 0; consumed < 20; {
				batch, ok := q.DequeueBatch(7)
				require.True(t, ok)
				for _, it := range batch {
					require.Equal(t, prev+1, it.seq)
					prev = it.seq
				}
				consumed += len(batch)
			}
		})
	}
}

func TestRejectNewWhenFull(t *testing.T) {
	for name, q := range implementations(4, RejectNew) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 4; i++ {
				require.NoError(t, q.Enqueue(context.Background(), &item{n: i}))
			}
			err := q.Enqueue(context.Background(), &item{n: 99})
			assert.ErrorIs(t, err, ErrFull)

			// Draining frees capacity again.
			batch, ok := q.DequeueBatch(4)
			require.True(t, ok)
			require.Len(t, batch, 4)
			assert.NoError(t, q.Enqueue(context.Background(), &item{n: 5}))
		})
	}
}

func TestBlockProducerUnblocksOnDequeue(t *testing.T) {
	for name, q := range implementations(2, BlockProducer) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, q.Enqueue(context.Background(), &item{n: 0}))
			require.NoError(t, q.Enqueue(context.Background(), &item{n: 1}))

			done := make(chan error, 1)
			go func() {
				done <- q.Enqueue(context.Background(), &item{n: 2})
			}()

			select {
			case <-done:
				t.Fatal("enqueue returned while queue was full")
			case <-time.After(20 * time.Millisecond):
			}

			_, ok := q.DequeueBatch(1)
			require.True(t, ok)
			require.NoError(t, <-done)
		})
	}
}

func TestBlockProducerRespectsContext(t *testing.T) {
	q := NewRing[*item](2, BlockProducer)
	require.NoError(t, q.Enqueue(context.Background(), &item{}))
	require.NoError(t, q.Enqueue(context.Background(), &item{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, &item{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseDrainsThenStops(t *testing.T) {
	for name, q := range implementations(16, RejectNew) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				require.NoError(t, q.Enqueue(context.Background(), &item{n: i}))
			}
			q.Close()

			assert.ErrorIs(t, q.Enqueue(context.Background(), &item{n: 9}), ErrClosed)

			var got int
			for {
				batch, ok := q.DequeueBatch(8)
				if !ok {
					break
				}
				got += len(batch)
			}
			assert.Equal(t, 3, got)
		})
	}
}
