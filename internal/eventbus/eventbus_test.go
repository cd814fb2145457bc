package eventbus

import (
	"sync"
	"testing"

	"github.com/cenkalti/steward/internal/logger"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrder(t *testing.T) {
	b := New[int](logger.New("test"))
	var got1, got2 []int
	b.Subscribe(func(i int) { got1 = append(got1, i) })
	b.Subscribe(func(i int) { got2 = append(got2, i) })
	for i := 0; i < 5; i++ {
		b.Publish(i)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got1)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got2)
}

func TestPanicIsolated(t *testing.T) {
	b := New[string](logger.New("test"))
	b.Panics = metrics.NewCounter()
	var got []string
	b.Subscribe(func(s string) { panic("boom") })
	b.Subscribe(func(s string) { got = append(got, s) })
	b.Publish("a")
	b.Publish("b")
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, int64(2), b.Panics.Count())
}

func TestReentrantPublish(t *testing.T) {
	b := New[int](logger.New("test"))
	var got []int
	b.Subscribe(func(i int) {
		got = append(got, i)
		if i == 1 {
			// Delivered after the current event, not nested inside it.
			b.Publish(2)
			got = append(got, -1)
		}
	})
	b.Publish(1)
	assert.Equal(t, []int{1, -1, 2}, got)
}

func TestUnsubscribe(t *testing.T) {
	b := New[int](logger.New("test"))
	var count int
	cancel := b.Subscribe(func(int) { count++ })
	b.Publish(1)
	cancel()
	cancel()
	b.Publish(2)
	assert.Equal(t, 1, count)
	assert.Zero(t, b.Len())
}

func TestEnqueueThenFlush(t *testing.T) {
	b := New[int](logger.New("test"))
	var got []int
	b.Subscribe(func(i int) { got = append(got, i) })
	b.Enqueue(1)
	b.Enqueue(2)
	assert.Empty(t, got)
	b.Flush()
	assert.Equal(t, []int{1, 2}, got)
}

func TestConcurrentFlushKeepsOrder(t *testing.T) {
	b := New[int](logger.New("test"))
	var m sync.Mutex
	var got []int
	b.Subscribe(func(i int) {
		m.Lock()
		got = append(got, i)
		m.Unlock()
	})
	var enqueueM sync.Mutex
	next := 0
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				enqueueM.Lock()
				b.Enqueue(next)
				next++
				enqueueM.Unlock()
				b.Flush()
			}
		}()
	}
	wg.Wait()
	b.Flush()
	require.Len(t, got, 800)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}
