package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duo-workflow-bridge/bridge/pkg/queue"
)

func TestPushThenTakeIsFIFO(t *testing.T) {
	q := queue.New[int]()
	q.Push(1)
	q.Push(2)
	q.Push(3)

	for _, want := range []int{1, 2, 3} {
		r := q.Take(nil)
		require.True(t, r.Ok)
		assert.Equal(t, want, r.Value)
	}
}

func TestTakeBlocksUntilPush(t *testing.T) {
	q := queue.New[string]()
	results := make(chan queue.Result[string], 1)
	go func() {
		results <- q.Take(nil)
	}()

	select {
	case <-results:
		t.Fatal("Take returned before any Push")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push("hello")
	r := <-results
	require.True(t, r.Ok)
	assert.Equal(t, "hello", r.Value)
}

func TestCloseWakesAllWaiters(t *testing.T) {
	q := queue.New[int]()
	done := make(chan queue.Result[int], 2)
	for i := 0; i < 2; i++ {
		go func() { done <- q.Take(nil) }()
	}
	time.Sleep(10 * time.Millisecond)
	q.Close()

	for i := 0; i < 2; i++ {
		select {
		case r := <-done:
			assert.False(t, r.Ok)
		case <-time.After(time.Second):
			t.Fatal("waiter never woken by Close")
		}
	}
}

func TestPushAfterCloseIsDropped(t *testing.T) {
	q := queue.New[int]()
	q.Close()
	q.Push(42)
	r := q.Take(nil)
	assert.False(t, r.Ok)
}

func TestTakeAfterCloseWithBufferedValueStillDrains(t *testing.T) {
	q := queue.New[int]()
	q.Push(1)
	q.Close()

	r := q.Take(nil)
	require.True(t, r.Ok)
	assert.Equal(t, 1, r.Value)

	r = q.Take(nil)
	assert.False(t, r.Ok)
}

func TestTakeReturnsEndInBoundedTimeAfterClose(t *testing.T) {
	q := queue.New[int]()
	start := time.Now()
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Close()
	}()
	r := q.Take(nil)
	assert.False(t, r.Ok)
	assert.Less(t, time.Since(start), time.Second)
}
