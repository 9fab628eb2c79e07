package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/lookval/pkg/core"
)

func TestWorkQueueFIFO(t *testing.T) {
	q := newWorkQueue[int]()
	for i := 0; i < 5; i++ {
		require.True(t, q.Push(i))
	}
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		got, err := q.Pop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestWorkQueuePopBlocksUntilPush(t *testing.T) {
	q := newWorkQueue[string]()
	got := make(chan string, 1)
	go func() {
		v, err := q.Pop(context.Background())
		if err == nil {
			got <- v
		}
	}()

	select {
	case <-got:
		t.Fatal("pop returned before push")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push("task-1")
	select {
	case v := <-got:
		assert.Equal(t, "task-1", v)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up")
	}
}

func TestWorkQueueClose(t *testing.T) {
	q := newWorkQueue[int]()
	q.Push(1)
	q.Close()

	assert.False(t, q.Push(2))
	v, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, errQueueClosed)

	// Closing twice is harmless.
	q.Close()
}

func TestWorkQueueCloseWakesBlockedPop(t *testing.T) {
	q := newWorkQueue[int]()
	errc := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, errQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("close did not wake pop")
	}
}

func TestWorkQueuePopCancelled(t *testing.T) {
	q := newWorkQueue[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkQueueDrain(t *testing.T) {
	q := newWorkQueue[int]()
	q.Push(1)
	q.Push(2)
	assert.Equal(t, []int{1, 2}, q.Drain())
	assert.Equal(t, 0, q.Len())
}

func TestTaskRegistry(t *testing.T) {
	r := newTaskRegistry()
	e := numberedExplore("sales", "orders", 2)
	queries, err := BuildQueries([]*core.Explore{e}, 1)
	require.NoError(t, err)

	require.NoError(t, r.insert("t2", queries[1]))
	require.NoError(t, r.insert("t1", queries[0]))
	assert.Error(t, r.insert("t1", queries[0]))
	assert.Equal(t, []string{"t1", "t2"}, r.ids())

	q, ok := r.remove("t1")
	require.True(t, ok)
	assert.Same(t, queries[0], q)
	_, ok = r.remove("t1")
	assert.False(t, ok)

	assert.Equal(t, 1, r.len())
	assert.Equal(t, 2, r.inserted)
	assert.Equal(t, 1, r.removed)
}
