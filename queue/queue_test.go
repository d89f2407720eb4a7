package queue

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestTakeReturnsBufferedInOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		require.True(t, q.Push(i))
	}
	for i := 0; i < 5; i++ {
		v, ok, err := q.Take(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

func TestTakeBlocksUntilPush(t *testing.T) {
	q := New[string]()
	got := make(chan string, 1)
	go func() {
		v, ok, err := q.Take(context.Background())
		if err == nil && ok {
			got <- v
		}
	}()

	// Give the taker a moment to park before handing off.
	time.Sleep(10 * time.Millisecond)
	require.True(t, q.Push("hello"))

	select {
	case v := <-got:
		require.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("taker was not woken by push")
	}
}

func TestCloseWakesWaitingTakers(t *testing.T) {
	q := New[int]()
	done := make(chan bool, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, ok, err := q.Take(context.Background())
			done <- !ok && err == nil
		}()
	}

	time.Sleep(10 * time.Millisecond)
	q.Close()

	for i := 0; i < 3; i++ {
		select {
		case end := <-done:
			require.True(t, end, "taker must observe end, not a value")
		case <-time.After(time.Second):
			t.Fatal("taker was not woken by close")
		}
	}
}

func TestCloseDrainsBufferFirst(t *testing.T) {
	q := New[int]()
	require.True(t, q.Push(1))
	require.True(t, q.Push(2))
	q.Close()

	// Pushes after close are dropped.
	require.False(t, q.Push(3))

	v, ok, err := q.Take(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, v)

	v, ok, err = q.Take(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, v)

	_, ok, err = q.Take(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCloseIsIdempotent(t *testing.T) {
	q := New[int]()
	q.Close()
	q.Close()
	require.True(t, q.Closed())
}

func TestTakeHonorsContext(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok, err := q.Take(ctx)
	require.False(t, ok)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The queue stays usable after a canceled take.
	require.True(t, q.Push(7))
	v, ok, err := q.Take(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 7, v)
}

func TestCloseEndsTakesRegardlessOfPriorState(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("after close and drain, take returns end without blocking", prop.ForAll(
		func(values []int, drained uint8) bool {
			q := New[int]()
			for _, v := range values {
				if !q.Push(v) {
					return false
				}
			}
			// Drain a random portion before closing.
			n := int(drained) % (len(values) + 1)
			for i := 0; i < n; i++ {
				if _, ok, _ := q.Take(context.Background()); !ok {
					return false
				}
			}
			q.Close()

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			remaining := len(values) - n
			for i := 0; i < remaining; i++ {
				v, ok, err := q.Take(ctx)
				if err != nil || !ok || v != values[n+i] {
					return false
				}
			}
			_, ok, err := q.Take(ctx)
			return err == nil && !ok
		},
		gen.SliceOf(gen.Int()),
		gen.UInt8(),
	))

	properties.Property("pushes after close are never delivered", prop.ForAll(
		func(before, after []int) bool {
			q := New[int]()
			for _, v := range before {
				q.Push(v)
			}
			q.Close()
			for _, v := range after {
				if q.Push(v) {
					return false
				}
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			for i := 0; ; i++ {
				v, ok, err := q.Take(ctx)
				if err != nil {
					return false
				}
				if !ok {
					return i == len(before)
				}
				if v != before[i] {
					return false
				}
			}
		},
		gen.SliceOf(gen.Int()),
		gen.SliceOf(gen.Int()),
	))

	properties.TestingRun(t)
}
