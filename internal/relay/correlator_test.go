package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bhandras/delight/relay/shared/wire"
	"github.com/stretchr/testify/require"
)

func TestCorrelator_ResolveDeliversOnce(t *testing.T) {
	c := NewCorrelator(0)
	p, err := c.Register("r1", "s1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	require.True(t, c.Resolve("r1", "s1", wire.FetchComplete{RequestID: "r1", Status: 200}))
	require.False(t, c.Resolve("r1", "s1", wire.FetchComplete{RequestID: "r1", Status: 500}))
	require.False(t, c.Reject("r1", "s1", ErrAgentFailure))

	res, err := p.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 200, res.Status)
	require.Zero(t, c.Len())
}

func TestCorrelator_DuplicateRejectedFirstKept(t *testing.T) {
	c := NewCorrelator(0)
	p, err := c.Register("r1", "s1", time.Minute)
	require.NoError(t, err)

	_, err = c.Register("r1", "s1", time.Minute)
	require.ErrorIs(t, err, ErrDuplicateRequest)
	require.Equal(t, 1, c.Len())

	require.True(t, c.Resolve("r1", "s1", wire.FetchComplete{RequestID: "r1", Status: 204}))
	res, err := p.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 204, res.Status)
}

func TestCorrelator_ForeignSessionIgnored(t *testing.T) {
	c := NewCorrelator(0)
	p, err := c.Register("r1", "s1", time.Minute)
	require.NoError(t, err)

	require.False(t, c.Resolve("r1", "s2", wire.FetchComplete{RequestID: "r1"}))
	require.False(t, c.Reject("r1", "s2", ErrAgentFailure))
	require.Equal(t, 1, c.Len())

	require.True(t, c.Reject("r1", "s1", newError(KindAgentFailure, "r1", "boom")))
	_, err = p.Wait(context.Background())
	require.ErrorIs(t, err, ErrAgentFailure)
}

func TestCorrelator_PerSessionBound(t *testing.T) {
	c := NewCorrelator(2)
	_, err := c.Register("r1", "s1", time.Minute)
	require.NoError(t, err)
	_, err = c.Register("r2", "s1", time.Minute)
	require.NoError(t, err)

	_, err = c.Register("r3", "s1", time.Minute)
	require.ErrorIs(t, err, ErrTooManyPending)

	// Other sessions are unaffected.
	_, err = c.Register("r4", "s2", time.Minute)
	require.NoError(t, err)

	require.True(t, c.Resolve("r1", "s1", wire.FetchComplete{RequestID: "r1"}))
	_, err = c.Register("r3", "s1", time.Minute)
	require.NoError(t, err)
}

func TestCorrelator_TimeoutThenLateResultIsNoop(t *testing.T) {
	c := NewCorrelator(0)
	p, err := c.Register("r1", "s1", 20*time.Millisecond)
	require.NoError(t, err)

	_, err = p.Wait(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, KindTimeout, KindOf(err))
	require.Zero(t, c.Len())

	require.False(t, c.Resolve("r1", "s1", wire.FetchComplete{RequestID: "r1", Status: 200}))
}

func TestCorrelator_CancelSession(t *testing.T) {
	c := NewCorrelator(0)
	p1, _ := c.Register("r1", "s1", time.Minute)
	p2, _ := c.Register("r2", "s1", time.Minute)
	p3, _ := c.Register("r3", "s2", time.Minute)

	require.Equal(t, 2, c.CancelSession("s1"))
	require.Equal(t, 1, c.Len())

	for _, p := range []*Pending{p1, p2} {
		_, err := p.Wait(context.Background())
		require.ErrorIs(t, err, ErrConnectionClosed)
	}
	require.Zero(t, c.CancelSession("s1"))

	require.True(t, c.Resolve("r3", "s2", wire.FetchComplete{RequestID: "r3"}))
	_, err := p3.Wait(context.Background())
	require.NoError(t, err)
}

func TestCorrelator_WaitContextLeavesEntry(t *testing.T) {
	c := NewCorrelator(0)
	p, err := c.Register("r1", "s1", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, c.Len())

	require.True(t, c.Resolve("r1", "s1", wire.FetchComplete{RequestID: "r1"}))
}

func TestCorrelator_RacingOutcomesDeliverExactlyOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		c := NewCorrelator(0)
		p, err := c.Register("r1", "s1", time.Millisecond)
		require.NoError(t, err)

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		record := func(ok bool) {
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}
		wg.Add(3)
		go func() {
			defer wg.Done()
			record(c.Resolve("r1", "s1", wire.FetchComplete{RequestID: "r1"}))
		}()
		go func() {
			defer wg.Done()
			record(c.Reject("r1", "s1", ErrAgentFailure))
		}()
		go func() {
			defer wg.Done()
			record(c.CancelSession("s1") == 1)
		}()
		wg.Wait()

		// Every outcome is either one of the explicit settlements or the
		// timer; the channel never holds a second value.
		_, _ = p.Wait(context.Background())
		require.LessOrEqual(t, wins, 1)
		require.Zero(t, c.Len())
		select {
		case <-p.done:
			t.Fatal("second outcome delivered")
		default:
		}
	}
}
