package queueproxy

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wadcom/minimailgun/internal/clock"
	"github.com/wadcom/minimailgun/internal/domain"
	"github.com/wadcom/minimailgun/internal/store/memory"
)

type fakeLock struct {
	mu       sync.Mutex
	held     bool
	acquires int
}

func (l *fakeLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquires++
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	return nil
}

func TestProxyRoundtrip(t *testing.T) {
	clk := clock.NewFake(1000)
	st := memory.New(clk, 0, 1)
	p := New(st, nil)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	id, err := p.Put(context.Background(), domain.Envelope{
		ClientID: "acme", SubmissionID: "s1", Recipients: []string{"a@b.com"},
		DestinationDomain: "b.com", Message: "m",
	})
	require.NoError(t, err)

	env, ok, err := p.Claim(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, env.ID)
}

func TestProxySerializesConcurrentCallers(t *testing.T) {
	clk := clock.NewFake(1000)
	st := memory.New(clk, 0, 1)
	p := New(st, nil)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Put(context.Background(), domain.Envelope{
				ClientID: "acme", SubmissionID: "s1", Recipients: []string{"a@b.com"},
				DestinationDomain: "b.com", Message: "m",
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	statuses, err := p.StatusOf(context.Background(), "acme", "s1")
	require.NoError(t, err)
	require.Len(t, statuses, 20)
}

func TestProxyStartFailsWhenShardLockHeld(t *testing.T) {
	clk := clock.NewFake(1000)
	st := memory.New(clk, 0, 1)
	lock := &fakeLock{held: true}

	p := New(st, lock)
	err := p.Start(context.Background())
	require.ErrorIs(t, err, errShardLockHeld)
}

func TestProxyStopReleasesShardLock(t *testing.T) {
	clk := clock.NewFake(1000)
	st := memory.New(clk, 0, 1)
	lock := &fakeLock{}

	p := New(st, lock)
	require.NoError(t, p.Start(context.Background()))
	p.Stop(context.Background())

	require.False(t, lock.held)
}
