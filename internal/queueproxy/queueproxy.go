// Package queueproxy implements the queue proxy (C2): a single goroutine
// owns the real store.Store and every caller reaches it through a
// capacity-1 request channel and a capacity-1 reply channel, so access is
// always serialized to one operation at a time regardless of how many
// delivery workers or HTTP handlers call in concurrently.
//
// Go's database/sql handles are safe for concurrent use, unlike the
// thread-affine handle this pattern originally worked around, so the
// proxy is not load-bearing for driver correctness here. It is kept
// because the spec calls out the single-writer channel actor as the
// structure to preserve, and it gives a single place to hold the
// cross-process shard lock below.
package queueproxy

import (
	"context"

	"github.com/wadcom/minimailgun/internal/domain"
	"github.com/wadcom/minimailgun/internal/pkg/distlock"
	"github.com/wadcom/minimailgun/internal/store"
)

type call struct {
	run  func() (interface{}, error)
	resp chan result
}

type result struct {
	val interface{}
	err error
}

// Proxy is a store.Store that serializes every call onto one worker
// goroutine owning the wrapped store.
type Proxy struct {
	inner   store.Store
	lock    distlock.DistLock
	reqCh   chan call
	doneCh  chan struct{}
}

// New wraps st behind a single-writer proxy. lock, if non-nil, is
// acquired before the worker goroutine starts serving and released when
// Stop is called, giving cross-process mutual exclusion over this shard
// in addition to the in-process channel serialization.
func New(st store.Store, lock distlock.DistLock) *Proxy {
	return &Proxy{
		inner:  st,
		lock:   lock,
		reqCh:  make(chan call, 1),
		doneCh: make(chan struct{}),
	}
}

// Start acquires the shard lock (if configured) and launches the single
// worker goroutine that will serve every subsequent call.
func (p *Proxy) Start(ctx context.Context) error {
	if p.lock != nil {
		acquired, err := p.lock.Acquire(ctx)
		if err != nil {
			return err
		}
		if !acquired {
			return errShardLockHeld
		}
	}
	go p.run()
	return nil
}

// Stop closes the request channel, letting the worker goroutine drain and
// exit, then releases the shard lock.
func (p *Proxy) Stop(ctx context.Context) {
	close(p.reqCh)
	<-p.doneCh
	if p.lock != nil {
		p.lock.Release(ctx)
	}
}

func (p *Proxy) run() {
	defer close(p.doneCh)
	for c := range p.reqCh {
		val, err := c.run()
		c.resp <- result{val: val, err: err}
	}
}

// submit sends run to the worker and blocks for its reply. Every exported
// method below is a thin wrapper around this, matching the documented
// usage: block until the previous call's reply has been received before
// issuing the next.
func (p *Proxy) submit(run func() (interface{}, error)) (interface{}, error) {
	c := call{run: run, resp: make(chan result, 1)}
	p.reqCh <- c
	r := <-c.resp
	return r.val, r.err
}

func (p *Proxy) Put(ctx context.Context, env domain.Envelope) (int64, error) {
	v, err := p.submit(func() (interface{}, error) { return p.inner.Put(ctx, env) })
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (p *Proxy) Claim(ctx context.Context) (domain.Envelope, bool, error) {
	type claimed struct {
		env domain.Envelope
		ok  bool
	}
	v, err := p.submit(func() (interface{}, error) {
		env, ok, err := p.inner.Claim(ctx)
		return claimed{env: env, ok: ok}, err
	})
	if err != nil {
		return domain.Envelope{}, false, err
	}
	c := v.(claimed)
	return c.env, c.ok, nil
}

func (p *Proxy) MarkSent(ctx context.Context, id int64) error {
	_, err := p.submit(func() (interface{}, error) { return nil, p.inner.MarkSent(ctx, id) })
	return err
}

func (p *Proxy) MarkUndeliverable(ctx context.Context, id int64) error {
	_, err := p.submit(func() (interface{}, error) { return nil, p.inner.MarkUndeliverable(ctx, id) })
	return err
}

func (p *Proxy) ScheduleRetry(ctx context.Context, id int64, retryAfter int64) error {
	_, err := p.submit(func() (interface{}, error) { return nil, p.inner.ScheduleRetry(ctx, id, retryAfter) })
	return err
}

func (p *Proxy) StatusOf(ctx context.Context, clientID, submissionID string) ([]store.EnvelopeStatus, error) {
	v, err := p.submit(func() (interface{}, error) { return p.inner.StatusOf(ctx, clientID, submissionID) })
	if err != nil {
		return nil, err
	}
	return v.([]store.EnvelopeStatus), nil
}

func (p *Proxy) RemoveInactive(ctx context.Context, retentionSeconds int64) (int, error) {
	v, err := p.submit(func() (interface{}, error) { return p.inner.RemoveInactive(ctx, retentionSeconds) })
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (p *Proxy) RecoverStale(ctx context.Context) (int, error) {
	v, err := p.submit(func() (interface{}, error) { return p.inner.RecoverStale(ctx) })
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}
