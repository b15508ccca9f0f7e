// Package delivery implements the delivery agent (C3): a pool of workers
// that claim queued envelopes from the store, resolve the destination
// domain's mail exchangers, and hand the message to each in turn until one
// accepts it, runs out, or permanently rejects it.
package delivery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wadcom/minimailgun/internal/capability"
	"github.com/wadcom/minimailgun/internal/domain"
	"github.com/wadcom/minimailgun/internal/pkg/logger"
	"github.com/wadcom/minimailgun/internal/store"
)

// Config holds the tunables a deployment sets via RelayConfig.
type Config struct {
	// Workers is the number of concurrent delivery goroutines.
	Workers int
	// PollInterval is how long a worker sleeps after finding nothing to
	// claim before trying again.
	PollInterval time.Duration
	// MaxAttempts bounds delivery_attempts before an envelope that keeps
	// failing temporarily is moved to UNDELIVERABLE.
	MaxAttempts int
	// RetryInterval is added to "now" to compute next_attempt_at after a
	// temporary failure.
	RetryInterval int64
}

// Agent is a pool of delivery workers sharing one store, MX resolver and
// SMTP client.
type Agent struct {
	store    store.Store
	resolver capability.MXResolver
	smtp     capability.SMTPClient
	cfg      Config

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex

	delivered     int64
	undeliverable int64
	retried       int64
}

// New creates an Agent. Defaults are applied for zero-valued Config fields
// so a RelayConfig with nothing set still runs sensibly.
func New(st store.Store, resolver capability.MXResolver, smtpClient capability.SMTPClient, cfg Config) *Agent {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 600
	}
	return &Agent{store: st, resolver: resolver, smtp: smtpClient, cfg: cfg}
}

// Start launches the worker pool. It is a no-op if already running.
func (a *Agent) Start() {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.mu.Unlock()

	logger.Info("delivery: starting workers", "count", a.cfg.Workers)
	for i := 0; i < a.cfg.Workers; i++ {
		a.wg.Add(1)
		go a.worker(i)
	}
}

// Stop signals every worker to finish its current envelope and exit, and
// waits for them to do so.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.cancel()
	a.mu.Unlock()

	a.wg.Wait()
	logger.Info("delivery: stopped",
		"delivered", atomic.LoadInt64(&a.delivered),
		"undeliverable", atomic.LoadInt64(&a.undeliverable),
		"retried", atomic.LoadInt64(&a.retried))
}

// Stats reports the running counters (the same ones Stop logs at
// shutdown).
func (a *Agent) Stats() map[string]int64 {
	return map[string]int64{
		"delivered":     atomic.LoadInt64(&a.delivered),
		"undeliverable": atomic.LoadInt64(&a.undeliverable),
		"retried":       atomic.LoadInt64(&a.retried),
	}
}

func (a *Agent) worker(workerNum int) {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		default:
		}

		env, ok, err := a.store.Claim(a.ctx)
		if err != nil {
			logger.Error("delivery worker: claim failed", "worker", workerNum, "error", err)
			time.Sleep(a.cfg.PollInterval)
			continue
		}
		if !ok {
			time.Sleep(a.cfg.PollInterval)
			continue
		}

		a.deliver(env)
	}
}

// deliver attempts every MX for env.DestinationDomain in order, stopping
// at the first success. A permanent SMTP failure (a 5xx reply) ends
// delivery immediately. MX lookup failures and temporary SMTP failures
// are never permanent: the envelope is either retried or, having
// exhausted MaxAttempts, given up on.
func (a *Agent) deliver(env domain.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hosts, err := a.resolver.LookupMX(ctx, env.DestinationDomain)
	if err != nil {
		a.finishAttempt(env, err)
		return
	}

	var lastErr error
	for _, host := range hosts {
		err := a.smtp.Send(ctx, host, env.Recipients, env.Message)
		if err == nil {
			a.markSent(env)
			return
		}
		lastErr = err
		var permFail *capability.PermanentFailure
		if errors.As(err, &permFail) {
			break
		}
	}
	a.finishAttempt(env, lastErr)
}

func (a *Agent) markSent(env domain.Envelope) {
	if err := a.store.MarkSent(context.Background(), env.ID); err != nil {
		logger.Error("delivery: mark sent failed", "envelope_id", env.ID, "error", err)
		return
	}
	atomic.AddInt64(&a.delivered, 1)
}

// finishAttempt classifies the terminal error from a delivery attempt and
// moves the envelope to UNDELIVERABLE or schedules a retry accordingly.
func (a *Agent) finishAttempt(env domain.Envelope, err error) {
	var permFail *capability.PermanentFailure
	if errors.As(err, &permFail) || env.DeliveryAttempts+1 >= a.cfg.MaxAttempts {
		if markErr := a.store.MarkUndeliverable(context.Background(), env.ID); markErr != nil {
			logger.Error("delivery: mark undeliverable failed", "envelope_id", env.ID, "error", markErr)
			return
		}
		logger.Warn("delivery: envelope undeliverable", "envelope_id", env.ID, "recipients", env.Recipients, "cause", err)
		atomic.AddInt64(&a.undeliverable, 1)
		return
	}

	if markErr := a.store.ScheduleRetry(context.Background(), env.ID, a.cfg.RetryInterval); markErr != nil {
		logger.Error("delivery: schedule retry failed", "envelope_id", env.ID, "error", markErr)
		return
	}
	atomic.AddInt64(&a.retried, 1)
}
