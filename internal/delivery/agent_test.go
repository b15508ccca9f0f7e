package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wadcom/minimailgun/internal/capability/smtp"
	"github.com/wadcom/minimailgun/internal/capability/staticmx"
	"github.com/wadcom/minimailgun/internal/clock"
	"github.com/wadcom/minimailgun/internal/domain"
	"github.com/wadcom/minimailgun/internal/store/memory"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not met within timeout")
}

func TestAgentDeliversSuccessfully(t *testing.T) {
	clk := clock.NewFake(1000)
	st := memory.New(clk, 0, 1)
	resolver, err := staticmx.Parse("example.com:mx.example.com")
	require.NoError(t, err)
	stub := smtp.NewStub()

	id, err := st.Put(context.Background(), domain.Envelope{
		ClientID: "acme", SubmissionID: "s1", Recipients: []string{"bob@example.com"},
		DestinationDomain: "example.com", Message: "hello",
	})
	require.NoError(t, err)

	agent := New(st, resolver, stub, Config{Workers: 1, PollInterval: 10 * time.Millisecond})
	agent.Start()
	defer agent.Stop()

	waitFor(t, time.Second, func() bool {
		statuses, err := st.StatusOf(context.Background(), "acme", "s1")
		return err == nil && len(statuses) == 1 && statuses[0].Status == domain.StatusSent
	})

	deliveries := stub.Deliveries()
	require.Len(t, deliveries, 1)
	require.Equal(t, "mx.example.com", deliveries[0].Host)
	_ = id
}

func TestAgentFallsThroughToSecondMX(t *testing.T) {
	clk := clock.NewFake(1000)
	st := memory.New(clk, 0, 1)
	resolver, err := staticmx.Parse("example.com:mx1.example.com,mx2.example.com")
	require.NoError(t, err)
	stub := smtp.NewStub()
	stub.SetBehavior("mx1.example.com", smtp.RejectTemporary)

	_, err = st.Put(context.Background(), domain.Envelope{
		ClientID: "acme", SubmissionID: "s1", Recipients: []string{"bob@example.com"},
		DestinationDomain: "example.com", Message: "hello",
	})
	require.NoError(t, err)

	agent := New(st, resolver, stub, Config{Workers: 1, PollInterval: 10 * time.Millisecond})
	agent.Start()
	defer agent.Stop()

	waitFor(t, time.Second, func() bool {
		statuses, err := st.StatusOf(context.Background(), "acme", "s1")
		return err == nil && len(statuses) == 1 && statuses[0].Status == domain.StatusSent
	})

	deliveries := stub.Deliveries()
	require.Len(t, deliveries, 1)
	require.Equal(t, "mx2.example.com", deliveries[0].Host)
}

func TestAgentPermanentFailureGoesStraightToUndeliverable(t *testing.T) {
	clk := clock.NewFake(1000)
	st := memory.New(clk, 0, 1)
	resolver, err := staticmx.Parse("example.com:mx.example.com")
	require.NoError(t, err)
	stub := smtp.NewStub()
	stub.SetBehavior("mx.example.com", smtp.RejectPermanent)

	_, err = st.Put(context.Background(), domain.Envelope{
		ClientID: "acme", SubmissionID: "s1", Recipients: []string{"bob@example.com"},
		DestinationDomain: "example.com", Message: "hello",
	})
	require.NoError(t, err)

	agent := New(st, resolver, stub, Config{Workers: 1, PollInterval: 10 * time.Millisecond, MaxAttempts: 4})
	agent.Start()
	defer agent.Stop()

	waitFor(t, time.Second, func() bool {
		statuses, err := st.StatusOf(context.Background(), "acme", "s1")
		return err == nil && len(statuses) == 1 && statuses[0].Status == domain.StatusUndeliverable
	})
}

// TestAgentUnresolvableDomainRetriesThenUndeliverable covers e2e scenarios
// S3/S5: a domain absent from the MX resolver is a temporary failure, not
// a permanent one, so it must be retried up to MaxAttempts (observed as
// "queued" throughout) before finally landing on "undeliverable" — never
// undeliverable after a single attempt.
func TestAgentUnresolvableDomainRetriesThenUndeliverable(t *testing.T) {
	clk := clock.NewFake(1000)
	st := memory.New(clk, 0, 1)
	resolver, err := staticmx.Parse("")
	require.NoError(t, err)
	stub := smtp.NewStub()

	_, err = st.Put(context.Background(), domain.Envelope{
		ClientID: "acme", SubmissionID: "s1", Recipients: []string{"bob@nowhere.com"},
		DestinationDomain: "nowhere.com", Message: "hello",
	})
	require.NoError(t, err)

	agent := New(st, resolver, stub, Config{Workers: 1, PollInterval: 5 * time.Millisecond, MaxAttempts: 3, RetryInterval: 1})
	agent.Start()

	waitFor(t, 50*time.Millisecond, func() bool {
		statuses, err := st.StatusOf(context.Background(), "acme", "s1")
		return err == nil && len(statuses) == 1 && statuses[0].Status == domain.StatusQueued
	})

	// The store's clock is fake and does not advance on its own, so the
	// scheduled retry would never again be due without nudging it forward
	// here, standing in for real wall-clock time passing.
	waitFor(t, time.Second, func() bool {
		clk.Advance(2)
		statuses, err := st.StatusOf(context.Background(), "acme", "s1")
		return err == nil && len(statuses) == 1 && statuses[0].Status == domain.StatusUndeliverable
	})
	agent.Stop()
	require.Equal(t, int64(2), agent.Stats()["retried"], "MaxAttempts=3 means two retries before giving up")
}

func TestAgentRetriesTemporaryFailureUntilMaxAttempts(t *testing.T) {
	clk := clock.NewFake(1000)
	st := memory.New(clk, 0, 1)
	resolver, err := staticmx.Parse("example.com:mx.example.com")
	require.NoError(t, err)
	stub := smtp.NewStub()
	stub.SetBehavior("mx.example.com", smtp.RejectTemporary)

	id, err := st.Put(context.Background(), domain.Envelope{
		ClientID: "acme", SubmissionID: "s1", Recipients: []string{"bob@example.com"},
		DestinationDomain: "example.com", Message: "hello",
	})
	require.NoError(t, err)

	agent := New(st, resolver, stub, Config{Workers: 1, PollInterval: 5 * time.Millisecond, MaxAttempts: 2, RetryInterval: 1})
	agent.Start()

	// The store's clock is fake and does not advance on its own, so the
	// scheduled retry would never again be due without nudging it forward
	// here, standing in for real wall-clock time passing.
	waitFor(t, time.Second, func() bool {
		clk.Advance(2)
		statuses, err := st.StatusOf(context.Background(), "acme", "s1")
		return err == nil && len(statuses) == 1 && statuses[0].Status == domain.StatusUndeliverable
	})
	agent.Stop()
	require.Equal(t, int64(1), agent.Stats()["retried"], "MaxAttempts=2 means one retry before giving up")
	_ = id
}
