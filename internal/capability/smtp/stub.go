package smtp

import (
	"context"
	"sync"

	"github.com/wadcom/minimailgun/internal/capability"
)

// Delivery records one message handed to the StubClient, mirroring the
// envelope the original smtpstub.py logged for each accepted DATA command.
type Delivery struct {
	Host       string
	Recipients []string
	Message    string
}

// HostBehavior controls how the StubClient reacts when asked to deliver to
// a given host, so delivery-agent tests can drive every retry/permanent
// path without a real network.
type HostBehavior int

const (
	// Accept records the delivery and returns success.
	Accept HostBehavior = iota
	// RejectTemporary returns a capability.TemporaryFailure.
	RejectTemporary
	// RejectPermanent returns a capability.PermanentFailure.
	RejectPermanent
)

// StubClient is an in-process capability.SMTPClient. It never touches the
// network; tests configure per-host behavior and then inspect Deliveries.
type StubClient struct {
	mu         sync.Mutex
	behaviors  map[string]HostBehavior
	deliveries []Delivery
}

// NewStub creates a StubClient that accepts delivery to any host unless
// told otherwise via SetBehavior.
func NewStub() *StubClient {
	return &StubClient{behaviors: make(map[string]HostBehavior)}
}

// SetBehavior configures how Send responds for a specific host.
func (s *StubClient) SetBehavior(host string, behavior HostBehavior) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.behaviors[host] = behavior
}

func (s *StubClient) Send(ctx context.Context, host string, recipients []string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.behaviors[host] {
	case RejectTemporary:
		return &capability.TemporaryFailure{Host: host, Err: errStubTemporary}
	case RejectPermanent:
		return &capability.PermanentFailure{Host: host, Err: errStubPermanent}
	}

	s.deliveries = append(s.deliveries, Delivery{Host: host, Recipients: recipients, Message: message})
	return nil
}

// Deliveries returns every message accepted so far, in delivery order.
func (s *StubClient) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Delivery, len(s.deliveries))
	copy(out, s.deliveries)
	return out
}

type stubError string

func (e stubError) Error() string { return string(e) }

const (
	errStubTemporary = stubError("stub configured to reject temporarily")
	errStubPermanent = stubError("stub configured to reject permanently")
)
