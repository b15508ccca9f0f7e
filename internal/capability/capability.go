// Package capability defines the outbound-facing interfaces the delivery
// agent (C3) depends on: resolving a destination domain's mail exchangers
// and speaking SMTP to one of them. Concrete implementations live in the
// dns, staticmx and smtp subpackages; delivery depends only on these
// interfaces so it can be driven against a stub in tests, the way the
// original prototype's smtpstub.py stood in for a real mail server.
package capability

import "context"

// MXResolver resolves the mail exchangers for a destination domain, most
// preferred first.
type MXResolver interface {
	LookupMX(ctx context.Context, domain string) ([]string, error)
}

// SMTPClient delivers one already-assembled message to a single host.
type SMTPClient interface {
	Send(ctx context.Context, host string, recipients []string, message string) error
}

// TemporaryFailure means delivery to this host did not succeed but another
// attempt, either against the same host or the next MX in the list, may.
type TemporaryFailure struct {
	Host string
	Err  error
}

func (e *TemporaryFailure) Error() string {
	return "temporary failure delivering via " + e.Host + ": " + e.Err.Error()
}

func (e *TemporaryFailure) Unwrap() error { return e.Err }

// PermanentFailure means the destination rejected the message in a way no
// retry can fix (e.g. a 5xx during RCPT TO). The envelope should move
// straight to UNDELIVERABLE. MX resolvers never return it: a domain with
// no MX records is a TemporaryFailure.
type PermanentFailure struct {
	Host string
	Err  error
}

func (e *PermanentFailure) Error() string {
	if e.Host == "" {
		return "permanent failure: " + e.Err.Error()
	}
	return "permanent failure delivering via " + e.Host + ": " + e.Err.Error()
}

func (e *PermanentFailure) Unwrap() error { return e.Err }
