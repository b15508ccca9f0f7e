// Package submission implements the submission adapter (C5): it turns one
// logical send request into one envelope per distinct recipient domain
// and hands each to the store.
package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/wadcom/minimailgun/internal/domain"
	"github.com/wadcom/minimailgun/internal/store"
)

// ErrMissingField is returned, wrapped with the field name, when a
// required part of a Request is empty.
var ErrMissingField = errors.New("missing required field")

// Request is the logical send request accepted from the HTTP layer.
type Request struct {
	ClientID   string
	Sender     string
	Recipients []string
	Subject    string
	Body       string
}

func (r Request) validate() error {
	if r.ClientID == "" {
		return fmt.Errorf("%w: client_id", ErrMissingField)
	}
	if r.Sender == "" {
		return fmt.Errorf("%w: sender", ErrMissingField)
	}
	if len(r.Recipients) == 0 {
		return fmt.Errorf("%w: recipients", ErrMissingField)
	}
	if r.Subject == "" {
		return fmt.Errorf("%w: subject", ErrMissingField)
	}
	if r.Body == "" {
		return fmt.Errorf("%w: body", ErrMissingField)
	}
	return nil
}

// Adapter fans a Request out into per-domain envelopes and persists them.
type Adapter struct {
	store store.Store
}

// New creates an Adapter backed by the given store.
func New(st store.Store) *Adapter {
	return &Adapter{store: st}
}

// Submit validates req, assigns a fresh submission id, partitions
// recipients by lowercased domain, and puts one envelope per domain. No
// envelope is persisted if validation fails.
func (a *Adapter) Submit(ctx context.Context, req Request) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}

	groups, err := partitionByDomain(req.Recipients)
	if err != nil {
		return "", err
	}

	submissionID := uuid.New().String()
	message := buildMessage(req)

	for domainName, recipients := range groups {
		_, err := a.store.Put(ctx, domain.Envelope{
			ClientID:          req.ClientID,
			SubmissionID:      submissionID,
			Recipients:        recipients,
			DestinationDomain: domainName,
			Message:           message,
		})
		if err != nil {
			return "", fmt.Errorf("submit: put envelope for domain %s: %w", domainName, err)
		}
	}

	return submissionID, nil
}

// partitionByDomain groups recipients by the lowercased domain part of
// their address.
func partitionByDomain(recipients []string) (map[string][]string, error) {
	groups := make(map[string][]string)
	for _, r := range recipients {
		domainName, err := domainOf(r)
		if err != nil {
			return nil, err
		}
		groups[domainName] = append(groups[domainName], r)
	}
	return groups, nil
}

func domainOf(address string) (string, error) {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return "", fmt.Errorf("%w: recipients (invalid address %q)", ErrMissingField, address)
	}
	return strings.ToLower(address[at+1:]), nil
}

// buildMessage constructs an opaque RFC-5322 message: headers plus a
// blank-line-separated body. The To: header lists every original
// recipient, not just the ones sharing this envelope's domain, matching
// what the sender actually addressed the mail to.
func buildMessage(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", req.Sender)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(req.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", req.Subject)
	b.WriteString("\r\n")
	b.WriteString(req.Body)
	return b.String()
}
