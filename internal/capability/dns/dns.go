// Package dns implements capability.MXResolver against the real DNS system.
package dns

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/wadcom/minimailgun/internal/capability"
)

// Resolver resolves MX records via net.Resolver, which on Linux goes
// through the system resolver (and thus respects /etc/resolv.conf).
type Resolver struct {
	resolver *net.Resolver
}

// New creates a Resolver using the default system resolver.
func New() *Resolver {
	return &Resolver{resolver: net.DefaultResolver}
}

// LookupMX classifies every failure, including NXDOMAIN and an empty
// answer, as temporary: a domain that cannot be resolved today may
// resolve tomorrow, and the relay must retry rather than give up on the
// first lookup.
func (r *Resolver) LookupMX(ctx context.Context, domain string) ([]string, error) {
	records, err := r.resolver.LookupMX(ctx, domain)
	if err != nil {
		return nil, &capability.TemporaryFailure{Err: fmt.Errorf("mx lookup for %s: %w", domain, err)}
	}
	if len(records) == 0 {
		return nil, &capability.TemporaryFailure{Err: fmt.Errorf("no MX records for %s", domain)}
	}

	hosts := make([]string, len(records))
	for i, rec := range records {
		hosts[i] = strings.TrimSuffix(rec.Host, ".")
	}
	return hosts, nil
}
