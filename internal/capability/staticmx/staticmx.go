// Package staticmx implements capability.MXResolver from a fixed,
// configuration-supplied domain-to-host mapping, for environments (tests,
// the e2e harness, a sandboxed deployment) where real DNS MX lookups are
// undesirable.
package staticmx

import (
	"fmt"
	"strings"

	"context"

	"github.com/wadcom/minimailgun/internal/capability"
)

// Resolver answers LookupMX purely from an in-memory table.
type Resolver struct {
	hosts map[string][]string
}

// New wraps a pre-built domain -> hosts table.
func New(hosts map[string][]string) *Resolver {
	return &Resolver{hosts: hosts}
}

// Parse builds a Resolver from the STATIC_MX_CONFIG grammar:
// "dom1:mx1,mx2;dom2:mx3". Domains are matched case-insensitively.
func Parse(config string) (*Resolver, error) {
	hosts := make(map[string][]string)
	config = strings.TrimSpace(config)
	if config == "" {
		return New(hosts), nil
	}

	for _, entry := range strings.Split(config, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid static MX entry %q: expected domain:host1,host2", entry)
		}
		domain := strings.ToLower(strings.TrimSpace(parts[0]))
		if domain == "" {
			return nil, fmt.Errorf("invalid static MX entry %q: empty domain", entry)
		}

		var mxHosts []string
		for _, h := range strings.Split(parts[1], ",") {
			h = strings.TrimSpace(h)
			if h != "" {
				mxHosts = append(mxHosts, h)
			}
		}
		if len(mxHosts) == 0 {
			return nil, fmt.Errorf("invalid static MX entry %q: no hosts", entry)
		}
		hosts[domain] = mxHosts
	}
	return New(hosts), nil
}

func (r *Resolver) LookupMX(ctx context.Context, domain string) ([]string, error) {
	hosts, found := r.hosts[strings.ToLower(domain)]
	if !found {
		return nil, &capability.TemporaryFailure{Err: fmt.Errorf("no static MX entry for %s", domain)}
	}
	return hosts, nil
}
