package httpapi

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ClientRegistry holds the process-wide set of client ids authorized to
// use the API, loaded from a flat file (one id per line, blank lines
// and '#' comments ignored) and reloadable in place on SIGHUP.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]struct{}
	path    string
}

// LoadClientRegistry reads path and builds a ClientRegistry from it.
func LoadClientRegistry(path string) (*ClientRegistry, error) {
	clients, err := readClientsFile(path)
	if err != nil {
		return nil, err
	}
	return &ClientRegistry{clients: clients, path: path}, nil
}

func readClientsFile(path string) (map[string]struct{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load client registry: %w", err)
	}
	defer f.Close()

	clients := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		clients[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load client registry: %w", err)
	}
	return clients, nil
}

// Reload re-reads the registry's backing file in place, replacing the
// current client set. A registry built via NewClientRegistry (no backing
// file) treats Reload as a no-op.
func (r *ClientRegistry) Reload() error {
	if r.path == "" {
		return nil
	}
	clients, err := readClientsFile(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.clients = clients
	r.mu.Unlock()
	return nil
}

// NewClientRegistry builds a ClientRegistry directly from a list of ids,
// for tests and any caller that already has the set in memory.
func NewClientRegistry(ids []string) *ClientRegistry {
	clients := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		clients[id] = struct{}{}
	}
	return &ClientRegistry{clients: clients}
}

// Valid reports whether clientID is a recognized, non-empty id.
func (r *ClientRegistry) Valid(clientID string) bool {
	if clientID == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[clientID]
	return ok
}
