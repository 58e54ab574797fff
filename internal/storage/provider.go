// Package storage names the persistence backends and provides testify mocks of
// the storage interfaces. Concrete backends live in the subpackages.
package storage

import (
	"fmt"
	"strings"
)

// Backend selects a page store implementation.
type Backend string

// Supported backends.
const (
	BackendPostgres Backend = "postgres"
	BackendMongo    Backend = "mongo"
	BackendMemory   Backend = "memory"
)

// ParseBackend validates a configured backend name.
func ParseBackend(name string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(name))); b {
	case BackendPostgres, BackendMongo, BackendMemory:
		return b, nil
	case "":
		return BackendPostgres, nil
	default:
		return "", fmt.Errorf("unknown storage backend %q", name)
	}
}
