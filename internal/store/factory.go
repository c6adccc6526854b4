// SPDX-License-Identifier: MIT

package store

import (
	"fmt"
)

// Open creates a Repository for the configured backend.
func Open(backend, path string) (Repository, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if path == "" {
			return nil, fmt.Errorf("sqlite backend requires a database path")
		}
		return NewSqliteStore(path)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", backend)
	}
}
