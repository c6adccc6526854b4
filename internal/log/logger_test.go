// SPDX-License-Identifier: MIT

package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
}

func TestRequestIDMissing(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
	assert.Empty(t, RequestIDFromContext(nil)) //nolint:staticcheck // nil context is part of the contract
}

func TestWithComponent(t *testing.T) {
	l := WithComponent("test")
	// Smoke check only: the logger must be usable without prior Configure.
	l.Debug().Msg("component logger works")
}
