// Package simple contains a permissive admission gate.
package simple

import (
	"context"

	"github.com/omu-rag/newsingest/internal/crawler"
)

// Policy admits every request immediately.
type Policy struct{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

var _ crawler.Gate = Policy{}

// Acquire returns a no-op release unless ctx is already done.
func (Policy) Acquire(ctx context.Context, _ string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	return func() {}, nil
}
