// Package batchid tags a scheduler run with an identifier so that host
// calls, events and spans emitted during the run can be correlated.
package batchid

import (
	"context"
	"math/rand"
)

type key struct{}

// NewContext returns a copy of parent carrying a new random batch ID, and the ID.
func NewContext(parent context.Context) (context.Context, int64) {
	id := rand.Int63()
	return context.WithValue(parent, key{}, id), id
}

// FromContext extracts the batch ID from ctx.
func FromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(key{}).(int64)
	return id, ok
}
