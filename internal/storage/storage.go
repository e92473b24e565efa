// Package storage is the boundary between the request layer and the
// database. Handlers hand it rendered query instructions; it never sees raw
// request text.
package storage

import (
	"context"

	"github.com/turtacn/ConstructOps/internal/security/query"
)

// Result is the outcome of executing instructions. Count is the unpaginated
// total when the instructions asked for it, otherwise the number of rows
// returned or affected.
type Result struct {
	Rows  []map[string]any
	Count int64
}

// Executor runs rendered instructions. Failures are *errors.AppError values
// with one of the STORE_* codes and a fixed message.
type Executor interface {
	Execute(ctx context.Context, in query.Instructions) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, in query.Instructions) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, in query.Instructions) (Result, error) {
	return f(ctx, in)
}
