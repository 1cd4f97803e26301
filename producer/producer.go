// Package producer supplies the rows of an operation: either streamed once
// from the engine or materialized when the statement starts.
package producer

import (
	"context"

	"github.com/leftmike/rowcache/sql"
)

// DefaultBacklog is the number of rows a streaming producer may run ahead of
// the client.
const DefaultBacklog = 64

type Producer interface {
	Columns() []string

	// Next returns up to n rows following the rows already returned. eos is
	// true once there are no more rows. Next blocks until n rows are
	// available, the end of the rows is reached, or ctx is done; if ctx is done
	// after some rows were produced, those rows are returned without an error.
	Next(ctx context.Context, n int) (rows []sql.Row, eos bool, err error)

	// Produced is the number of rows returned by Next so far.
	Produced() int

	EOS() bool
	Close() error
}
