package operation

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrConfig marks a bad result cache option; the statement is not started.
	ErrConfig = errors.New("operation: invalid result cache option")

	ErrRestartNotSupported = errors.New(
		"Restarting of fetch requires enabling of query result caching")

	// ErrCacheExceeded marks the error returned by a restart after the result
	// cache went past its limit.
	ErrCacheExceeded = errors.New("operation: result cache exceeded")

	// ErrProducer marks a failure of the engine producing the rows.
	ErrProducer = errors.New("operation: producer failed")

	ErrClosed        = errors.New("operation: closed")
	ErrUnknownHandle = errors.New("operation: unknown handle")
)

func cacheExceededError(limit int) error {
	return errors.Mark(
		errors.Newf(
			"The query result cache exceeded its limit of %d rows. "+
				"Restarting the fetch is not possible", limit),
		ErrCacheExceeded)
}
