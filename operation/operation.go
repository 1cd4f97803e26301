// Package operation runs executed statements and serves their rows to
// clients. An operation fetches forward with FetchNext; with result caching
// enabled it may also restart from the first row with FetchFirst for as long as
// every row already produced fits into its result cache.
package operation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/rowcache/producer"
	"github.com/leftmike/rowcache/resultcache"
	"github.com/leftmike/rowcache/sql"
)

type Kind int

const (
	Query Kind = iota
	NonQueryWithResults
	NonQueryNoResults
)

func (k Kind) String() string {
	switch k {
	case Query:
		return "query"
	case NonQueryWithResults:
		return "non-query with results"
	case NonQueryNoResults:
		return "non-query"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type Orientation int

const (
	FetchNext Orientation = iota
	FetchFirst
)

func (o Orientation) String() string {
	if o == FetchFirst {
		return "FIRST"
	}
	return "NEXT"
}

// Statement is a planned statement ready to be started by the engine.
type Statement interface {
	Kind() Kind

	// Start begins executing the statement. The producer is nil for
	// NonQueryNoResults and must be a *producer.Materialized for
	// NonQueryWithResults.
	Start(ctx context.Context) (producer.Producer, error)

	// Tag is the command tag reported once the statement completes.
	Tag() string
}

type Handle = uuid.UUID

type Operation struct {
	handle    Handle
	kind      Kind
	tag       string
	cfg       Config
	fetchSize int
	cols      []string
	entry     *log.Entry

	// ctx is cancelled by Close to interrupt a fetch blocked in the producer.
	ctx    context.Context
	cancel context.CancelFunc

	mutex    sync.Mutex
	prod     producer.Producer
	mat      *producer.Materialized
	cache    *resultcache.Cache
	position int
	pulled   int
	err      error
	closed   bool

	cachedRows  atomic.Int64
	cachedBytes atomic.Int64
}

func newOperation(kind Kind, tag string, cfg Config, fetchSize int,
	prod producer.Producer) (*Operation, error) {

	ctx, cancel := context.WithCancel(context.Background())
	op := &Operation{
		handle:    uuid.New(),
		kind:      kind,
		tag:       tag,
		cfg:       cfg,
		fetchSize: fetchSize,
		ctx:       ctx,
		cancel:    cancel,
		prod:      prod,
	}
	op.entry = log.WithFields(log.Fields{
		"handle": op.handle.String(),
		"kind":   kind.String(),
	})
	if prod != nil {
		op.cols = prod.Columns()
	}

	switch kind {
	case Query:
		if prod == nil {
			cancel()
			return nil, errors.New("operation: query without a producer")
		}
		if cfg.CachingEnabled {
			op.cache = resultcache.New(cfg.RowLimit)
		}
	case NonQueryWithResults:
		mat, ok := prod.(*producer.Materialized)
		if !ok {
			cancel()
			if prod != nil {
				prod.Close()
			}
			return nil, errors.Newf("operation: %s requires materialized results", kind)
		}
		op.mat = mat
	case NonQueryNoResults:
		if prod != nil {
			cancel()
			prod.Close()
			return nil, errors.Newf("operation: unexpected results for %s", kind)
		}
	}

	return op, nil
}

func (op *Operation) Handle() Handle {
	return op.handle
}

func (op *Operation) Kind() Kind {
	return op.kind
}

func (op *Operation) Tag() string {
	return op.tag
}

func (op *Operation) Config() Config {
	return op.cfg
}

// Columns is nil for an operation without results.
func (op *Operation) Columns() []string {
	return op.cols
}

// Fetch returns up to maxRows rows; maxRows <= 0 means the default fetch size.
// hasMore is false once the client has been given every row.
//
// A failed FetchFirst leaves the operation as it was: fetching may continue
// with FetchNext.
func (op *Operation) Fetch(ctx context.Context, orient Orientation, maxRows int) ([]sql.Row,
	bool, error) {

	if maxRows <= 0 {
		maxRows = op.fetchSize
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(op.ctx, cancel)
	defer stop()

	op.mutex.Lock()
	defer op.mutex.Unlock()

	if op.closed {
		return nil, false, ErrClosed
	}
	if op.err != nil {
		return nil, false, op.err
	}

	switch op.kind {
	case Query:
		return op.fetchQuery(ctx, orient, maxRows)
	case NonQueryWithResults:
		if orient == FetchFirst {
			if !op.cfg.CachingEnabled {
				return nil, false, ErrRestartNotSupported
			}
			op.position = 0
		}
		rows := op.mat.Slice(op.position, maxRows)
		op.position += len(rows)
		return rows, op.position < op.mat.Len(), nil
	default:
		if orient == FetchFirst && !op.cfg.CachingEnabled {
			return nil, false, ErrRestartNotSupported
		}
		return nil, false, nil
	}
}

func (op *Operation) fetchQuery(ctx context.Context, orient Orientation, maxRows int) ([]sql.Row,
	bool, error) {

	var pos int
	if orient == FetchFirst {
		if op.cache == nil {
			return nil, false, ErrRestartNotSupported
		}
		if op.cache.Exceeded() {
			return nil, false, cacheExceededError(op.cache.Limit())
		}
	} else {
		pos = op.position
	}

	var rows []sql.Row
	if op.cache != nil && !op.cache.Exceeded() && pos < op.cache.Len() {
		rows = op.cache.Rows(pos, maxRows)
		pos += len(rows)
	}

	if len(rows) < maxRows && !op.prod.EOS() {
		if pos != op.pulled {
			panic(fmt.Sprintf("operation: fetch at %d; %d rows pulled", pos, op.pulled))
		}

		fresh, _, err := op.prod.Next(ctx, maxRows-len(rows))
		if op.ctx.Err() != nil {
			return nil, false, ErrClosed
		}
		op.pulled += len(fresh)
		op.admit(fresh)
		if err != nil {
			if ctx.Err() != nil && len(fresh) == 0 {
				// Nothing was pulled so the fetch can be retried.
				return nil, false, errors.Wrap(err, "operation: fetch")
			}
			op.err = errors.Mark(err, ErrProducer)
			op.entry.WithField("error", err.Error()).Error("producer failed")
			return nil, false, op.err
		}
		rows = append(rows, fresh...)
		pos += len(fresh)
	}

	op.position = pos
	return rows, !op.prod.EOS() || op.position < op.pulled, nil
}

// admit adds rows to the result cache one at a time in the order they were
// produced. Admission is per row, so an exceeded cache keeps the rows up to its
// limit; they are never used to serve FIRST.
func (op *Operation) admit(rows []sql.Row) {
	if op.cache == nil {
		return
	}

	if !op.cache.Exceeded() {
		for _, row := range rows {
			if !op.cache.Append(row) {
				op.entry.WithFields(log.Fields{
					"limit":  op.cache.Limit(),
					"pulled": op.pulled,
				}).Info("result cache exceeded")
				break
			}
		}
	}

	if op.cache.Exceeded() {
		op.cachedRows.Store(0)
		op.cachedBytes.Store(0)
	} else {
		op.cachedRows.Store(int64(op.cache.Len()))
		op.cachedBytes.Store(op.cache.Bytes())
	}
}

type State int

const (
	Active State = iota
	Exhausted
)

// State is Exhausted once the client has been given the last row; fetching
// with FetchNext is still allowed and returns no rows.
func (op *Operation) State() State {
	op.mutex.Lock()
	defer op.mutex.Unlock()

	switch op.kind {
	case Query:
		if op.prod.EOS() && op.position == op.pulled {
			return Exhausted
		}
	case NonQueryWithResults:
		if op.position == op.mat.Len() {
			return Exhausted
		}
	default:
		return Exhausted
	}
	return Active
}

// CachedRows is the number of rows available for a restart; it is zero once
// the result cache has been exceeded.
func (op *Operation) CachedRows() int64 {
	return op.cachedRows.Load()
}

func (op *Operation) CachedBytes() int64 {
	return op.cachedBytes.Load()
}

func (op *Operation) Position() int {
	op.mutex.Lock()
	defer op.mutex.Unlock()

	return op.position
}

func (op *Operation) CacheExceeded() bool {
	op.mutex.Lock()
	defer op.mutex.Unlock()

	return op.cache != nil && op.cache.Exceeded()
}

// Close interrupts any fetch in progress and then releases the producer and
// the result cache. Only the first call does anything.
func (op *Operation) Close() error {
	op.cancel()

	op.mutex.Lock()
	defer op.mutex.Unlock()

	if op.closed {
		return nil
	}
	op.closed = true

	var err error
	if op.prod != nil {
		err = op.prod.Close()
	}
	if op.cache != nil {
		op.cache.Release()
	}
	op.cachedRows.Store(0)
	op.cachedBytes.Store(0)

	op.entry.WithFields(log.Fields{
		"position": op.position,
		"pulled":   op.pulled,
	}).Debug("operation closed")
	return err
}
