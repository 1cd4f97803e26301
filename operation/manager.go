package operation

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/rowcache/sql"
)

// Manager owns the open operations of a server. Each operation is locked on its
// own; the manager lock only guards the set of operations.
type Manager struct {
	maxCacheRows int
	fetchSize    int

	mutex sync.Mutex
	ops   map[Handle]*Operation
}

func NewManager(maxCacheRows, fetchSize int) *Manager {
	if maxCacheRows < 0 {
		maxCacheRows = DefaultMaxCacheRows
	}
	if fetchSize <= 0 {
		fetchSize = DefaultFetchSize
	}
	return &Manager{
		maxCacheRows: maxCacheRows,
		fetchSize:    fetchSize,
		ops:          map[Handle]*Operation{},
	}
}

func (mgr *Manager) MaxCacheRows() int {
	return mgr.maxCacheRows
}

// Execute resolves the caching options in overlay, starts stmt, and returns the
// new operation. If the options are not valid, stmt is never started.
func (mgr *Manager) Execute(ctx context.Context, stmt Statement,
	overlay map[string]string) (*Operation, error) {

	cfg, err := ParseConfig(overlay, mgr.maxCacheRows)
	if err != nil {
		return nil, err
	}

	prod, err := stmt.Start(ctx)
	if err != nil {
		return nil, err
	}

	op, err := newOperation(stmt.Kind(), stmt.Tag(), cfg, mgr.fetchSize, prod)
	if err != nil {
		return nil, err
	}

	mgr.mutex.Lock()
	mgr.ops[op.handle] = op
	mgr.mutex.Unlock()

	op.entry.WithFields(log.Fields{
		"caching": cfg.CachingEnabled,
		"limit":   cfg.RowLimit,
	}).Debug("operation started")
	return op, nil
}

func (mgr *Manager) Lookup(h Handle) (*Operation, error) {
	mgr.mutex.Lock()
	defer mgr.mutex.Unlock()

	op, ok := mgr.ops[h]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownHandle, "%s", h)
	}
	return op, nil
}

func (mgr *Manager) Fetch(ctx context.Context, h Handle, orient Orientation,
	maxRows int) ([]sql.Row, bool, error) {

	op, err := mgr.Lookup(h)
	if err != nil {
		return nil, false, err
	}
	return op.Fetch(ctx, orient, maxRows)
}

// Close removes the operation and then closes it; a fetch in progress on the
// operation fails with ErrClosed.
func (mgr *Manager) Close(h Handle) error {
	mgr.mutex.Lock()
	op, ok := mgr.ops[h]
	delete(mgr.ops, h)
	mgr.mutex.Unlock()

	if !ok {
		return errors.Wrapf(ErrUnknownHandle, "%s", h)
	}
	return op.Close()
}

func (mgr *Manager) CloseAll() {
	mgr.mutex.Lock()
	ops := mgr.ops
	mgr.ops = map[Handle]*Operation{}
	mgr.mutex.Unlock()

	for _, op := range ops {
		err := op.Close()
		if err != nil {
			op.entry.WithField("error", err.Error()).Error("close operation")
		}
	}
}

func (mgr *Manager) NumOperations() int {
	mgr.mutex.Lock()
	defer mgr.mutex.Unlock()

	return len(mgr.ops)
}

// CachedRows sums the rows held by the result caches of the open operations.
func (mgr *Manager) CachedRows() int64 {
	mgr.mutex.Lock()
	defer mgr.mutex.Unlock()

	var n int64
	for _, op := range mgr.ops {
		n += op.CachedRows()
	}
	return n
}

func (mgr *Manager) CachedBytes() int64 {
	mgr.mutex.Lock()
	defer mgr.mutex.Unlock()

	var n int64
	for _, op := range mgr.ops {
		n += op.CachedBytes()
	}
	return n
}
