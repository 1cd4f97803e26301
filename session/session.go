// Package session runs the statements of one client: it keeps the options set
// by the client and the cursors the client has declared.
package session

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/rowcache/operation"
	"github.com/leftmike/rowcache/sql"
	"github.com/leftmike/rowcache/stmt"
)

var (
	ErrUnknownCursor = errors.New("session: cursor does not exist")
	ErrCursorExists  = errors.New("session: cursor already exists")
	ErrUnknownOption = errors.New("session: option not set")
)

// Planner turns a parsed statement into one the operation manager can execute.
type Planner interface {
	Plan(st stmt.Stmt) (operation.Statement, error)
}

// ResultWriter receives the results of a statement: Columns once if the
// statement has results, then each Row, and finally Complete. A count of -1
// means the tag is complete as given.
type ResultWriter interface {
	Columns(cols []string) error
	Row(row sql.Row) error
	Complete(tag string, n int64) error
}

type Session struct {
	User string
	Type string
	Addr string

	pl    Planner
	mgr   *operation.Manager
	sesid uint64
	entry *log.Entry

	mutex   sync.Mutex
	overlay map[string]string
	cursors map[string]operation.Handle
}

func NewSession(pl Planner, mgr *operation.Manager, user, typ, addr string) *Session {
	return &Session{
		User:    user,
		Type:    typ,
		Addr:    addr,
		pl:      pl,
		mgr:     mgr,
		entry:   log.WithFields(log.Fields{"user": user, "type": typ, "addr": addr}),
		overlay: map[string]string{},
		cursors: map[string]operation.Handle{},
	}
}

func (ses *Session) SetSessionID(sesid uint64) {
	ses.sesid = sesid
	ses.entry = ses.entry.WithField("session", ses.String())
}

func (ses *Session) String() string {
	return fmt.Sprintf("session-%d", ses.sesid)
}

// Overlay returns a copy of the options set in the session.
func (ses *Session) Overlay() map[string]string {
	ses.mutex.Lock()
	defer ses.mutex.Unlock()

	overlay := make(map[string]string, len(ses.overlay))
	for opt, val := range ses.overlay {
		overlay[opt] = val
	}
	return overlay
}

// Cursors returns the names of the open cursors in sorted order.
func (ses *Session) Cursors() []string {
	ses.mutex.Lock()
	defer ses.mutex.Unlock()

	names := make([]string, 0, len(ses.cursors))
	for name := range ses.cursors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (ses *Session) Run(ctx context.Context, st stmt.Stmt, w ResultWriter) error {
	switch st := st.(type) {
	case *stmt.Set:
		ses.mutex.Lock()
		ses.overlay[st.Option] = st.Value
		ses.mutex.Unlock()
		return w.Complete("SET", -1)
	case *stmt.Reset:
		ses.mutex.Lock()
		if st.All {
			ses.overlay = map[string]string{}
		} else {
			delete(ses.overlay, st.Option)
		}
		ses.mutex.Unlock()
		return w.Complete("RESET", -1)
	case *stmt.Show:
		return ses.show(st, w)
	case *stmt.Declare:
		return ses.declare(ctx, st, w)
	case *stmt.Fetch:
		return ses.fetch(ctx, st, w)
	case *stmt.Close:
		if st.All {
			ses.closeCursors()
			return w.Complete("CLOSE CURSOR ALL", -1)
		}
		err := ses.closeCursor(st.Cursor)
		if err != nil {
			return err
		}
		return w.Complete("CLOSE CURSOR", -1)
	}
	return ses.execute(ctx, st, w)
}

func (ses *Session) show(st *stmt.Show, w ResultWriter) error {
	overlay := ses.Overlay()

	if st.All {
		err := w.Columns([]string{"name", "setting"})
		if err != nil {
			return err
		}
		opts := make([]string, 0, len(overlay))
		for opt := range overlay {
			opts = append(opts, opt)
		}
		sort.Strings(opts)
		for _, opt := range opts {
			err = w.Row(sql.Row{sql.StringValue(opt), sql.StringValue(overlay[opt])})
			if err != nil {
				return err
			}
		}
		return w.Complete("SHOW", -1)
	}

	val, ok := overlay[st.Option]
	if !ok {
		return errors.Wrapf(ErrUnknownOption, "%s", st.Option)
	}
	err := w.Columns([]string{st.Option})
	if err != nil {
		return err
	}
	err = w.Row(sql.Row{sql.StringValue(val)})
	if err != nil {
		return err
	}
	return w.Complete("SHOW", -1)
}

func (ses *Session) start(ctx context.Context, st stmt.Stmt) (*operation.Operation, error) {
	plan, err := ses.pl.Plan(st)
	if err != nil {
		return nil, err
	}
	return ses.mgr.Execute(ctx, plan, ses.Overlay())
}

func (ses *Session) declare(ctx context.Context, st *stmt.Declare, w ResultWriter) error {
	ses.mutex.Lock()
	_, ok := ses.cursors[st.Cursor]
	ses.mutex.Unlock()
	if ok {
		return errors.Wrapf(ErrCursorExists, "%s", st.Cursor)
	}

	op, err := ses.start(ctx, st.Stmt)
	if err != nil {
		return err
	}

	ses.mutex.Lock()
	if _, ok := ses.cursors[st.Cursor]; ok {
		ses.mutex.Unlock()
		ses.mgr.Close(op.Handle())
		return errors.Wrapf(ErrCursorExists, "%s", st.Cursor)
	}
	ses.cursors[st.Cursor] = op.Handle()
	ses.mutex.Unlock()

	ses.entry.WithFields(log.Fields{
		"cursor": st.Cursor,
		"handle": op.Handle().String(),
	}).Debug("cursor declared")
	return w.Complete("DECLARE CURSOR", -1)
}

func (ses *Session) lookup(cursor string) (*operation.Operation, error) {
	ses.mutex.Lock()
	h, ok := ses.cursors[cursor]
	ses.mutex.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCursor, "%s", cursor)
	}

	op, err := ses.mgr.Lookup(h)
	if errors.Is(err, operation.ErrUnknownHandle) {
		return nil, errors.Wrapf(ErrUnknownCursor, "%s", cursor)
	}
	return op, err
}

func (ses *Session) fetch(ctx context.Context, st *stmt.Fetch, w ResultWriter) error {
	op, err := ses.lookup(st.Cursor)
	if err != nil {
		return err
	}

	cnt := st.Count
	if cnt > math.MaxInt32 {
		cnt = math.MaxInt32
	}
	rows, _, err := op.Fetch(ctx, st.Orientation, int(cnt))
	if err != nil {
		return err
	}

	if cols := op.Columns(); cols != nil {
		err = w.Columns(cols)
		if err != nil {
			return err
		}
	}
	for _, row := range rows {
		err = w.Row(row)
		if err != nil {
			return err
		}
	}
	return w.Complete("FETCH", int64(len(rows)))
}

func (ses *Session) closeCursor(cursor string) error {
	ses.mutex.Lock()
	h, ok := ses.cursors[cursor]
	delete(ses.cursors, cursor)
	ses.mutex.Unlock()

	if !ok {
		return errors.Wrapf(ErrUnknownCursor, "%s", cursor)
	}
	err := ses.mgr.Close(h)
	if errors.Is(err, operation.ErrUnknownHandle) {
		return nil
	}
	return err
}

func (ses *Session) closeCursors() {
	ses.mutex.Lock()
	cursors := ses.cursors
	ses.cursors = map[string]operation.Handle{}
	ses.mutex.Unlock()

	for cursor, h := range cursors {
		err := ses.mgr.Close(h)
		if err != nil && !errors.Is(err, operation.ErrUnknownHandle) {
			ses.entry.WithFields(log.Fields{
				"cursor": cursor,
				"error":  err.Error(),
			}).Error("close cursor")
		}
	}
}

// execute runs st as an unnamed operation, sends every row, and closes it.
func (ses *Session) execute(ctx context.Context, st stmt.Stmt, w ResultWriter) error {
	op, err := ses.start(ctx, st)
	if err != nil {
		return err
	}
	defer ses.mgr.Close(op.Handle())

	cols := op.Columns()
	if cols == nil {
		_, _, err = op.Fetch(ctx, operation.FetchNext, 0)
		if err != nil {
			return err
		}
		return w.Complete(op.Tag(), -1)
	}

	err = w.Columns(cols)
	if err != nil {
		return err
	}

	var cnt int64
	for {
		rows, more, err := op.Fetch(ctx, operation.FetchNext, 0)
		if err != nil {
			return err
		}
		for _, row := range rows {
			err = w.Row(row)
			if err != nil {
				return err
			}
		}
		cnt += int64(len(rows))
		if !more {
			break
		}
	}
	return w.Complete(op.Tag(), cnt)
}

// Close closes every cursor still open in the session.
func (ses *Session) Close() {
	ses.closeCursors()
	ses.entry.Debug("session closed")
}
