package operation_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/leftmike/rowcache/operation"
	"github.com/leftmike/rowcache/producer"
	"github.com/leftmike/rowcache/sql"
	"github.com/leftmike/rowcache/testutil"
)

type intSource struct {
	n      int
	next   int
	fail   error
	block  chan struct{}
	closed chan struct{}
}

func newIntSource(n int) *intSource {
	return &intSource{
		n:      n,
		closed: make(chan struct{}),
	}
}

func (is *intSource) Columns() []string {
	return []string{"id"}
}

func (is *intSource) Next(ctx context.Context, dest []sql.Value) error {
	if is.block != nil && is.next == is.n {
		select {
		case <-is.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if is.next == is.n {
		if is.fail != nil {
			return is.fail
		}
		return io.EOF
	}
	dest[0] = sql.Int64Value(is.next)
	is.next += 1
	return nil
}

func (is *intSource) Close() error {
	close(is.closed)
	return nil
}

type testStmt struct {
	kind    operation.Kind
	src     *intSource
	rows    []sql.Row
	started bool
}

func (ts *testStmt) Kind() operation.Kind {
	return ts.kind
}

func (ts *testStmt) Start(ctx context.Context) (producer.Producer, error) {
	ts.started = true
	if ts.src != nil {
		return producer.NewStreaming(ts.src, 4), nil
	}
	if ts.kind == operation.NonQueryNoResults {
		return nil, nil
	}
	return producer.NewMaterialized([]string{"id"}, ts.rows), nil
}

func (ts *testStmt) Tag() string {
	return "TEST"
}

func queryStmt(n int) *testStmt {
	return &testStmt{
		kind: operation.Query,
		src:  newIntSource(n),
	}
}

func intRows(n int) []sql.Row {
	var rows []sql.Row
	for i := 0; i < n; i++ {
		rows = append(rows, sql.Row{sql.Int64Value(i)})
	}
	return rows
}

func cacheSize(s string) map[string]string {
	return map[string]string{operation.CacheSizeOption: s}
}

type fetchStep struct {
	orient operation.Orientation
	n      int
	rows   int
	start  int
	fail   error
	cached int64
}

func next(n, rows, start int, cached int64) fetchStep {
	return fetchStep{operation.FetchNext, n, rows, start, nil, cached}
}

func first(n, rows int, cached int64) fetchStep {
	return fetchStep{operation.FetchFirst, n, rows, 0, nil, cached}
}

func firstFails(fail error, cached int64) fetchStep {
	return fetchStep{operation.FetchFirst, 10, 0, 0, fail, cached}
}

func testSteps(t *testing.T, what string, mgr *operation.Manager, h operation.Handle,
	steps []fetchStep) {

	t.Helper()

	ctx := context.Background()
	for sdx, s := range steps {
		rows, _, err := mgr.Fetch(ctx, h, s.orient, s.n)
		if s.fail != nil {
			if err == nil {
				t.Errorf("%s[%d]: Fetch(%s, %d) did not fail", what, sdx, s.orient, s.n)
			} else if !errors.Is(err, s.fail) {
				t.Errorf("%s[%d]: Fetch(%s, %d) got %s want %s", what, sdx, s.orient, s.n,
					err, s.fail)
			}
		} else if err != nil {
			t.Fatalf("%s[%d]: Fetch(%s, %d) failed with %s", what, sdx, s.orient, s.n, err)
		} else if len(rows) != s.rows {
			t.Errorf("%s[%d]: Fetch(%s, %d) got %d rows want %d", what, sdx, s.orient, s.n,
				len(rows), s.rows)
		} else {
			for rdx, row := range rows {
				if !row.Equal(sql.Row{sql.Int64Value(s.start + rdx)}) {
					t.Errorf("%s[%d]: Fetch(%s, %d)[%d] got %v want %d", what, sdx, s.orient,
						s.n, rdx, row, s.start+rdx)
					break
				}
			}
		}

		if n := mgr.CachedRows(); n != s.cached {
			t.Errorf("%s[%d]: CachedRows() got %d want %d", what, sdx, n, s.cached)
		}
	}
}

func TestFetch(t *testing.T) {
	cases := []struct {
		name    string
		overlay map[string]string
		steps   []fetchStep
	}{
		{
			name: "caching disabled",
			steps: []fetchStep{
				firstFails(operation.ErrRestartNotSupported, 0),
				next(5, 5, 0, 0),
				firstFails(operation.ErrRestartNotSupported, 0),
				next(5, 5, 5, 0),
				firstFails(operation.ErrRestartNotSupported, 0),
				next(100, 20, 10, 0),
				next(100, 0, 30, 0),
				firstFails(operation.ErrRestartNotSupported, 0),
			},
		},
		{
			name:    "limit equals rows",
			overlay: cacheSize("30"),
			steps: []fetchStep{
				first(30, 30, 30),
				first(30, 30, 30),
				first(30, 30, 30),
				first(30, 30, 30),
			},
		},
		{
			name:    "limit one less than rows",
			overlay: cacheSize("29"),
			steps: []fetchStep{
				next(10, 10, 0, 10),
				first(10, 10, 10),
				next(10, 10, 10, 20),
				first(10, 10, 20),
				next(10, 10, 10, 20),
				next(10, 10, 20, 0),
				firstFails(operation.ErrCacheExceeded, 0),
				next(10, 0, 30, 0),
				firstFails(operation.ErrCacheExceeded, 0),
			},
		},
		{
			name:    "blend cache and producer",
			overlay: cacheSize("29"),
			steps: []fetchStep{
				next(7, 7, 0, 7),
				first(12, 12, 12),
				first(40, 30, 0),
				next(10, 0, 30, 0),
				firstFails(operation.ErrCacheExceeded, 0),
			},
		},
		{
			name:    "exceeded during next",
			overlay: cacheSize("10"),
			steps: []fetchStep{
				next(9, 9, 0, 9),
				next(9, 9, 9, 0),
				firstFails(operation.ErrCacheExceeded, 0),
				next(100, 12, 18, 0),
			},
		},
		{
			name:    "zero limit",
			overlay: cacheSize("0"),
			steps: []fetchStep{
				first(1, 1, 0),
				firstFails(operation.ErrCacheExceeded, 0),
				next(5, 5, 1, 0),
			},
		},
		{
			name:    "restart after eos",
			overlay: cacheSize("100"),
			steps: []fetchStep{
				next(100, 30, 0, 30),
				next(100, 0, 30, 30),
				first(5, 5, 30),
				next(100, 25, 5, 30),
				next(100, 0, 30, 30),
			},
		},
	}

	for _, c := range cases {
		mgr := operation.NewManager(operation.DefaultMaxCacheRows, operation.DefaultFetchSize)
		stmt := queryStmt(30)
		op, err := mgr.Execute(context.Background(), stmt, c.overlay)
		if err != nil {
			t.Fatalf("%s: Execute() failed with %s", c.name, err)
		}
		testSteps(t, c.name, mgr, op.Handle(), c.steps)

		err = mgr.Close(op.Handle())
		if err != nil {
			t.Errorf("%s: Close() failed with %s", c.name, err)
		}
		if n := mgr.CachedRows(); n != 0 {
			t.Errorf("%s: CachedRows() got %d after close", c.name, n)
		}
		select {
		case <-stmt.src.closed:
		case <-time.After(time.Second):
			t.Errorf("%s: source not closed", c.name)
		}
	}
}

func TestFirstIdempotent(t *testing.T) {
	ctx := context.Background()
	mgr := operation.NewManager(operation.DefaultMaxCacheRows, operation.DefaultFetchSize)
	op, err := mgr.Execute(ctx, queryStmt(30), cacheSize("20"))
	if err != nil {
		t.Fatalf("Execute() failed with %s", err)
	}
	defer op.Close()

	rows1, more, err := op.Fetch(ctx, operation.FetchFirst, 12)
	if err != nil {
		t.Fatalf("Fetch(FIRST, 12) failed with %s", err)
	}
	if !more {
		t.Errorf("Fetch(FIRST, 12) got no more rows")
	}
	bytes := op.CachedBytes()
	rows2, _, err := op.Fetch(ctx, operation.FetchFirst, 12)
	if err != nil {
		t.Fatalf("Fetch(FIRST, 12) failed with %s", err)
	}
	if !testutil.DeepEqual(rows1, rows2) {
		t.Errorf("Fetch(FIRST, 12) got %v then %v", rows1, rows2)
	}
	if op.CacheExceeded() {
		t.Errorf("CacheExceeded() got true")
	}
	if op.CachedBytes() != bytes || bytes == 0 {
		t.Errorf("CachedBytes() got %d want %d", op.CachedBytes(), bytes)
	}
	if op.Position() != 12 {
		t.Errorf("Position() got %d want 12", op.Position())
	}

	_, _, err = op.Fetch(ctx, operation.FetchFirst, 25)
	if err != nil {
		t.Fatalf("Fetch(FIRST, 25) failed with %s", err)
	}
	if !op.CacheExceeded() {
		t.Errorf("CacheExceeded() got false")
	}
	pos := op.Position()
	_, _, err = op.Fetch(ctx, operation.FetchFirst, 1)
	if !errors.Is(err, operation.ErrCacheExceeded) {
		t.Errorf("Fetch(FIRST, 1) got %v want %s", err, operation.ErrCacheExceeded)
	} else if err.Error() != "The query result cache exceeded its limit of 20 rows. "+
		"Restarting the fetch is not possible" {

		t.Errorf("Fetch(FIRST, 1) got %q", err.Error())
	}
	if op.Position() != pos {
		t.Errorf("Position() got %d want %d", op.Position(), pos)
	}
}

func TestConstantQuery(t *testing.T) {
	ctx := context.Background()
	mgr := operation.NewManager(operation.DefaultMaxCacheRows, operation.DefaultFetchSize)

	one := &testStmt{
		kind: operation.Query,
		rows: []sql.Row{{sql.Int64Value(0)}},
	}
	op, err := mgr.Execute(ctx, one, cacheSize("10"))
	if err != nil {
		t.Fatalf("Execute() failed with %s", err)
	}
	testSteps(t, "one row", mgr, op.Handle(),
		[]fetchStep{
			first(0, 1, 1),
			first(0, 1, 1),
			first(100, 1, 1),
			next(10, 0, 1, 1),
			first(1, 1, 1),
		})
	if op.State() != operation.Exhausted {
		t.Errorf("State() got %d want exhausted", op.State())
	}
	mgr.Close(op.Handle())

	empty := &testStmt{
		kind: operation.Query,
	}
	op, err = mgr.Execute(ctx, empty, cacheSize("0"))
	if err != nil {
		t.Fatalf("Execute() failed with %s", err)
	}
	testSteps(t, "limit 0", mgr, op.Handle(),
		[]fetchStep{
			first(10, 0, 0),
			next(10, 0, 0, 0),
			first(0, 0, 0),
		})
	if op.CacheExceeded() {
		t.Errorf("CacheExceeded() got true")
	}
	mgr.Close(op.Handle())

	op, err = mgr.Execute(ctx, &testStmt{kind: operation.Query}, nil)
	if err != nil {
		t.Fatalf("Execute() failed with %s", err)
	}
	testSteps(t, "limit 0 without caching", mgr, op.Handle(),
		[]fetchStep{
			firstFails(operation.ErrRestartNotSupported, 0),
			next(10, 0, 0, 0),
		})
	mgr.Close(op.Handle())
}

func TestNonQuery(t *testing.T) {
	ctx := context.Background()
	mgr := operation.NewManager(operation.DefaultMaxCacheRows, operation.DefaultFetchSize)

	stmt := &testStmt{
		kind: operation.NonQueryWithResults,
		rows: intRows(25),
	}
	op, err := mgr.Execute(ctx, stmt, nil)
	if err != nil {
		t.Fatalf("Execute() failed with %s", err)
	}
	testSteps(t, "caching disabled", mgr, op.Handle(),
		[]fetchStep{
			next(10, 10, 0, 0),
			firstFails(operation.ErrRestartNotSupported, 0),
			next(10, 10, 10, 0),
			firstFails(operation.ErrRestartNotSupported, 0),
			next(10, 5, 20, 0),
			firstFails(operation.ErrRestartNotSupported, 0),
			next(10, 0, 25, 0),
		})
	mgr.Close(op.Handle())

	stmt = &testStmt{
		kind: operation.NonQueryWithResults,
		rows: intRows(25),
	}
	op, err = mgr.Execute(ctx, stmt, cacheSize("1"))
	if err != nil {
		t.Fatalf("Execute() failed with %s", err)
	}
	testSteps(t, "caching enabled", mgr, op.Handle(),
		[]fetchStep{
			next(10, 10, 0, 0),
			first(100, 25, 0),
			next(10, 0, 25, 0),
			first(5, 5, 0),
			next(100, 20, 5, 0),
		})
	mgr.Close(op.Handle())

	op, err = mgr.Execute(ctx, &testStmt{kind: operation.NonQueryNoResults}, nil)
	if err != nil {
		t.Fatalf("Execute() failed with %s", err)
	}
	if op.Columns() != nil {
		t.Errorf("Columns() got %v want nil", op.Columns())
	}
	testSteps(t, "no results", mgr, op.Handle(),
		[]fetchStep{
			next(10, 0, 0, 0),
			firstFails(operation.ErrRestartNotSupported, 0),
		})
	mgr.Close(op.Handle())
}

func TestExecuteConfig(t *testing.T) {
	cases := []struct {
		val string
		msg string
	}{
		{"bad_number", "Invalid value 'bad_number' for 'resultset.cache.size' option"},
		{"-1", "Invalid value '-1' for 'resultset.cache.size' option"},
		{"", "Invalid value '' for 'resultset.cache.size' option"},
		{"100001", "Requested result-cache size of 100001 exceeds the server's maximum of 100000"},
		{"0100001", "Requested result-cache size of 100001 exceeds the server's maximum of 100000"},
		{"99999999999999999999",
			"Requested result-cache size of 99999999999999999999 exceeds the server's maximum " +
				"of 100000"},
	}

	ctx := context.Background()
	mgr := operation.NewManager(100000, operation.DefaultFetchSize)
	for _, c := range cases {
		stmt := queryStmt(30)
		_, err := mgr.Execute(ctx, stmt, cacheSize(c.val))
		if err == nil {
			t.Errorf("Execute(%q) did not fail", c.val)
			continue
		}
		if !errors.Is(err, operation.ErrConfig) {
			t.Errorf("Execute(%q) got %s want %s", c.val, err, operation.ErrConfig)
		}
		if err.Error() != c.msg {
			t.Errorf("Execute(%q) got %q want %q", c.val, err.Error(), c.msg)
		}
		if stmt.started {
			t.Errorf("Execute(%q) started the statement", c.val)
		}
		if mgr.NumOperations() != 0 || mgr.CachedRows() != 0 {
			t.Errorf("Execute(%q) created an operation", c.val)
		}
	}

	for _, val := range []string{"0", "1", "100000"} {
		op, err := mgr.Execute(ctx, queryStmt(30), cacheSize(val))
		if err != nil {
			t.Errorf("Execute(%q) failed with %s", val, err)
			continue
		}
		if !op.Config().CachingEnabled {
			t.Errorf("Execute(%q) caching not enabled", val)
		}
	}
	mgr.CloseAll()
	if mgr.NumOperations() != 0 {
		t.Errorf("NumOperations() got %d want 0", mgr.NumOperations())
	}
}

func TestManagerMetrics(t *testing.T) {
	ctx := context.Background()
	mgr := operation.NewManager(operation.DefaultMaxCacheRows, operation.DefaultFetchSize)

	var ops []*operation.Operation
	for i := 0; i < 3; i++ {
		op, err := mgr.Execute(ctx, queryStmt(30), cacheSize("30"))
		if err != nil {
			t.Fatalf("Execute() failed with %s", err)
		}
		_, _, err = op.Fetch(ctx, operation.FetchNext, 10*(i+1))
		if err != nil {
			t.Fatalf("Fetch(NEXT) failed with %s", err)
		}
		ops = append(ops, op)
	}

	if n := mgr.CachedRows(); n != 60 {
		t.Errorf("CachedRows() got %d want 60", n)
	}
	var bytes int64
	for _, op := range ops {
		bytes += op.CachedBytes()
	}
	if n := mgr.CachedBytes(); n != bytes || n == 0 {
		t.Errorf("CachedBytes() got %d want %d", n, bytes)
	}

	err := mgr.Close(ops[2].Handle())
	if err != nil {
		t.Fatalf("Close() failed with %s", err)
	}
	if n := mgr.CachedRows(); n != 30 {
		t.Errorf("CachedRows() got %d want 30", n)
	}
	err = mgr.Close(ops[2].Handle())
	if !errors.Is(err, operation.ErrUnknownHandle) {
		t.Errorf("Close() got %v want %s", err, operation.ErrUnknownHandle)
	}
	_, _, err = mgr.Fetch(ctx, ops[2].Handle(), operation.FetchNext, 1)
	if !errors.Is(err, operation.ErrUnknownHandle) {
		t.Errorf("Fetch() got %v want %s", err, operation.ErrUnknownHandle)
	}
	_, _, err = ops[2].Fetch(ctx, operation.FetchNext, 1)
	if !errors.Is(err, operation.ErrClosed) {
		t.Errorf("Fetch() got %v want %s", err, operation.ErrClosed)
	}

	mgr.CloseAll()
	if mgr.CachedRows() != 0 || mgr.CachedBytes() != 0 {
		t.Errorf("CachedRows(), CachedBytes() got %d, %d want 0, 0", mgr.CachedRows(),
			mgr.CachedBytes())
	}
}

func TestCloseDuringFetch(t *testing.T) {
	ctx := context.Background()
	mgr := operation.NewManager(operation.DefaultMaxCacheRows, operation.DefaultFetchSize)

	stmt := queryStmt(5)
	stmt.src.block = make(chan struct{})
	op, err := mgr.Execute(ctx, stmt, cacheSize("100"))
	if err != nil {
		t.Fatalf("Execute() failed with %s", err)
	}

	done := make(chan error)
	go func() {
		_, _, err := op.Fetch(ctx, operation.FetchNext, 10)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	err = mgr.Close(op.Handle())
	if err != nil {
		t.Errorf("Close() failed with %s", err)
	}

	select {
	case err = <-done:
		if !errors.Is(err, operation.ErrClosed) {
			t.Errorf("Fetch() got %v want %s", err, operation.ErrClosed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Fetch() did not return after Close()")
	}

	select {
	case <-stmt.src.closed:
	case <-time.After(time.Second):
		t.Error("source not closed")
	}
	if err = op.Close(); err != nil {
		t.Errorf("Close() failed with %s", err)
	}
}

func TestFetchCancel(t *testing.T) {
	mgr := operation.NewManager(operation.DefaultMaxCacheRows, operation.DefaultFetchSize)

	stmt := queryStmt(0)
	stmt.src.block = make(chan struct{})
	op, err := mgr.Execute(context.Background(), stmt, cacheSize("100"))
	if err != nil {
		t.Fatalf("Execute() failed with %s", err)
	}
	defer mgr.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = op.Fetch(ctx, operation.FetchNext, 10)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Fetch() got %v want %s", err, context.DeadlineExceeded)
	}
	if errors.Is(err, operation.ErrProducer) {
		t.Errorf("Fetch() got %s", err)
	}

	close(stmt.src.block)
	rows, more, err := op.Fetch(context.Background(), operation.FetchNext, 10)
	if err != nil {
		t.Fatalf("Fetch() failed with %s", err)
	}
	if len(rows) != 0 || more {
		t.Errorf("Fetch() got %d rows and %v want 0 rows and false", len(rows), more)
	}
	if op.State() != operation.Exhausted {
		t.Errorf("State() got %d want exhausted", op.State())
	}
}

func TestProducerFailure(t *testing.T) {
	ctx := context.Background()
	mgr := operation.NewManager(operation.DefaultMaxCacheRows, operation.DefaultFetchSize)

	stmt := queryStmt(5)
	stmt.src.fail = errors.New("disk on fire")
	op, err := mgr.Execute(ctx, stmt, cacheSize("100"))
	if err != nil {
		t.Fatalf("Execute() failed with %s", err)
	}
	defer mgr.CloseAll()

	rows, _, err := op.Fetch(ctx, operation.FetchNext, 3)
	if err != nil || len(rows) != 3 {
		t.Fatalf("Fetch(NEXT, 3) got %d rows and %v", len(rows), err)
	}
	for i := 0; i < 2; i++ {
		_, _, err = op.Fetch(ctx, operation.FetchNext, 10)
		if !errors.Is(err, operation.ErrProducer) {
			t.Errorf("Fetch(NEXT, 10) got %v want %s", err, operation.ErrProducer)
		}
	}
	_, _, err = op.Fetch(ctx, operation.FetchFirst, 1)
	if !errors.Is(err, operation.ErrProducer) {
		t.Errorf("Fetch(FIRST, 1) got %v want %s", err, operation.ErrProducer)
	}
}
