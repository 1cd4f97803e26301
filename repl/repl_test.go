package repl_test

import (
	"strings"
	"testing"

	"github.com/andreyvit/diff"

	"github.com/leftmike/rowcache/engine"
	"github.com/leftmike/rowcache/operation"
	"github.com/leftmike/rowcache/parser"
	"github.com/leftmike/rowcache/producer"
	"github.com/leftmike/rowcache/repl"
	"github.com/leftmike/rowcache/session"
	"github.com/leftmike/rowcache/storage/kv"
)

func runRepl(ses *session.Session, script string) string {
	var b strings.Builder
	repl.ReplSQL(ses, parser.NewParser(strings.NewReader(script), "test"), &b)
	return b.String()
}

func newSession() *session.Session {
	return session.NewSession(engine.New(kv.MakeBTreeKV(), producer.DefaultBacklog),
		operation.NewManager(operation.DefaultMaxCacheRows, operation.DefaultFetchSize),
		"test", "repl", "")
}

func TestReplTags(t *testing.T) {
	ses := newSession()
	defer ses.Close()

	got := runRepl(ses, `
create table t (a, b);
insert into t values (1, 'x'), (2, 'y');
set resultset.cache.size = 10;
declare c cursor for select * from t;
close c;
reset all;
drop table t;
`)
	want := `CREATE TABLE
INSERT 0 2
SET
DECLARE CURSOR
CLOSE CURSOR
RESET
DROP TABLE
`
	if got != want {
		t.Errorf("ReplSQL() did not match:\n%s", diff.LineDiff(want, got))
	}
}

func TestReplRows(t *testing.T) {
	ses := newSession()
	defer ses.Close()

	runRepl(ses, `
create table t (a, b);
insert into t values (1, 'xyzzy'), (2, 'plugh'), (3, null);
set resultset.cache.size = 10;
declare c cursor for select * from t;
`)

	cases := []struct {
		sql      string
		contains []string
	}{
		{
			sql:      "select * from t",
			contains: []string{"xyzzy", "plugh", "NULL", "(3 rows)"},
		},
		{
			sql:      "fetch 2 c",
			contains: []string{"xyzzy", "plugh", "(2 rows)"},
		},
		{
			sql:      "fetch first 1 c",
			contains: []string{"xyzzy", "(1 rows)"},
		},
		{
			sql:      "fetch first d",
			contains: []string{"cursor does not exist"},
		},
		{
			sql:      "fetch from",
			contains: []string{"expected a cursor"},
		},
	}

	for _, c := range cases {
		got := runRepl(ses, c.sql)
		for _, s := range c.contains {
			if !strings.Contains(got, s) {
				t.Errorf("ReplSQL(%q) got %q; missing %q", c.sql, got, s)
			}
		}
	}
}
