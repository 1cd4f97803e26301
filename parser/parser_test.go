package parser_test

import (
	"io"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/leftmike/rowcache/operation"
	"github.com/leftmike/rowcache/parser"
	"github.com/leftmike/rowcache/sql"
	"github.com/leftmike/rowcache/stmt"
	"github.com/leftmike/rowcache/testutil"
)

func TestParse(t *testing.T) {
	cases := []struct {
		sql  string
		stmt stmt.Stmt
		fail bool
	}{
		{sql: "create foobar", fail: true},
		{sql: "create table t", fail: true},
		{sql: "create table t ()", fail: true},
		{sql: "create table t (a b)", fail: true},
		{sql: "create table t (a, b)",
			stmt: &stmt.CreateTable{Table: "t", Columns: []string{"a", "b"}}},
		{sql: `CREATE TABLE "T" ("A")`,
			stmt: &stmt.CreateTable{Table: "T", Columns: []string{"A"}}},
		{sql: "drop table t, u", stmt: &stmt.DropTable{Tables: []string{"t", "u"}}},
		{sql: "drop table", fail: true},
		{
			sql: "insert into t values (1, 'one', 1.5), (2, null, true)",
			stmt: &stmt.InsertValues{
				Table: "t",
				Rows: []sql.Row{
					{sql.Int64Value(1), sql.StringValue("one"), sql.Float64Value(1.5)},
					{sql.Int64Value(2), nil, sql.BoolValue(true)},
				},
			},
		},
		{sql: "insert into t values (a)", fail: true},
		{sql: "insert into t values 1", fail: true},
		{sql: "select * from t", stmt: &stmt.Select{Table: "t", Limit: -1}},
		{sql: "select * from t limit 0", stmt: &stmt.Select{Table: "t", Limit: 0}},
		{sql: "select * from t limit -1", fail: true},
		{
			sql: "select a, b as c from t limit 10",
			stmt: &stmt.Select{
				Results: []stmt.SelectResult{{Column: "a"}, {Column: "b", Alias: "c"}},
				Table:   "t",
				Limit:   10,
			},
		},
		{
			sql: "select 1, 'abc' as s",
			stmt: &stmt.Select{
				Results: []stmt.SelectResult{
					{Value: sql.Int64Value(1)},
					{Value: sql.StringValue("abc"), Alias: "s"},
				},
				Limit: -1,
			},
		},
		{sql: "select *", fail: true},
		{sql: "select a", fail: true},
		{sql: "select 1 from t", fail: true},
		{sql: "show tables", stmt: &stmt.ShowTables{}},
		{sql: "show columns from t", stmt: &stmt.ShowColumns{Table: "t"}},
		{sql: "show table stats t", stmt: &stmt.ShowTableStats{Table: "t"}},
		{sql: "show table t", fail: true},
		{sql: "show all", stmt: &stmt.Show{All: true}},
		{sql: "show resultset.cache.size", stmt: &stmt.Show{Option: "resultset.cache.size"}},
		{sql: "set resultset.cache.size = 10",
			stmt: &stmt.Set{Option: "resultset.cache.size", Value: "10"}},
		{sql: "SET resultset.cache.size TO '10'",
			stmt: &stmt.Set{Option: "resultset.cache.size", Value: "10"}},
		{sql: "set resultset.cache.size = bad_number",
			stmt: &stmt.Set{Option: "resultset.cache.size", Value: "bad_number"}},
		{sql: "set resultset.cache.size = -1",
			stmt: &stmt.Set{Option: "resultset.cache.size", Value: "-1"}},
		{sql: "set resultset.cache.size", fail: true},
		{sql: "set = 10", fail: true},
		{sql: "reset resultset.cache.size", stmt: &stmt.Reset{Option: "resultset.cache.size"}},
		{sql: "reset all", stmt: &stmt.Reset{All: true}},
		{
			sql: "declare c cursor for select * from t",
			stmt: &stmt.Declare{
				Cursor: "c",
				Stmt:   &stmt.Select{Table: "t", Limit: -1},
			},
		},
		{
			sql: "declare c cursor for show tables",
			stmt: &stmt.Declare{
				Cursor: "c",
				Stmt:   &stmt.ShowTables{},
			},
		},
		{sql: "declare c cursor for show all", fail: true},
		{sql: "declare c cursor for drop table t", fail: true},
		{sql: "declare c for select 1", fail: true},
		{sql: "fetch c", stmt: &stmt.Fetch{Cursor: "c"}},
		{sql: "fetch next 10 from c", stmt: &stmt.Fetch{Count: 10, Cursor: "c"}},
		{sql: "fetch first in c", stmt: &stmt.Fetch{Orientation: operation.FetchFirst,
			Cursor: "c"}},
		{sql: "FETCH FIRST 30 FROM c", stmt: &stmt.Fetch{Orientation: operation.FetchFirst,
			Count: 30, Cursor: "c"}},
		{sql: "fetch 5 c", stmt: &stmt.Fetch{Count: 5, Cursor: "c"}},
		{sql: "fetch -5 from c", fail: true},
		{sql: "fetch next from", fail: true},
		{sql: "close c", stmt: &stmt.Close{Cursor: "c"}},
		{sql: "close all", stmt: &stmt.Close{All: true}},
		{sql: "close", fail: true},
		{sql: "select 1 select 2", fail: true},
		{sql: "select 'abc", fail: true},
		{sql: "", fail: true},
		{sql: ";;", fail: true},
		{sql: "update t", fail: true},
	}

	for _, c := range cases {
		st, err := parser.Parse(c.sql)
		if c.fail {
			if err == nil {
				t.Errorf("Parse(%q) did not fail", c.sql)
			} else if !errors.Is(err, parser.ErrSyntax) {
				t.Errorf("Parse(%q) got %s want %s", c.sql, err, parser.ErrSyntax)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q) failed with %s", c.sql, err)
			continue
		}
		var trc string
		if !testutil.DeepEqual(st, c.stmt, &trc) {
			t.Errorf("Parse(%q) got %s want %s\n%s", c.sql, st, c.stmt, trc)
		}
	}
}

func TestParseMany(t *testing.T) {
	src := `
-- setup
create table t (a);
insert into t values (1);;

select * from t;
fetch first 10 from c
`
	want := []string{
		"CREATE TABLE t (a)",
		"INSERT INTO t VALUES (1)",
		"SELECT * FROM t",
		"FETCH FIRST 10 FROM c",
	}

	p := parser.NewParser(strings.NewReader(src), "src")
	for i, w := range want {
		st, err := p.Parse()
		if err != nil {
			t.Fatalf("Parse()[%d] failed with %s", i, err)
		}
		if st.String() != w {
			t.Errorf("Parse()[%d] got %s want %s", i, st, w)
		}
	}
	_, err := p.Parse()
	if err != io.EOF {
		t.Errorf("Parse() got %v want %s", err, io.EOF)
	}
}

func TestRoundTrip(t *testing.T) {
	for i, s := range []string{
		"SELECT a, b AS c FROM t LIMIT 3",
		"SELECT 1, 2.5, 'x', NULL, false",
		`CREATE TABLE "Mixed" (a, "select")`,
		"SET resultset.cache.size = '100'",
		"DECLARE c CURSOR FOR SHOW TABLE STATS t",
		"FETCH FIRST 10 FROM c",
	} {
		st, err := parser.Parse(s)
		if err != nil {
			t.Errorf("Parse(%q) failed with %s", s, err)
			continue
		}
		if st.String() != s {
			t.Errorf("round trip[%d]: Parse(%q).String() got %s", i, s, st)
		}
	}
}

func TestParseRecover(t *testing.T) {
	src := "select from t; fetch c; create table (a); show tables"
	want := []string{"", "FETCH NEXT FROM c", "", "SHOW TABLES"}

	p := parser.NewParser(strings.NewReader(src), "src")
	for i, w := range want {
		st, err := p.Parse()
		if w == "" {
			if err == nil {
				t.Errorf("Parse()[%d] did not fail", i)
			} else if !errors.Is(err, parser.ErrSyntax) {
				t.Errorf("Parse()[%d] got %s want %s", i, err, parser.ErrSyntax)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Parse()[%d] failed with %s", i, err)
		}
		if st.String() != w {
			t.Errorf("Parse()[%d] got %s want %s", i, st, w)
		}
	}
	_, err := p.Parse()
	if err != io.EOF {
		t.Errorf("Parse() got %v want %s", err, io.EOF)
	}
}
