package sql_test

import (
	"testing"

	"github.com/leftmike/rowcache/sql"
)

func TestCompare(t *testing.T) {
	cases := []struct {
		v1, v2 sql.Value
		cmp    int
		fail   bool
	}{
		{v1: sql.BoolValue(true), v2: sql.BoolValue(true), cmp: 0},
		{v1: sql.BoolValue(false), v2: sql.BoolValue(true), cmp: -1},
		{v1: sql.BoolValue(true), v2: sql.BoolValue(false), cmp: 1},
		{v1: sql.BoolValue(false), v2: sql.Float64Value(1.23), fail: true},

		{v1: sql.Float64Value(1.23), v2: sql.Int64Value(123), cmp: -1},
		{v1: sql.Float64Value(1.23), v2: sql.Float64Value(1.23), cmp: 0},
		{v1: sql.Float64Value(1.23), v2: sql.Float64Value(0.12), cmp: 1},
		{v1: sql.Float64Value(1.23), v2: sql.StringValue("abc"), fail: true},

		{v1: sql.Int64Value(123), v2: sql.Float64Value(1.23), cmp: 1},
		{v1: sql.Int64Value(123), v2: sql.Int64Value(234), cmp: -1},
		{v1: sql.Int64Value(123), v2: sql.Int64Value(123), cmp: 0},

		{v1: sql.StringValue("def"), v2: sql.StringValue("ghi"), cmp: -1},
		{v1: sql.StringValue("def"), v2: sql.StringValue("def"), cmp: 0},
		{v1: sql.StringValue("def"), v2: sql.Int64Value(1), fail: true},

		{v1: sql.BytesValue{1, 2}, v2: sql.BytesValue{1, 3}, cmp: -1},
	}

	for _, c := range cases {
		cmp, err := c.v1.Compare(c.v2)
		if c.fail {
			if err == nil {
				t.Errorf("Compare(%v, %v) did not fail", c.v1, c.v2)
			}
		} else if err != nil {
			t.Errorf("Compare(%v, %v) failed with %s", c.v1, c.v2, err)
		} else if cmp != c.cmp {
			t.Errorf("Compare(%v, %v) got %d want %d", c.v1, c.v2, cmp, c.cmp)
		}
	}
}

func TestText(t *testing.T) {
	cases := []struct {
		v    sql.Value
		s    string
		null bool
	}{
		{v: nil, null: true},
		{v: sql.BoolValue(true), s: "true"},
		{v: sql.Int64Value(-12), s: "-12"},
		{v: sql.Float64Value(1.5), s: "1.5"},
		{v: sql.StringValue("abc"), s: "abc"},
		{v: sql.BytesValue{0xab, 0x01}, s: "\\xab01"},
	}

	for _, c := range cases {
		b := sql.Text(c.v)
		if c.null {
			if b != nil {
				t.Errorf("Text(%v) got %q want nil", c.v, b)
			}
		} else if string(b) != c.s {
			t.Errorf("Text(%v) got %q want %q", c.v, b, c.s)
		}
	}
}

func TestRowEqual(t *testing.T) {
	r1 := sql.Row{sql.Int64Value(1), nil, sql.StringValue("a")}
	if !r1.Equal(sql.Row{sql.Int64Value(1), nil, sql.StringValue("a")}) {
		t.Errorf("%v.Equal() got false want true", r1)
	}
	if r1.Equal(sql.Row{sql.Int64Value(1), sql.Int64Value(2), sql.StringValue("a")}) {
		t.Errorf("%v.Equal() got true want false", r1)
	}
	if r1.Equal(sql.Row{sql.Int64Value(1)}) {
		t.Errorf("%v.Equal() got true want false", r1)
	}
}
