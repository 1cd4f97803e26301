package engine

import (
	"bytes"
	"context"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/leftmike/rowcache/encode"
	"github.com/leftmike/rowcache/operation"
	"github.com/leftmike/rowcache/producer"
	"github.com/leftmike/rowcache/sql"
	"github.com/leftmike/rowcache/stmt"
	"github.com/leftmike/rowcache/storage/kv"
)

const unnamedColumn = "?column?"

type selectValues struct {
	stmt *stmt.Select
}

func (*selectValues) Kind() operation.Kind {
	return operation.Query
}

func (sv *selectValues) Start(ctx context.Context) (producer.Producer, error) {
	cols := make([]string, 0, len(sv.stmt.Results))
	row := make(sql.Row, 0, len(sv.stmt.Results))
	for _, sr := range sv.stmt.Results {
		if sr.Alias != "" {
			cols = append(cols, sr.Alias)
		} else {
			cols = append(cols, unnamedColumn)
		}
		row = append(row, sr.Value)
	}
	return producer.NewMaterialized(cols, []sql.Row{row}), nil
}

func (*selectValues) Tag() string {
	return "SELECT"
}

type selectTable struct {
	e    *Engine
	stmt *stmt.Select
}

func (*selectTable) Kind() operation.Kind {
	return operation.Query
}

func (st *selectTable) Start(ctx context.Context) (producer.Producer, error) {
	tbl := st.stmt.Table
	tcols, err := tableColumns(st.e.st, tbl)
	if err != nil {
		return nil, err
	}

	var cols []string
	var colIdx []int
	if st.stmt.Results == nil {
		cols = tcols
		for idx := range tcols {
			colIdx = append(colIdx, idx)
		}
	} else {
		for _, sr := range st.stmt.Results {
			idx := -1
			for tdx, tc := range tcols {
				if tc == sr.Column {
					idx = tdx
					break
				}
			}
			if idx < 0 {
				return nil, errors.Wrapf(ErrColumn, "%s: column %s not found", tbl, sr.Column)
			}

			if sr.Alias != "" {
				cols = append(cols, sr.Alias)
			} else {
				cols = append(cols, sr.Column)
			}
			colIdx = append(colIdx, idx)
		}
	}

	if st.stmt.Limit == 0 {
		return producer.NewMaterialized(cols, nil), nil
	}

	it, err := st.e.st.Iterate(rowPrefix(tbl))
	if err != nil {
		return nil, err
	}
	return producer.NewStreaming(
		&tableSource{
			it:     it,
			table:  tbl,
			prefix: rowPrefix(tbl),
			cols:   cols,
			colIdx: colIdx,
			limit:  st.stmt.Limit,
		}, st.e.backlog), nil
}

func (*selectTable) Tag() string {
	return "SELECT"
}

// tableSource reads the rows of a table from a kv iterator.
type tableSource struct {
	it     kv.Iterator
	table  string
	prefix []byte
	cols   []string
	colIdx []int
	limit  int64
	count  int64
}

func (ts *tableSource) Columns() []string {
	return ts.cols
}

func (ts *tableSource) Next(ctx context.Context, dest []sql.Value) error {
	if ts.limit >= 0 && ts.count >= ts.limit {
		return io.EOF
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := ts.it.Item(
		func(key, val []byte) error {
			if !bytes.HasPrefix(key, ts.prefix) {
				return io.EOF
			}
			row, ok := encode.DecodeRow(val)
			if !ok {
				return errors.Newf("engine: %s: corrupt row", ts.table)
			}
			for cdx, idx := range ts.colIdx {
				if idx < len(row) {
					dest[cdx] = row[idx]
				} else {
					dest[cdx] = nil
				}
			}
			return nil
		})
	if err != nil {
		return err
	}
	ts.count += 1
	return nil
}

func (ts *tableSource) Close() error {
	ts.it.Close()
	return nil
}
