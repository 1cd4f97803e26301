package engine

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/leftmike/rowcache/encode"
	"github.com/leftmike/rowcache/operation"
	"github.com/leftmike/rowcache/producer"
	"github.com/leftmike/rowcache/sql"
)

type showTables struct {
	e *Engine
}

func (*showTables) Kind() operation.Kind {
	return operation.NonQueryWithResults
}

func (st *showTables) Start(ctx context.Context) (producer.Producer, error) {
	var rows []sql.Row
	err := scanPrefix(st.e.st, []byte("t/"),
		func(key, val []byte) error {
			rows = append(rows, sql.Row{sql.StringValue(key[2:])})
			return nil
		})
	if err != nil {
		return nil, err
	}
	return producer.NewMaterialized([]string{"table"}, rows), nil
}

func (*showTables) Tag() string {
	return "SHOW"
}

type showColumns struct {
	e     *Engine
	table string
}

func (*showColumns) Kind() operation.Kind {
	return operation.NonQueryWithResults
}

func (sc *showColumns) Start(ctx context.Context) (producer.Producer, error) {
	cols, err := tableColumns(sc.e.st, sc.table)
	if err != nil {
		return nil, err
	}

	rows := make([]sql.Row, 0, len(cols))
	for num, col := range cols {
		rows = append(rows, sql.Row{sql.StringValue(col), sql.Int64Value(num + 1)})
	}
	return producer.NewMaterialized([]string{"column", "position"}, rows), nil
}

func (*showColumns) Tag() string {
	return "SHOW"
}

type showTableStats struct {
	e     *Engine
	table string
}

func (*showTableStats) Kind() operation.Kind {
	return operation.NonQueryWithResults
}

// Start scans the table counting the values, NULLs and bytes of each column.
func (sts *showTableStats) Start(ctx context.Context) (producer.Producer, error) {
	cols, err := tableColumns(sts.e.st, sts.table)
	if err != nil {
		return nil, err
	}

	values := make([]int64, len(cols))
	nulls := make([]int64, len(cols))
	bytes := make([]int64, len(cols))
	err = scanPrefix(sts.e.st, rowPrefix(sts.table),
		func(key, val []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			row, ok := encode.DecodeRow(val)
			if !ok {
				return errors.Newf("engine: %s: corrupt row", sts.table)
			}
			for cdx := range cols {
				if cdx >= len(row) || row[cdx] == nil {
					nulls[cdx] += 1
				} else {
					values[cdx] += 1
					bytes[cdx] += int64(len(sql.Text(row[cdx])))
				}
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	rows := make([]sql.Row, 0, len(cols))
	for cdx, col := range cols {
		rows = append(rows,
			sql.Row{
				sql.StringValue(col),
				sql.Int64Value(values[cdx]),
				sql.Int64Value(nulls[cdx]),
				sql.Int64Value(bytes[cdx]),
			})
	}
	return producer.NewMaterialized([]string{"column", "values", "nulls", "bytes"}, rows), nil
}

func (*showTableStats) Tag() string {
	return "SHOW"
}
