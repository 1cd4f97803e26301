package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/leftmike/rowcache/encode"
	"github.com/leftmike/rowcache/operation"
	"github.com/leftmike/rowcache/producer"
	"github.com/leftmike/rowcache/sql"
	"github.com/leftmike/rowcache/stmt"
	"github.com/leftmike/rowcache/storage/kv"
)

type createTable struct {
	e    *Engine
	stmt *stmt.CreateTable
}

func (*createTable) Kind() operation.Kind {
	return operation.NonQueryNoResults
}

func (ct *createTable) Start(ctx context.Context) (producer.Producer, error) {
	seen := map[string]struct{}{}
	row := make(sql.Row, 0, len(ct.stmt.Columns))
	for _, col := range ct.stmt.Columns {
		if _, ok := seen[col]; ok {
			return nil, errors.Wrapf(ErrColumn, "%s: duplicate column %s", ct.stmt.Table, col)
		}
		seen[col] = struct{}{}
		row = append(row, sql.StringValue(col))
	}

	err := ct.e.update(
		func(upd kv.Updater) error {
			_, err := tableColumns(upd, ct.stmt.Table)
			if err == nil {
				return errors.Wrapf(ErrTableExists, "%s", ct.stmt.Table)
			} else if !errors.Is(err, ErrNoTable) {
				return err
			}

			err = upd.Set(tableKey(ct.stmt.Table), encode.EncodeRow(nil, row))
			if err != nil {
				return err
			}
			return upd.Set(nextKey(ct.stmt.Table), encode.EncodeUint64(nil, 1))
		})
	if err != nil {
		return nil, err
	}

	logEntry(ctx).WithField("table", ct.stmt.Table).Debug("create table")
	return nil, nil
}

func (*createTable) Tag() string {
	return "CREATE TABLE"
}

type dropTable struct {
	e    *Engine
	stmt *stmt.DropTable
}

func (*dropTable) Kind() operation.Kind {
	return operation.NonQueryNoResults
}

func (dt *dropTable) Start(ctx context.Context) (producer.Producer, error) {
	err := dt.e.update(
		func(upd kv.Updater) error {
			for _, tbl := range dt.stmt.Tables {
				_, err := tableColumns(upd, tbl)
				if err != nil {
					return err
				}

				var keys [][]byte
				err = scanPrefix(upd, rowPrefix(tbl),
					func(key, val []byte) error {
						keys = append(keys, append([]byte(nil), key...))
						return nil
					})
				if err != nil {
					return err
				}

				keys = append(keys, tableKey(tbl), nextKey(tbl))
				for _, key := range keys {
					err = upd.Delete(key)
					if err != nil {
						return err
					}
				}
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	logEntry(ctx).WithField("tables", dt.stmt.Tables).Debug("drop table")
	return nil, nil
}

func (*dropTable) Tag() string {
	return "DROP TABLE"
}

type insertValues struct {
	e    *Engine
	stmt *stmt.InsertValues
}

func (*insertValues) Kind() operation.Kind {
	return operation.NonQueryNoResults
}

func (iv *insertValues) Start(ctx context.Context) (producer.Producer, error) {
	tbl := iv.stmt.Table
	err := iv.e.update(
		func(upd kv.Updater) error {
			cols, err := tableColumns(upd, tbl)
			if err != nil {
				return err
			}

			var id uint64
			err = upd.Get(nextKey(tbl),
				func(val []byte) error {
					var ok bool
					_, id, ok = encode.DecodeUint64(val)
					if !ok {
						return errors.Newf("engine: %s: corrupt next row id", tbl)
					}
					return nil
				})
			if err == io.EOF {
				return errors.Newf("engine: %s: missing next row id", tbl)
			} else if err != nil {
				return err
			}

			for _, row := range iv.stmt.Rows {
				if len(row) != len(cols) {
					return errors.Wrapf(ErrColumn, "%s: expected %d values got %d", tbl,
						len(cols), len(row))
				}
				err = upd.Set(rowKey(tbl, id), encode.EncodeRow(nil, row))
				if err != nil {
					return err
				}
				id += 1
			}
			return upd.Set(nextKey(tbl), encode.EncodeUint64(nil, id))
		})
	return nil, err
}

func (iv *insertValues) Tag() string {
	return fmt.Sprintf("INSERT 0 %d", len(iv.stmt.Rows))
}
