// Package engine stores tables in a key value store and turns statements into
// operations the server can run.
//
// Keys:
//
//	t/<table>               encoded column names
//	n/<table>               next row id
//	r/<table>\x00<row id>   encoded row; row ids are big endian
package engine

import (
	"bytes"
	"context"
	"io"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/rowcache/encode"
	"github.com/leftmike/rowcache/operation"
	"github.com/leftmike/rowcache/sql"
	"github.com/leftmike/rowcache/stmt"
	"github.com/leftmike/rowcache/storage/kv"
)

var (
	ErrTableExists = errors.New("engine: table already exists")
	ErrNoTable     = errors.New("engine: table not found")
	ErrColumn      = errors.New("engine: bad column")
	ErrUnsupported = errors.New("engine: statement not supported")
)

type Engine struct {
	st      kv.KV
	backlog int
}

func New(st kv.KV, backlog int) *Engine {
	return &Engine{
		st:      st,
		backlog: backlog,
	}
}

func (e *Engine) Close() error {
	return e.st.Close()
}

func tableKey(tbl string) []byte {
	return []byte("t/" + tbl)
}

func nextKey(tbl string) []byte {
	return []byte("n/" + tbl)
}

func rowPrefix(tbl string) []byte {
	return []byte("r/" + tbl + "\x00")
}

func rowKey(tbl string, id uint64) []byte {
	return encode.EncodeUint64(rowPrefix(tbl), id)
}

type getter interface {
	Get(key []byte, fn func(val []byte) error) error
}

func tableColumns(g getter, tbl string) ([]string, error) {
	var cols []string
	err := g.Get(tableKey(tbl),
		func(val []byte) error {
			row, ok := encode.DecodeRow(val)
			if !ok {
				return errors.Newf("engine: %s: corrupt table definition", tbl)
			}
			for _, v := range row {
				s, ok := v.(sql.StringValue)
				if !ok {
					return errors.Newf("engine: %s: corrupt table definition", tbl)
				}
				cols = append(cols, string(s))
			}
			return nil
		})
	if err == io.EOF {
		return nil, errors.Wrapf(ErrNoTable, "%s", tbl)
	}
	return cols, err
}

type iterater interface {
	Iterate(key []byte) (kv.Iterator, error)
}

// scanPrefix calls fn for each item with a key starting with prefix.
func scanPrefix(it iterater, prefix []byte, fn func(key, val []byte) error) error {
	iter, err := it.Iterate(prefix)
	if err != nil {
		return err
	}
	defer iter.Close()

	for {
		err = iter.Item(
			func(key, val []byte) error {
				if !bytes.HasPrefix(key, prefix) {
					return io.EOF
				}
				return fn(key, val)
			})
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
	}
}

func (e *Engine) update(fn func(upd kv.Updater) error) error {
	upd, err := e.st.Update()
	if err != nil {
		return err
	}
	err = fn(upd)
	if err != nil {
		upd.Rollback()
		return err
	}
	return upd.Commit()
}

// Plan returns the statement for st. Statements are checked against the
// tables when they are started, not when they are planned.
func (e *Engine) Plan(st stmt.Stmt) (operation.Statement, error) {
	switch st := st.(type) {
	case *stmt.CreateTable:
		return &createTable{e: e, stmt: st}, nil
	case *stmt.DropTable:
		return &dropTable{e: e, stmt: st}, nil
	case *stmt.InsertValues:
		return &insertValues{e: e, stmt: st}, nil
	case *stmt.Select:
		if st.Table == "" {
			return &selectValues{stmt: st}, nil
		}
		return &selectTable{e: e, stmt: st}, nil
	case *stmt.ShowTables:
		return &showTables{e: e}, nil
	case *stmt.ShowColumns:
		return &showColumns{e: e, table: st.Table}, nil
	case *stmt.ShowTableStats:
		return &showTableStats{e: e, table: st.Table}, nil
	}
	return nil, errors.Wrapf(ErrUnsupported, "%s", st)
}

func logEntry(ctx context.Context) *log.Entry {
	return log.WithContext(ctx)
}
