package producer

import (
	"context"

	"github.com/leftmike/rowcache/sql"
)

// Materialized holds all of its rows from the start; they may be re-read at
// any offset with Slice.
type Materialized struct {
	cols  []string
	rows  []sql.Row
	index int
}

func NewMaterialized(cols []string, rows []sql.Row) *Materialized {
	return &Materialized{
		cols: cols,
		rows: rows,
	}
}

func (m *Materialized) Columns() []string {
	return m.cols
}

func (m *Materialized) Next(ctx context.Context, n int) ([]sql.Row, bool, error) {
	rows := m.Slice(m.index, n)
	m.index += len(rows)
	return rows, m.index == len(m.rows), nil
}

func (m *Materialized) Slice(off, n int) []sql.Row {
	if off >= len(m.rows) || n <= 0 {
		return nil
	}
	if off+n > len(m.rows) {
		n = len(m.rows) - off
	}
	return m.rows[off : off+n]
}

func (m *Materialized) Len() int {
	return len(m.rows)
}

func (m *Materialized) Produced() int {
	return m.index
}

func (m *Materialized) EOS() bool {
	return m.index == len(m.rows)
}

func (m *Materialized) Close() error {
	m.index = len(m.rows)
	return nil
}
