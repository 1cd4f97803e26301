package resultcache

import (
	"fmt"

	"github.com/leftmike/rowcache/encode"
	"github.com/leftmike/rowcache/sql"
)

// Buffer is an append only sequence of serialized rows. The size of a row is
// the length of its encoding.
type Buffer struct {
	rows  [][]byte
	bytes int64
}

func SizeOf(row sql.Row) int64 {
	return int64(len(encode.EncodeRow(nil, row)))
}

func (buf *Buffer) Append(rows ...sql.Row) {
	for _, row := range rows {
		b := encode.EncodeRow(nil, row)
		buf.rows = append(buf.rows, b)
		buf.bytes += int64(len(b))
	}
}

func (buf *Buffer) Len() int {
	return len(buf.rows)
}

func (buf *Buffer) Bytes() int64 {
	return buf.bytes
}

// Rows returns up to n rows starting at off.
func (buf *Buffer) Rows(off, n int) []sql.Row {
	if off >= len(buf.rows) || n <= 0 {
		return nil
	}
	if off+n > len(buf.rows) {
		n = len(buf.rows) - off
	}

	rows := make([]sql.Row, 0, n)
	for _, b := range buf.rows[off : off+n] {
		row, ok := encode.DecodeRow(b)
		if !ok {
			panic(fmt.Sprintf("resultcache: corrupt row at %d", off+len(rows)))
		}
		rows = append(rows, row)
	}
	return rows
}

func (buf *Buffer) Reset() {
	buf.rows = nil
	buf.bytes = 0
}
