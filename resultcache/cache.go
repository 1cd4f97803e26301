// Package resultcache retains the rows already returned by an operation so
// that a client can restart fetching from the first row.
package resultcache

import (
	"github.com/leftmike/rowcache/sql"
)

// Cache is a Buffer bounded by a maximum number of rows. Once an append would
// go past the limit the cache is exceeded for good: nothing more is admitted,
// but the rows already admitted stay in the buffer.
type Cache struct {
	buf      Buffer
	limit    int
	exceeded bool
}

func New(limit int) *Cache {
	return &Cache{
		limit: limit,
	}
}

// Append admits all of rows or, if that would put the cache over its limit,
// none of them and marks the cache as exceeded. It returns whether the rows
// were admitted.
func (c *Cache) Append(rows ...sql.Row) bool {
	if c.exceeded {
		return false
	}
	if c.buf.Len()+len(rows) > c.limit {
		c.exceeded = true
		return false
	}
	c.buf.Append(rows...)
	return true
}

func (c *Cache) Rows(off, n int) []sql.Row {
	return c.buf.Rows(off, n)
}

func (c *Cache) Len() int {
	return c.buf.Len()
}

func (c *Cache) Bytes() int64 {
	return c.buf.Bytes()
}

func (c *Cache) Limit() int {
	return c.limit
}

func (c *Cache) Exceeded() bool {
	return c.exceeded
}

// Release drops the retained rows; used when the owning operation is closed.
func (c *Cache) Release() {
	c.buf.Reset()
}
