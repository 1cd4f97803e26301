package stmt

import (
	"fmt"

	"github.com/leftmike/rowcache/operation"
)

type Declare struct {
	Cursor string
	Stmt   Stmt
}

func (stmt *Declare) String() string {
	return fmt.Sprintf("DECLARE %s CURSOR FOR %s", FormatID(stmt.Cursor), stmt.Stmt)
}

// Fetch with a Count of zero fetches the default number of rows.
type Fetch struct {
	Orientation operation.Orientation
	Count       int64
	Cursor      string
}

func (stmt *Fetch) String() string {
	s := fmt.Sprintf("FETCH %s", stmt.Orientation)
	if stmt.Count > 0 {
		s += fmt.Sprintf(" %d", stmt.Count)
	}
	return s + " FROM " + FormatID(stmt.Cursor)
}

type Close struct {
	Cursor string
	All    bool
}

func (stmt *Close) String() string {
	if stmt.All {
		return "CLOSE ALL"
	}
	return fmt.Sprintf("CLOSE %s", FormatID(stmt.Cursor))
}
