package stmt

import (
	"fmt"
	"strings"

	"github.com/leftmike/rowcache/sql"
)

// SelectResult is a column of Table, or a constant when there is no Table.
type SelectResult struct {
	Column string
	Value  sql.Value
	Alias  string
}

func (sr SelectResult) String() string {
	var s string
	if sr.Column != "" {
		s = FormatID(sr.Column)
	} else {
		s = sql.Format(sr.Value)
	}
	if sr.Alias != "" {
		s += " AS " + FormatID(sr.Alias)
	}
	return s
}

// Select without Results selects every column of Table. Limit is -1 when
// there is no LIMIT clause.
type Select struct {
	Results []SelectResult
	Table   string
	Limit   int64
}

func (stmt *Select) String() string {
	s := "SELECT "
	if stmt.Results == nil {
		s += "*"
	} else {
		results := make([]string, 0, len(stmt.Results))
		for _, sr := range stmt.Results {
			results = append(results, sr.String())
		}
		s += strings.Join(results, ", ")
	}
	if stmt.Table != "" {
		s += fmt.Sprintf(" FROM %s", FormatID(stmt.Table))
	}
	if stmt.Limit >= 0 {
		s += fmt.Sprintf(" LIMIT %d", stmt.Limit)
	}
	return s
}
