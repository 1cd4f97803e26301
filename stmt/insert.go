package stmt

import (
	"fmt"
	"strings"

	"github.com/leftmike/rowcache/sql"
)

type InsertValues struct {
	Table string
	Rows  []sql.Row
}

func (stmt *InsertValues) String() string {
	rows := make([]string, 0, len(stmt.Rows))
	for _, r := range stmt.Rows {
		vals := make([]string, 0, len(r))
		for _, v := range r {
			vals = append(vals, sql.Format(v))
		}
		rows = append(rows, fmt.Sprintf("(%s)", strings.Join(vals, ", ")))
	}
	return fmt.Sprintf("INSERT INTO %s VALUES %s", FormatID(stmt.Table), strings.Join(rows, ", "))
}
