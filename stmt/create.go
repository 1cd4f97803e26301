package stmt

import (
	"fmt"
)

type CreateTable struct {
	Table   string
	Columns []string
}

func (stmt *CreateTable) String() string {
	return fmt.Sprintf("CREATE TABLE %s (%s)", FormatID(stmt.Table), formatIDs(stmt.Columns))
}
