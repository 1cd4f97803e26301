package stmt

import (
	"fmt"
)

type ShowTables struct{}

func (stmt *ShowTables) String() string {
	return "SHOW TABLES"
}

type ShowColumns struct {
	Table string
}

func (stmt *ShowColumns) String() string {
	return fmt.Sprintf("SHOW COLUMNS FROM %s", FormatID(stmt.Table))
}

type ShowTableStats struct {
	Table string
}

func (stmt *ShowTableStats) String() string {
	return fmt.Sprintf("SHOW TABLE STATS %s", FormatID(stmt.Table))
}
