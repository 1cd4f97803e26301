package stmt

import (
	"fmt"
)

type DropTable struct {
	Tables []string
}

func (stmt *DropTable) String() string {
	return fmt.Sprintf("DROP TABLE %s", formatIDs(stmt.Tables))
}
