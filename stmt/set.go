package stmt

import (
	"fmt"
	"strings"
)

// Set changes a query option of the session. Option names are dotted and lower
// case.
type Set struct {
	Option string
	Value  string
}

func (stmt *Set) String() string {
	return fmt.Sprintf("SET %s = '%s'", stmt.Option, strings.ReplaceAll(stmt.Value, "'", "''"))
}

type Reset struct {
	Option string
	All    bool
}

func (stmt *Reset) String() string {
	if stmt.All {
		return "RESET ALL"
	}
	return fmt.Sprintf("RESET %s", stmt.Option)
}

type Show struct {
	Option string
	All    bool
}

func (stmt *Show) String() string {
	if stmt.All {
		return "SHOW ALL"
	}
	return fmt.Sprintf("SHOW %s", stmt.Option)
}
