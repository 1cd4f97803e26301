// Package stmt holds parsed statements.
package stmt

import (
	"fmt"
	"strings"

	"github.com/leftmike/rowcache/parser/token"
)

type Stmt interface {
	fmt.Stringer
}

// FormatID quotes id if it would not scan back as the same identifier.
func FormatID(id string) string {
	if id == "" || token.IsKeyword(id) || strings.ToLower(id) != id {
		return fmt.Sprintf("%q", id)
	}
	for idx, r := range id {
		if !(r >= 'a' && r <= 'z') && r != '_' && (idx == 0 || !(r >= '0' && r <= '9')) {
			return fmt.Sprintf("%q", id)
		}
	}
	return id
}

func formatIDs(ids []string) string {
	s := make([]string, 0, len(ids))
	for _, id := range ids {
		s = append(s, FormatID(id))
	}
	return strings.Join(s, ", ")
}
