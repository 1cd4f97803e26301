package token

import (
	"fmt"
	"strings"
)

const (
	EOF = -(iota + 1)
	EndOfStatement
	Error
	Identifier
	Reserved
	String
	Integer
	Float
)

const (
	Comma  = ','
	Dot    = '.'
	LParen = '('
	RParen = ')'
	Star   = '*'
	Equal  = '='
	Minus  = '-'
	Plus   = '+'
)

// Keywords are scanned as Reserved rather than Identifier; they are upper
// case.
var Keywords = map[string]struct{}{}

func init() {
	for _, kw := range []string{
		"ALL", "AS", "CLOSE", "COLUMNS", "CREATE", "CURSOR", "DECLARE", "DROP", "FALSE", "FETCH",
		"FIRST", "FOR", "FROM", "IN", "INSERT", "INTO", "LIMIT", "NEXT", "NULL", "RESET",
		"SELECT", "SET", "SHOW", "STATS", "TABLE", "TABLES", "TO", "TRUE", "VALUES",
	} {
		Keywords[kw] = struct{}{}
	}
}

func IsKeyword(s string) bool {
	_, ok := Keywords[strings.ToUpper(s)]
	return ok
}

func Format(r rune) string {
	switch r {
	case EOF:
		return "end of statement"
	case EndOfStatement:
		return "';'"
	case Identifier:
		return "identifier"
	case Reserved:
		return "keyword"
	case String:
		return "string"
	case Integer:
		return "integer"
	case Float:
		return "float"
	}
	if r > 0 {
		return fmt.Sprintf("'%c'", r)
	}
	return fmt.Sprintf("token %d", r)
}
