// Package parser parses the statements understood by the server.
package parser

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/leftmike/rowcache/operation"
	"github.com/leftmike/rowcache/parser/scanner"
	"github.com/leftmike/rowcache/parser/token"
	"github.com/leftmike/rowcache/sql"
	"github.com/leftmike/rowcache/stmt"
)

// ErrSyntax marks every error returned by Parse other than io.EOF.
var ErrSyntax = errors.New("parser: syntax error")

type Parser interface {
	// Parse returns the next statement or io.EOF once there are none.
	Parse() (stmt.Stmt, error)
}

type parser struct {
	scanner   scanner.Scanner
	sctx      scanner.ScanCtx
	unscanned bool
}

func NewParser(rr io.RuneReader, fn string) Parser {
	var p parser
	p.scanner.Init(rr, fn)
	return &p
}

// Parse parses s, which must contain exactly one statement.
func Parse(s string) (stmt.Stmt, error) {
	p := NewParser(strings.NewReader(s), "")
	st, err := p.Parse()
	if err == io.EOF {
		return nil, errors.Mark(errors.New("parser: empty statement"), ErrSyntax)
	} else if err != nil {
		return nil, err
	}
	_, err = p.Parse()
	if err != io.EOF {
		if err == nil {
			err = errors.Mark(errors.New("parser: expected exactly one statement"), ErrSyntax)
		}
		return nil, err
	}
	return st, nil
}

func (p *parser) Parse() (st stmt.Stmt, err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(runtime.Error); ok {
				panic(r)
			}
			err = r.(error)
			st = nil
			p.skipStatement()
		}
	}()

	for {
		t := p.scan()
		if t == token.EOF {
			return nil, io.EOF
		} else if t != token.EndOfStatement {
			break
		}
	}
	p.unscan()

	st = p.parseStmt()
	p.expectEndOfStatement()
	return st, nil
}

// skipStatement discards the rest of a statement which failed to parse.
func (p *parser) skipStatement() {
	p.unscanned = false
	var errs int
	for p.sctx.Token != token.EndOfStatement && p.sctx.Token != token.EOF {
		p.scanner.Scan(&p.sctx)
		if p.sctx.Token != token.Error {
			errs = 0
		} else if errs += 1; errs > 1 {
			// The reader keeps failing.
			break
		}
	}
}

func (p *parser) error(msg string) {
	panic(errors.Mark(errors.Newf("parser: %s: %s", p.sctx.Position, msg), ErrSyntax))
}

func (p *parser) scan() rune {
	if p.unscanned {
		p.unscanned = false
		return p.sctx.Token
	}

	p.scanner.Scan(&p.sctx)
	if p.sctx.Token == token.Error {
		p.error(p.sctx.Error.Error())
	}
	return p.sctx.Token
}

func (p *parser) unscan() {
	p.unscanned = true
}

func (p *parser) got() string {
	switch p.sctx.Token {
	case token.EOF:
		return "end of statement"
	case token.EndOfStatement:
		return "';'"
	case token.Identifier:
		return fmt.Sprintf("identifier %s", p.sctx.Identifier)
	case token.Reserved:
		return fmt.Sprintf("keyword %s", p.sctx.Identifier)
	case token.String:
		return fmt.Sprintf("string %q", p.sctx.String)
	case token.Integer:
		return fmt.Sprintf("integer %d", p.sctx.Integer)
	case token.Float:
		return fmt.Sprintf("float %g", p.sctx.Float)
	}
	return fmt.Sprintf("'%c'", p.sctx.Token)
}

func oneOf(items []string) string {
	if len(items) == 1 {
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + ", or " + items[len(items)-1]
}

func (p *parser) expectReserved(kws ...string) string {
	if p.scan() == token.Reserved {
		for _, kw := range kws {
			if kw == p.sctx.Identifier {
				return kw
			}
		}
	}

	p.error(fmt.Sprintf("expected keyword %s got %s", oneOf(kws), p.got()))
	return ""
}

func (p *parser) optionalReserved(kws ...string) string {
	if p.scan() == token.Reserved {
		for _, kw := range kws {
			if kw == p.sctx.Identifier {
				return kw
			}
		}
	}

	p.unscan()
	return ""
}

func (p *parser) expectIdentifier(msg string) string {
	if p.scan() != token.Identifier {
		p.error(fmt.Sprintf("%s got %s", msg, p.got()))
	}
	return p.sctx.Identifier
}

func (p *parser) expectTokens(tokens ...rune) rune {
	t := p.scan()
	for _, r := range tokens {
		if t == r {
			return r
		}
	}

	var items []string
	for _, r := range tokens {
		items = append(items, token.Format(r))
	}
	p.error(fmt.Sprintf("expected %s got %s", oneOf(items), p.got()))
	return 0
}

func (p *parser) maybeToken(mr rune) bool {
	if p.scan() == mr {
		return true
	}
	p.unscan()
	return false
}

func (p *parser) expectInteger(min, max int64) int64 {
	if p.scan() != token.Integer || p.sctx.Integer < min || p.sctx.Integer > max {
		p.error(fmt.Sprintf("expected a number between %d and %d inclusive got %s", min, max,
			p.got()))
	}
	return p.sctx.Integer
}

func (p *parser) expectEndOfStatement() {
	t := p.scan()
	if t != token.EOF && t != token.EndOfStatement {
		p.error(fmt.Sprintf("expected the end of the statement got %s", p.got()))
	}
}

func (p *parser) parseStmt() stmt.Stmt {
	switch p.expectReserved("CLOSE", "CREATE", "DECLARE", "DROP", "FETCH", "INSERT", "RESET",
		"SELECT", "SET", "SHOW") {
	case "CLOSE":
		// CLOSE { cursor | ALL }
		if p.optionalReserved("ALL") != "" {
			return &stmt.Close{All: true}
		}
		return &stmt.Close{Cursor: p.expectIdentifier("expected a cursor")}
	case "CREATE":
		// CREATE TABLE table ( column [, ...] )
		p.expectReserved("TABLE")
		return p.parseCreateTable()
	case "DECLARE":
		// DECLARE cursor CURSOR FOR statement
		var s stmt.Declare
		s.Cursor = p.expectIdentifier("expected a cursor")
		p.expectReserved("CURSOR")
		p.expectReserved("FOR")
		s.Stmt = p.parseDeclared()
		return &s
	case "DROP":
		// DROP TABLE table [, ...]
		p.expectReserved("TABLE")
		return p.parseDropTable()
	case "FETCH":
		return p.parseFetch()
	case "INSERT":
		// INSERT INTO table VALUES ( value [, ...] ) [, ...]
		p.expectReserved("INTO")
		return p.parseInsert()
	case "RESET":
		// RESET { option | ALL }
		if p.optionalReserved("ALL") != "" {
			return &stmt.Reset{All: true}
		}
		return &stmt.Reset{Option: p.parseOption()}
	case "SELECT":
		return p.parseSelect()
	case "SET":
		// SET option { = | TO } value
		var s stmt.Set
		s.Option = p.parseOption()
		if p.optionalReserved("TO") == "" {
			p.expectTokens(token.Equal)
		}
		s.Value = p.parseOptionValue()
		return &s
	case "SHOW":
		return p.parseShow()
	}
	return nil
}

func (p *parser) parseDeclared() stmt.Stmt {
	switch p.expectReserved("SELECT", "SHOW") {
	case "SELECT":
		return p.parseSelect()
	case "SHOW":
		s := p.parseShow()
		switch s.(type) {
		case *stmt.Show:
			p.error("expected a statement with results")
		}
		return s
	}
	return nil
}

func (p *parser) parseCreateTable() stmt.Stmt {
	var s stmt.CreateTable
	s.Table = p.expectIdentifier("expected a table")
	p.expectTokens(token.LParen)
	for {
		s.Columns = append(s.Columns, p.expectIdentifier("expected a column"))
		if p.expectTokens(token.Comma, token.RParen) == token.RParen {
			break
		}
	}
	return &s
}

func (p *parser) parseDropTable() stmt.Stmt {
	var s stmt.DropTable
	for {
		s.Tables = append(s.Tables, p.expectIdentifier("expected a table"))
		if !p.maybeToken(token.Comma) {
			break
		}
	}
	return &s
}

func (p *parser) parseFetch() stmt.Stmt {
	// FETCH [ NEXT | FIRST ] [ count ] [ FROM | IN ] cursor
	var s stmt.Fetch
	if p.optionalReserved("FIRST") != "" {
		s.Orientation = operation.FetchFirst
	} else {
		p.optionalReserved("NEXT")
	}
	if p.scan() == token.Integer {
		p.unscan()
		s.Count = p.expectInteger(0, 1<<31-1)
	} else {
		p.unscan()
	}
	p.optionalReserved("FROM", "IN")
	s.Cursor = p.expectIdentifier("expected a cursor")
	return &s
}

func (p *parser) parseValue() sql.Value {
	switch p.scan() {
	case token.String:
		return sql.StringValue(p.sctx.String)
	case token.Integer:
		return sql.Int64Value(p.sctx.Integer)
	case token.Float:
		return sql.Float64Value(p.sctx.Float)
	case token.Reserved:
		switch p.sctx.Identifier {
		case "TRUE":
			return sql.BoolValue(true)
		case "FALSE":
			return sql.BoolValue(false)
		case "NULL":
			return nil
		}
	}

	p.error(fmt.Sprintf("expected a value got %s", p.got()))
	return nil
}

func (p *parser) parseInsert() stmt.Stmt {
	var s stmt.InsertValues
	s.Table = p.expectIdentifier("expected a table")
	p.expectReserved("VALUES")

	for {
		var row sql.Row
		p.expectTokens(token.LParen)
		for {
			row = append(row, p.parseValue())
			if p.expectTokens(token.Comma, token.RParen) == token.RParen {
				break
			}
		}
		s.Rows = append(s.Rows, row)

		if !p.maybeToken(token.Comma) {
			break
		}
	}
	return &s
}

func (p *parser) parseSelect() stmt.Stmt {
	// SELECT { * | column [ AS alias ] [, ...] } FROM table [ LIMIT count ]
	// SELECT value [ AS alias ] [, ...]
	s := stmt.Select{
		Limit: -1,
	}

	star := p.maybeToken(token.Star)
	if !star {
		for {
			var sr stmt.SelectResult
			if p.scan() == token.Identifier {
				sr.Column = p.sctx.Identifier
			} else {
				p.unscan()
				sr.Value = p.parseValue()
			}
			if p.optionalReserved("AS") != "" {
				sr.Alias = p.expectIdentifier("expected an alias")
			}
			s.Results = append(s.Results, sr)

			if !p.maybeToken(token.Comma) {
				break
			}
		}
	}

	if p.optionalReserved("FROM") != "" {
		s.Table = p.expectIdentifier("expected a table")
		for _, sr := range s.Results {
			if sr.Column == "" {
				p.error(fmt.Sprintf("expected a column of %s got %s", s.Table, sr))
			}
		}
		if p.optionalReserved("LIMIT") != "" {
			s.Limit = p.expectInteger(0, 1<<62)
		}
	} else if star {
		p.error("expected FROM with *")
	} else {
		for _, sr := range s.Results {
			if sr.Column != "" {
				p.error(fmt.Sprintf("expected a value got %s", sr))
			}
		}
	}

	return &s
}

func (p *parser) parseShow() stmt.Stmt {
	// SHOW TABLES
	// SHOW COLUMNS FROM table
	// SHOW TABLE STATS table
	// SHOW { option | ALL }
	switch p.optionalReserved("ALL", "COLUMNS", "TABLE", "TABLES") {
	case "ALL":
		return &stmt.Show{All: true}
	case "COLUMNS":
		p.expectReserved("FROM", "IN")
		return &stmt.ShowColumns{Table: p.expectIdentifier("expected a table")}
	case "TABLE":
		p.expectReserved("STATS")
		return &stmt.ShowTableStats{Table: p.expectIdentifier("expected a table")}
	case "TABLES":
		return &stmt.ShowTables{}
	}
	return &stmt.Show{Option: p.parseOption()}
}

func (p *parser) parseOption() string {
	opt := p.expectIdentifier("expected an option")
	for p.maybeToken(token.Dot) {
		opt += "." + p.expectIdentifier("expected an option")
	}
	return opt
}

func (p *parser) parseOptionValue() string {
	switch p.scan() {
	case token.String:
		return p.sctx.String
	case token.Integer, token.Float:
		return p.sctx.String
	case token.Identifier:
		return p.sctx.Identifier
	case token.Reserved:
		return strings.ToLower(p.sctx.Identifier)
	}

	p.error(fmt.Sprintf("expected a value got %s", p.got()))
	return ""
}
