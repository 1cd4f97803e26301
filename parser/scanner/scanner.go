package scanner

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/leftmike/rowcache/parser/token"
)

type Position struct {
	Filename string
	Line     int
	Column   int
}

func (pos Position) String() string {
	s := pos.Filename
	if pos.Line > 0 {
		s += fmt.Sprintf(":%d:%d", pos.Line, pos.Column)
	}
	return s
}

// ScanCtx is the result of a Scan. Identifier holds the upper case keyword
// for Reserved, the lower case name for an unquoted Identifier, and the name
// as given for a quoted one.
type ScanCtx struct {
	Token      rune
	Error      error
	Identifier string
	String     string
	Integer    int64
	Float      float64
	Position
}

type Scanner struct {
	initialized bool
	rr          io.RuneReader
	unread      bool
	read        rune
	filename    string
	line        int
	column      int
	buffer      bytes.Buffer
}

func (s *Scanner) Init(rr io.RuneReader, fn string) {
	if s.initialized {
		panic("scanner already initialized")
	}
	s.initialized = true

	s.rr = rr
	s.filename = fn
	s.line = 1
}

func (s *Scanner) Scan(sctx *ScanCtx) {
	s.buffer.Reset()
	sctx.Error = nil
	sctx.Filename = s.filename
	sctx.Token = s.scan(sctx)
}

func (s *Scanner) skipComment(sctx *ScanCtx, r rune) (bool, rune) {
	r2 := s.readRune(sctx)
	if r == '-' && r2 == '-' {
		for {
			r2 = s.readRune(sctx)
			if r2 < 0 {
				return true, r2
			} else if r2 == '\n' {
				return true, 0
			}
		}
	} else if r == '/' && r2 == '*' {
		var p rune
		for {
			r2 = s.readRune(sctx)
			if r2 < 0 {
				return true, r2
			} else if p == '*' && r2 == '/' {
				return true, 0
			}
			p = r2
		}
	}

	if r2 < 0 && r2 != token.EOF {
		return true, r2
	}
	s.unreadRune()
	return false, 0
}

func (s *Scanner) scan(sctx *ScanCtx) rune {
	var r rune
	for {
		r = s.readRune(sctx)
		if r < 0 {
			return r
		} else if unicode.IsSpace(r) {
			continue
		} else if r == '-' || r == '/' {
			if ok, r2 := s.skipComment(sctx, r); ok {
				if r2 < 0 {
					return r2
				}
				continue
			}
		}
		break
	}

	sctx.Line = s.line
	sctx.Column = s.column

	switch {
	case r == ';':
		return token.EndOfStatement
	case r == 'e' || r == 'E':
		if s.readRune(sctx) == '\'' {
			return s.scanString(sctx, true)
		}
		s.unreadRune()
		return s.scanIdentifier(sctx, r)
	case unicode.IsLetter(r) || r == '_':
		return s.scanIdentifier(sctx, r)
	case unicode.IsDigit(r):
		return s.scanNumber(sctx, r, 1)
	case r == '-' || r == '+':
		r2 := s.readRune(sctx)
		if unicode.IsDigit(r2) {
			if r == '-' {
				return s.scanNumber(sctx, r2, -1)
			}
			return s.scanNumber(sctx, r2, 1)
		}
		s.unreadRune()
		return r
	case r == '"':
		return s.scanQuotedIdentifier(sctx, r)
	case r == '\'':
		return s.scanString(sctx, false)
	case r == '.' || r == ',' || r == '(' || r == ')' || r == '*' || r == '=':
		return r
	}

	sctx.Error = fmt.Errorf("scanner: unexpected character '%c'", r)
	return token.Error
}

func (s *Scanner) readRune(sctx *ScanCtx) rune {
	if s.unread {
		s.unread = false
		return s.read
	}

	var err error
	s.read, _, err = s.rr.ReadRune()
	if err == io.EOF {
		s.read = token.EOF
		return token.EOF
	} else if err != nil {
		sctx.Error = err
		s.read = token.Error
		return token.Error
	}

	if s.read == '\n' {
		s.line += 1
		s.column = 0
	} else {
		s.column += 1
	}

	return s.read
}

func (s *Scanner) unreadRune() {
	s.unread = true
}

func (s *Scanner) scanIdentifier(sctx *ScanCtx, r rune) rune {
	for {
		s.buffer.WriteRune(r)
		r = s.readRune(sctx)
		if r == token.EOF {
			break
		} else if r == token.Error {
			return token.Error
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '$' {
			s.unreadRune()
			break
		}
	}

	if token.IsKeyword(s.buffer.String()) {
		sctx.Identifier = strings.ToUpper(s.buffer.String())
		return token.Reserved
	}
	sctx.Identifier = strings.ToLower(s.buffer.String())
	return token.Identifier
}

func (s *Scanner) scanNumber(sctx *ScanCtx, r rune, sign int64) rune {
	if sign < 0 {
		s.buffer.WriteRune('-')
	}

	dbl := false
	for {
		s.buffer.WriteRune(r)
		r = s.readRune(sctx)
		if r == token.EOF {
			break
		} else if r == token.Error {
			return token.Error
		}
		if !dbl && r == '.' {
			dbl = true
		} else if !unicode.IsDigit(r) {
			s.unreadRune()
			break
		}
	}

	var err error
	if dbl {
		sctx.Float, err = strconv.ParseFloat(s.buffer.String(), 64)
	} else {
		sctx.Integer, err = strconv.ParseInt(s.buffer.String(), 10, 64)
	}
	if err != nil {
		sctx.Error = fmt.Errorf("scanner: %s", err)
		return token.Error
	}
	sctx.String = s.buffer.String()
	if dbl {
		return token.Float
	}
	return token.Integer
}

func (s *Scanner) scanQuotedIdentifier(sctx *ScanCtx, delim rune) rune {
	for {
		r := s.readRune(sctx)
		if r == token.EOF {
			sctx.Error = fmt.Errorf("scanner: quoted identifier missing terminating '%c'", delim)
			return token.Error
		} else if r == token.Error {
			return token.Error
		} else if r == delim {
			break
		}
		s.buffer.WriteRune(r)
	}

	sctx.Identifier = s.buffer.String()
	return token.Identifier
}

func (s *Scanner) scanEscape(sctx *ScanCtx) rune {
	r := s.readRune(sctx)
	switch r {
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'x':
		var u rune
		for i := 0; i < 2; i++ {
			d := s.readRune(sctx)
			switch {
			case d >= '0' && d <= '9':
				u = u*16 + d - '0'
			case d >= 'a' && d <= 'f':
				u = u*16 + d - 'a' + 10
			case d >= 'A' && d <= 'F':
				u = u*16 + d - 'A' + 10
			default:
				if d != token.Error {
					sctx.Error = fmt.Errorf("scanner: expected hex digit")
				}
				return token.Error
			}
		}
		return u
	}
	return r
}

func (s *Scanner) scanString(sctx *ScanCtx, esc bool) rune {
	for {
		r := s.readRune(sctx)
		if r == token.EOF {
			sctx.Error = fmt.Errorf("scanner: string missing terminating \"'\"")
			return token.Error
		} else if r == token.Error {
			return token.Error
		}

		if r == '\'' {
			r = s.readRune(sctx)
			if r != '\'' {
				if r != token.EOF {
					s.unreadRune()
				}
				break
			}
		} else if r == '\\' && esc {
			r = s.scanEscape(sctx)
			if r == token.EOF {
				sctx.Error = fmt.Errorf("scanner: incomplete string escape")
				return token.Error
			} else if r == token.Error {
				return token.Error
			}
		}
		s.buffer.WriteRune(r)
	}

	sctx.String = s.buffer.String()
	return token.String
}
