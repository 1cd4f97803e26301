package repl

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"

	"github.com/leftmike/rowcache/parser"
	"github.com/leftmike/rowcache/session"
)

const (
	rowcacheHistory = ".rowcache_history"
)

type lineReader struct {
	line *liner.State
	r    *strings.Reader
}

func (lr *lineReader) ReadRune() (r rune, size int, err error) {
	for {
		if lr.r == nil {
			s, err := lr.line.Prompt("rowcache: ")
			if err != nil {
				return 0, 0, err
			}
			lr.line.AppendHistory(s)
			lr.r = strings.NewReader(s + "\n")
		}

		r, sz, err := lr.r.ReadRune()
		if err == io.EOF {
			lr.r = nil
		} else if err != nil {
			return 0, 0, err
		} else {
			return r, sz, nil
		}
	}
}

// Interact runs a session on the console with line editing and history.
func Interact() func(ses *session.Session) {
	return func(ses *session.Session) {
		line := liner.NewLiner()
		defer line.Close()
		line.SetCtrlCAborts(true)

		if f, err := os.Open(rowcacheHistory); err == nil {
			line.ReadHistory(f)
			f.Close()
		}

		ReplSQL(ses, parser.NewParser(&lineReader{line: line}, "console"), os.Stdout)

		if f, err := os.Create(rowcacheHistory); err != nil {
			fmt.Fprintf(os.Stderr, "rowcache: error writing history file, %s: %s",
				rowcacheHistory, err)
		} else {
			line.WriteHistory(f)
			f.Close()
		}
	}
}
