package repl

import (
	"context"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/leftmike/rowcache/parser"
	"github.com/leftmike/rowcache/session"
	"github.com/leftmike/rowcache/sql"
)

type tableWriter struct {
	w    io.Writer
	tw   *tablewriter.Table
	cols int
}

func (tw *tableWriter) Columns(cols []string) error {
	tw.tw = tablewriter.NewWriter(tw.w)
	tw.tw.SetAutoFormatHeaders(false)
	tw.tw.SetHeader(cols)
	tw.cols = len(cols)
	return nil
}

func (tw *tableWriter) Row(row sql.Row) error {
	tw.tw.Append(row.Strings())
	return nil
}

func (tw *tableWriter) Complete(tag string, n int64) error {
	if tw.tw == nil {
		_, err := fmt.Fprintln(tw.w, tag)
		return err
	}

	if tw.cols > 0 {
		tw.tw.Render()
	}
	_, err := fmt.Fprintf(tw.w, "(%d rows)\n", tw.tw.NumLines())
	tw.tw = nil
	return err
}

func ReplSQL(ses *session.Session, p parser.Parser, w io.Writer) {
	ctx := context.Background()
	for {
		stmt, err := p.Parse()
		if err == io.EOF {
			return
		}
		if err != nil {
			fmt.Fprintln(w, err)
			continue
		}

		err = ses.Run(ctx, stmt, &tableWriter{w: w})
		if err != nil {
			fmt.Fprintln(w, err)
		}
	}
}

func Handler(ses *session.Session, rr io.RuneReader, w io.Writer) {
	src := fmt.Sprintf("%s@%s", ses.User, ses.Type)
	if ses.Addr != "" {
		src = fmt.Sprintf("%s:%s", src, ses.Addr)
	}
	ReplSQL(ses, parser.NewParser(rr, src), w)
}
