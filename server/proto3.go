package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	pgproto3 "github.com/jackc/pgproto3/v2"
	"github.com/lib/pq/oid"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/rowcache/engine"
	"github.com/leftmike/rowcache/operation"
	"github.com/leftmike/rowcache/parser"
	"github.com/leftmike/rowcache/session"
	"github.com/leftmike/rowcache/sql"
)

type Proto3Config struct {
	Address string
}

func (svr *Server) ListenAndServeProto3(p3Cfg Proto3Config) error {
	l, err := net.Listen("tcp", p3Cfg.Address)
	if err != nil {
		return err
	}
	return svr.ServeProto3(l)
}

func (svr *Server) ServeProto3(l net.Listener) error {
	svr.addListener(l)

	for {
		conn, err := l.Accept()
		if err != nil {
			if svr.isShutdown() {
				err = ErrServerClosed
			}
			log.WithField("error", err.Error()).Error("proto3 accept")
			return err
		}

		entry := log.WithFields(log.Fields{
			"addr": conn.RemoteAddr().String(),
		})
		entry.Info("proto3 connected")

		go svr.handleProto3Conn(conn, entry)
	}
}

func (svr *Server) handleProto3Conn(conn net.Conn, entry *log.Entry) {
	atomic.AddInt32(&svr.connCount, 1)
	defer atomic.AddInt32(&svr.connCount, -1)

	defer func() {
		entry.Info("proto3 disconnected")
	}()

	if !svr.trackConn(conn, true) {
		conn.Close()
		return
	}

	defer func() {
		if svr.trackConn(conn, false) {
			conn.Close()
		}
	}()

	be := pgproto3.NewBackend(pgproto3.NewChunkReader(conn), conn)

	var user string
	var started bool
	for !started {
		msg, err := be.ReceiveStartupMessage()
		if err != nil {
			entry.Errorf("receive startup message: %s", err)
			return
		}

		switch msg := msg.(type) {
		case *pgproto3.StartupMessage:
			entry.Infof("protocol version: %d", msg.ProtocolVersion)
			for nam, val := range msg.Parameters {
				entry.Debugf("parameter: %s = %s", nam, val)
			}
			user = msg.Parameters["user"]

			buf := (&pgproto3.AuthenticationOk{}).Encode(nil)
			for _, ps := range []pgproto3.ParameterStatus{
				{Name: "server_version", Value: "12.0"},
				{Name: "server_encoding", Value: "UTF8"},
				{Name: "client_encoding", Value: "UTF8"},
				{Name: "DateStyle", Value: "ISO, MDY"},
				{Name: "integer_datetimes", Value: "on"},
			} {
				buf = ps.Encode(buf)
			}
			_, err := conn.Write(buf)
			if err != nil {
				entry.Errorf("send authentication ok: %s", err)
				return
			}
			started = true
		case *pgproto3.SSLRequest:
			_, err := conn.Write([]byte("N"))
			if err != nil {
				entry.Errorf("send deny SSL request: %s", err)
				return
			}
		default:
			entry.Errorf("unknown startup message: %v", msg)
			return
		}
	}

	svr.HandleSession(
		func(ses *session.Session) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			p3 := proto3Conn{
				be:    be,
				conn:  conn,
				entry: entry.WithField("session", ses.String()),
			}
			p3.serve(ctx, ses)
		}, user, "proto3", conn.RemoteAddr().String())
}

type proto3Conn struct {
	be    *pgproto3.Backend
	conn  net.Conn
	entry *log.Entry
	buf   []byte
}

func (p3 *proto3Conn) send(msg pgproto3.BackendMessage) error {
	p3.buf = msg.Encode(p3.buf[:0])
	_, err := p3.conn.Write(p3.buf)
	return err
}

func (p3 *proto3Conn) serve(ctx context.Context, ses *session.Session) {
	var skipToSync bool
	ready := true
	for {
		if ready {
			err := p3.send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
			if err != nil {
				p3.entry.Errorf("send ready for query: %s", err)
				return
			}
		}

		msg, err := p3.be.Receive()
		if err != nil {
			if err != io.EOF {
				p3.entry.Errorf("receive: %s", err)
			}
			return
		}

		ready = true
		switch msg := msg.(type) {
		case *pgproto3.Query:
			p3.query(ctx, ses, msg.String)
		case *pgproto3.Terminate:
			return
		case *pgproto3.Sync:
			skipToSync = false
		case *pgproto3.Parse, *pgproto3.Bind, *pgproto3.Describe, *pgproto3.Execute,
			*pgproto3.Close, *pgproto3.Flush:

			// Only the simple query protocol is supported; the rest of the
			// extended query is skipped.
			ready = false
			if !skipToSync {
				skipToSync = true
				p3.errorResponse(errors.New("server: extended query protocol not supported"),
					"0A000")
			}
		default:
			buf, _ := json.Marshal(msg)
			p3.entry.Errorf("backend unexpected message: %s", string(buf))
			ready = false
		}
	}
}

// query runs each statement in s until one fails.
func (p3 *proto3Conn) query(ctx context.Context, ses *session.Session, s string) {
	p := parser.NewParser(strings.NewReader(s), "proto3")

	empty := true
	for {
		stmt, err := p.Parse()
		if err == io.EOF {
			break
		} else if err != nil {
			p3.errorResponse(err, errorCode(err))
			return
		}
		empty = false

		w := proto3Writer{p3: p3}
		err = ses.Run(ctx, stmt, &w)
		if err != nil {
			if !w.failed {
				p3.errorResponse(err, errorCode(err))
			}
			return
		}
	}

	if empty {
		err := p3.send(&pgproto3.EmptyQueryResponse{})
		if err != nil {
			p3.entry.Errorf("send empty query response: %s", err)
		}
	}
}

func (p3 *proto3Conn) errorResponse(err error, code string) {
	serr := p3.send(&pgproto3.ErrorResponse{
		Severity: "ERROR",
		Code:     code,
		Message:  err.Error(),
	})
	if serr != nil {
		p3.entry.Errorf("send error response: %s", serr)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, operation.ErrConfig):
		return "22023" // invalid_parameter_value
	case errors.Is(err, operation.ErrRestartNotSupported),
		errors.Is(err, operation.ErrCacheExceeded):
		return "55000" // object_not_in_prerequisite_state
	case errors.Is(err, session.ErrUnknownCursor):
		return "34000" // invalid_cursor_name
	case errors.Is(err, session.ErrCursorExists):
		return "42P03" // duplicate_cursor
	case errors.Is(err, session.ErrUnknownOption):
		return "42704" // undefined_object
	case errors.Is(err, parser.ErrSyntax):
		return "42601" // syntax_error
	case errors.Is(err, engine.ErrNoTable):
		return "42P01" // undefined_table
	case errors.Is(err, engine.ErrTableExists):
		return "42P07" // duplicate_table
	case errors.Is(err, engine.ErrColumn):
		return "42703" // undefined_column
	case errors.Is(err, engine.ErrUnsupported):
		return "0A000" // feature_not_supported
	}
	return "XX000" // internal_error
}

// proto3Writer sends the results of one statement; a failed send is logged and
// ends the statement.
type proto3Writer struct {
	p3     *proto3Conn
	failed bool
}

func (w *proto3Writer) fail(what string, err error) error {
	w.failed = true
	w.p3.entry.Errorf("send %s: %s", what, err)
	return err
}

func (w *proto3Writer) Columns(cols []string) error {
	fields := make([]pgproto3.FieldDescription, 0, len(cols))
	for _, col := range cols {
		fields = append(fields,
			pgproto3.FieldDescription{
				Name:                 []byte(col),
				TableOID:             0,
				TableAttributeNumber: 0,
				DataTypeOID:          uint32(oid.T_text),
				DataTypeSize:         -1,
				TypeModifier:         -1,
				Format:               0, // Text format; binary format = 1
			})
	}
	err := w.p3.send(&pgproto3.RowDescription{Fields: fields})
	if err != nil {
		return w.fail("row description", err)
	}
	return nil
}

func (w *proto3Writer) Row(row sql.Row) error {
	values := make([][]byte, len(row))
	for vdx, v := range row {
		values[vdx] = sql.Text(v)
	}
	err := w.p3.send(&pgproto3.DataRow{Values: values})
	if err != nil {
		return w.fail("data row", err)
	}
	return nil
}

func (w *proto3Writer) Complete(tag string, n int64) error {
	if n >= 0 {
		tag = fmt.Sprintf("%s %d", tag, n)
	}
	err := w.p3.send(&pgproto3.CommandComplete{CommandTag: []byte(tag)})
	if err != nil {
		return w.fail("command complete", err)
	}
	return nil
}
