// Package server accepts client connections over the PostgreSQL wire protocol
// and ssh, and runs a session for each.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/rowcache/operation"
	"github.com/leftmike/rowcache/session"
)

var ErrServerClosed = errors.New("server: closed")

// Handler runs an interactive session reading statements from rr and writing
// results to w.
type Handler func(ses *session.Session, rr io.RuneReader, w io.Writer)

type Server struct {
	Planner session.Planner
	Manager *operation.Manager
	Handler Handler

	mutex      sync.Mutex
	listeners  map[net.Listener]struct{}
	activeConn map[net.Conn]struct{}
	connCount  int32
	shutdown   bool
	closed     bool
	lastSesID  uint64
}

func (svr *Server) addListener(l net.Listener) {
	svr.mutex.Lock()
	defer svr.mutex.Unlock()

	if svr.listeners == nil {
		svr.listeners = map[net.Listener]struct{}{}
	}
	svr.listeners[l] = struct{}{}
}

func (svr *Server) trackConn(conn net.Conn, add bool) bool {
	svr.mutex.Lock()
	defer svr.mutex.Unlock()

	if svr.closed {
		return false
	}
	if svr.activeConn == nil {
		svr.activeConn = map[net.Conn]struct{}{}
	}
	if add {
		svr.activeConn[conn] = struct{}{}
	} else {
		delete(svr.activeConn, conn)
	}
	return true
}

func (svr *Server) isShutdown() bool {
	svr.mutex.Lock()
	defer svr.mutex.Unlock()

	return svr.shutdown
}

// HandleSession runs handler with a new session; the cursors left open by the
// session are closed once handler returns.
func (svr *Server) HandleSession(handler func(ses *session.Session), user, typ, addr string) {
	ses := session.NewSession(svr.Planner, svr.Manager, user, typ, addr)
	ses.SetSessionID(atomic.AddUint64(&svr.lastSesID, 1))

	entry := log.WithField("session", ses.String())
	entry.WithFields(log.Fields{
		"user": user,
		"type": typ,
		"addr": addr,
	}).Info("session started")

	defer func() {
		ses.Close()
		entry.Info("session done")
	}()

	handler(ses)
}

func (svr *Server) Close() error {
	svr.mutex.Lock()
	if svr.closed {
		svr.mutex.Unlock()
		return nil
	}
	svr.closed = true
	svr.shutdown = true

	var err error
	for l := range svr.listeners {
		lerr := l.Close()
		if lerr != nil && err == nil {
			err = lerr
		}
		delete(svr.listeners, l)
	}
	for conn := range svr.activeConn {
		conn.Close()
		delete(svr.activeConn, conn)
	}
	svr.mutex.Unlock()

	return err
}

// Shutdown stops accepting connections and then waits for the active
// connections to finish or for ctx to be done.
func (svr *Server) Shutdown(ctx context.Context) error {
	svr.mutex.Lock()
	if svr.closed {
		svr.mutex.Unlock()
		return nil
	}
	svr.shutdown = true

	var err error
	for l := range svr.listeners {
		lerr := l.Close()
		if lerr != nil && err == nil {
			err = lerr
		}
		delete(svr.listeners, l)
	}
	svr.mutex.Unlock()

	last := int32(-1)
	for {
		cc := atomic.LoadInt32(&svr.connCount)
		if cc == 0 {
			break
		}
		if cc != last {
			p := ""
			if cc > 1 {
				p = "s"
			}
			fmt.Printf("%d active connection%s\n", cc, p)
			last = cc
		}

		select {
		case <-ctx.Done():
			return svr.Close()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return err
}
