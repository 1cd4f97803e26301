package producer

import (
	"context"
	"io"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/leftmike/rowcache/sql"
)

var ErrClosed = errors.New("producer: closed")

// Source is a forward only stream of rows from the engine.
type Source interface {
	Columns() []string
	Next(ctx context.Context, dest []sql.Value) error
	Close() error
}

// Streaming runs a Source in its own goroutine. Each row is produced exactly
// once; there is no way back to a row returned by Next.
type Streaming struct {
	cols     []string
	rows     chan sql.Row
	done     chan struct{}
	cancel   context.CancelFunc
	once     sync.Once
	err      error
	closeErr error
	produced int
	eos      bool
	closed   bool
}

func NewStreaming(src Source, backlog int) *Streaming {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Streaming{
		cols:   src.Columns(),
		rows:   make(chan sql.Row, backlog),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go s.run(ctx, src)
	return s
}

func (s *Streaming) run(ctx context.Context, src Source) {
	defer close(s.done)
	defer close(s.rows)

	for {
		dest := make([]sql.Value, len(s.cols))
		err := src.Next(ctx, dest)
		if err == io.EOF {
			break
		} else if err != nil {
			s.err = err
			break
		}

		select {
		case s.rows <- dest:
		case <-ctx.Done():
			s.closeErr = src.Close()
			return
		}
	}
	s.closeErr = src.Close()
}

func (s *Streaming) Columns() []string {
	return s.cols
}

func (s *Streaming) Next(ctx context.Context, n int) ([]sql.Row, bool, error) {
	if s.closed {
		return nil, true, ErrClosed
	}

	var rows []sql.Row
	for len(rows) < n && !s.eos {
		select {
		case row, ok := <-s.rows:
			if !ok {
				// s.err is written before s.rows is closed.
				s.eos = true
				if s.err != nil {
					return rows, true, s.err
				}
				continue
			}
			rows = append(rows, row)
			s.produced += 1
		case <-ctx.Done():
			if len(rows) > 0 {
				return rows, false, nil
			}
			return nil, false, ctx.Err()
		}
	}
	return rows, s.eos, nil
}

func (s *Streaming) Produced() int {
	return s.produced
}

func (s *Streaming) EOS() bool {
	return s.eos
}

// Close stops the source and waits for its goroutine to finish; it may be
// called more than once.
func (s *Streaming) Close() error {
	s.once.Do(func() {
		s.closed = true
		s.cancel()
		<-s.done
	})
	return s.closeErr
}
