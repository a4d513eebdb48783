package apns

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/uniqush/uniqush-apns/srv/apns/binary_api"
)

// deadlineGuard sets deadlines on a connection until the context is cancelled.
// After that the deadline stays in the past, so a blocked read or write returns at once.
type deadlineGuard struct {
	mutex    sync.Mutex
	conn     net.Conn
	canceled bool
	stop     func() bool
}

func newDeadlineGuard(ctx context.Context, conn net.Conn) *deadlineGuard {
	g := &deadlineGuard{conn: conn}
	g.stop = context.AfterFunc(ctx, func() {
		g.mutex.Lock()
		defer g.mutex.Unlock()
		g.canceled = true
		g.conn.SetDeadline(time.Unix(1, 0))
	})
	return g
}

func (g *deadlineGuard) setReadDeadline(d time.Duration) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if !g.canceled {
		g.conn.SetReadDeadline(time.Now().Add(d))
	}
}

func (g *deadlineGuard) setWriteDeadline(d time.Duration) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if !g.canceled {
		g.conn.SetWriteDeadline(time.Now().Add(d))
	}
}

func (g *deadlineGuard) release() {
	g.stop()
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if !g.canceled {
		g.conn.SetDeadline(time.Time{})
	}
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// transmit writes the frames and then listens for an error-response.
// A nil response with a nil error means the gateway stayed silent: every frame was accepted.
func (s *Session) transmit(ctx context.Context, conn net.Conn, frames [][]byte) (*binary_api.Response, error) {
	guard := newDeadlineGuard(ctx, conn)
	defer guard.release()

	addr := s.cfg.Gateway()
	for _, frame := range frames {
		guard.setWriteDeadline(s.cfg.IOTimeout)
		if err := binary_api.Writen(conn, frame); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// APNS closes the connection right after an error-response, which is still waiting to be read.
			if res, rerr := s.readResponse(guard, conn); rerr == nil && res != nil {
				return res, nil
			}
			if isTimeout(err) {
				return nil, NewTimeoutError("write", s.cfg.IOTimeout, err)
			}
			return nil, NewConnectionError(addr, err)
		}
	}
	res, err := s.readResponse(guard, conn)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return res, err
}

// readResponse waits up to ResponseWait for an error-response to begin, then up to IOTimeout for the rest of it.
func (s *Session) readResponse(guard *deadlineGuard, conn net.Conn) (*binary_api.Response, error) {
	var buf [binary_api.ResponseSize]byte
	guard.setReadDeadline(s.cfg.ResponseWait)
	n, err := conn.Read(buf[:])
	if n == 0 {
		if err == nil || isTimeout(err) {
			return nil, nil
		}
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, NewConnectionError(s.cfg.Gateway(), err)
	}
	guard.setReadDeadline(s.cfg.IOTimeout)
	res, _, err := binary_api.ReadResponse(io.MultiReader(bytes.NewReader(buf[:n]), conn))
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, binary_api.ErrUnknownCommand):
		return nil, err
	case isTimeout(err):
		return nil, NewTimeoutError("read", s.cfg.IOTimeout, err)
	}
	return nil, NewConnectionError(s.cfg.Gateway(), err)
}
