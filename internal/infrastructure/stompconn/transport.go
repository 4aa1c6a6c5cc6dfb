package stompconn

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a websocket connection to the byte stream go-stomp expects.
//
// Each Write is sent as one text message. Reads concatenate incoming
// messages, so frames split across messages are reassembled by go-stomp.
type wsConn struct {
	ws     *websocket.Conn
	reader io.Reader

	writeMu sync.Mutex
	closed  atomic.Bool
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

// Read is called from a single goroutine (go-stomp's reader).
func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			msgType, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame best-effort, then closes the socket.
func (c *wsConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage, //nolint:errcheck // Best effort
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.ws.Close()
}

// watchedConn wraps the transport to detect its loss.
//
// The first read error triggers onLost exactly once, unless the session
// is closing. With debug enabled every chunk read or written is logged.
type watchedConn struct {
	rwc     io.ReadWriteCloser
	debug   bool
	logger  func() Logger
	onLost  func(err error)
	closing atomic.Bool
	once    sync.Once

	errMu sync.Mutex
	err   error
}

func (c *watchedConn) Read(p []byte) (int, error) {
	n, err := c.rwc.Read(p)
	if n > 0 && c.debug {
		if logger := c.logger(); logger != nil {
			logger.Debug("STOMP <<<", "raw", string(p[:n]))
		}
	}
	if err != nil {
		c.lost(err)
	}
	return n, err
}

func (c *watchedConn) Write(p []byte) (int, error) {
	if c.debug {
		if logger := c.logger(); logger != nil {
			logger.Debug("STOMP >>>", "raw", string(p))
		}
	}
	n, err := c.rwc.Write(p)
	if err != nil {
		c.lost(err)
	}
	return n, err
}

func (c *watchedConn) Close() error {
	c.closing.Store(true)
	return c.rwc.Close()
}

// lost records the first transport failure and reports it unless the
// session is being closed.
func (c *watchedConn) lost(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()

	if c.closing.Load() || c.onLost == nil {
		return
	}
	c.once.Do(func() {
		c.onLost(err)
	})
}

// failure returns the first transport error seen, if any.
func (c *watchedConn) failure() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}
