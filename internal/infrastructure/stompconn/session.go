package stompconn

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"

	"github.com/nerrad567/stomplink/internal/stompclient"
)

// session is one established go-stomp connection.
type session struct {
	conn      *stomp.Conn
	transport *watchedConn
	headers   stompclient.Headers
	events    stompclient.SessionEvents
	logger    func() Logger

	disconnectTimeout time.Duration

	// established gates event reporting until the handshake completes.
	established atomic.Bool
	lostOnce    sync.Once

	mu     sync.Mutex
	subs   map[string]*stomp.Subscription
	closed bool
}

// ServerHeaders returns the negotiated version, session id and server name.
func (s *session) ServerHeaders() stompclient.Headers {
	return s.headers.Clone()
}

// Publish sends a SEND frame. The content-type header, if present, is
// passed as the frame's content type; content-length is computed by go-stomp.
func (s *session) Publish(destination string, headers stompclient.Headers, body []byte) error {
	if s.isClosed() {
		return fmt.Errorf("%w: %w", stompclient.ErrNotConnected, ErrSessionClosed)
	}

	var opts []func(*frame.Frame) error
	for k, v := range headers {
		switch k {
		case "content-type", "content-length", "destination":
			continue
		}
		opts = append(opts, stomp.SendOpt.Header(k, v))
	}

	if err := s.conn.Send(destination, headers["content-type"], body, opts...); err != nil {
		return fmt.Errorf("sending to %s: %w", destination, err)
	}
	return nil
}

// Subscribe sends a SUBSCRIBE frame and pumps its messages into onMessage
// on a dedicated goroutine. The subscription id is assigned by go-stomp.
func (s *session) Subscribe(destination string, headers stompclient.Headers, onMessage func(stompclient.Message)) (string, error) {
	if s.isClosed() {
		return "", fmt.Errorf("%w: %w", stompclient.ErrNotConnected, ErrSessionClosed)
	}

	var opts []func(*frame.Frame) error
	for k, v := range headers {
		switch k {
		case "ack", "id", "destination":
			continue
		}
		opts = append(opts, stomp.SubscribeOpt.Header(k, v))
	}

	sub, err := s.conn.Subscribe(destination, ackMode(headers["ack"]), opts...)
	if err != nil {
		return "", fmt.Errorf("subscribing to %s: %w", destination, err)
	}
	id := sub.Id()

	s.mu.Lock()
	s.subs[id] = sub
	s.mu.Unlock()

	go s.pump(id, sub, onMessage)
	return id, nil
}

// pump forwards messages until go-stomp closes the subscription channel.
// An error delivered on the channel means the broker sent an ERROR frame
// or the connection failed.
func (s *session) pump(id string, sub *stomp.Subscription, onMessage func(stompclient.Message)) {
	for msg := range sub.C {
		if msg == nil {
			continue
		}
		if msg.Err != nil {
			s.report(msg.Err, true)
			continue
		}
		onMessage(toMessage(id, msg))
	}
}

// Unsubscribe sends an UNSUBSCRIBE frame. Unknown ids are ignored.
func (s *session) Unsubscribe(id string) error {
	s.mu.Lock()
	sub, ok := s.subs[id]
	delete(s.subs, id)
	closed := s.closed
	s.mu.Unlock()

	if !ok {
		return nil
	}
	if closed {
		return fmt.Errorf("%w: %w", stompclient.ErrNotConnected, ErrSessionClosed)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribing %s: %w", id, err)
	}
	return nil
}

// Disconnect performs the graceful DISCONNECT/RECEIPT exchange and closes
// the transport. If the receipt does not arrive in time the connection is
// closed forcibly. Loss events are suppressed from this point on.
func (s *session) Disconnect(headers stompclient.Headers) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.transport.closing.Store(true)

	if len(headers) > 0 {
		if logger := s.logger(); logger != nil {
			logger.Debug("STOMP disconnect headers not supported, ignored", "count", len(headers))
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- s.conn.Disconnect()
	}()

	timer := time.NewTimer(s.disconnectTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		_ = s.transport.Close() //nolint:errcheck // Already closed by go-stomp in the normal case
		if err != nil {
			return fmt.Errorf("disconnecting: %w", err)
		}
		return nil
	case <-timer.C:
		_ = s.conn.MustDisconnect() //nolint:errcheck // Forced close after timeout
		_ = s.transport.Close()     //nolint:errcheck // Best effort
		return fmt.Errorf("disconnecting: no receipt after %v", s.disconnectTimeout)
	}
}

// report delivers the first loss of an established session to stompclient
// on its own goroutine, so the callback never runs inside a session call.
func (s *session) report(err error, isError bool) {
	if !s.established.Load() || s.transport.closing.Load() {
		return
	}
	s.lostOnce.Do(func() {
		if logger := s.logger(); logger != nil {
			logger.Debug("STOMP session lost", "error", err, "error_frame", isError)
		}
		go func() {
			if isError && s.events.OnError != nil {
				s.events.OnError(err)
				return
			}
			if s.events.OnDisconnect != nil {
				s.events.OnDisconnect(err)
			}
		}()
	})
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// toMessage converts a go-stomp message. For repeated headers the first
// occurrence wins.
func toMessage(id string, msg *stomp.Message) stompclient.Message {
	headers := stompclient.Headers{}
	if msg.Header != nil {
		for i := 0; i < msg.Header.Len(); i++ {
			k, v := msg.Header.GetAt(i)
			if _, seen := headers[k]; !seen {
				headers[k] = v
			}
		}
	}
	return stompclient.Message{
		Destination:    msg.Destination,
		SubscriptionID: id,
		Headers:        headers,
		Body:           msg.Body,
	}
}
