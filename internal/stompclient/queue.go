package stompclient

import "sync"

// queuedPublish is a SEND issued while no session was available.
type queuedPublish struct {
	seq         uint64
	destination string
	headers     Headers
	body        []byte
}

// publishQueue buffers outbound messages until the next successful connect.
//
// The queue is unbounded. Callers that need backpressure check
// Client.Connected before publishing.
type publishQueue struct {
	mu      sync.Mutex
	nextSeq uint64
	entries []queuedPublish
}

func newPublishQueue() *publishQueue {
	return &publishQueue{}
}

// push appends a message in enqueue order.
func (q *publishQueue) push(destination string, headers Headers, body []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextSeq++
	q.entries = append(q.entries, queuedPublish{
		seq:         q.nextSeq,
		destination: destination,
		headers:     headers.Clone(),
		body:        append([]byte(nil), body...),
	})
}

// flush sends queued messages in FIFO order. It stops at the first failure;
// the failed entry and everything behind it stay queued, in order. Entries
// already sent are removed and never sent again.
//
// Returns:
//   - sent: Number of messages handed to the session
//   - err: The publish error that stopped the flush, or nil
func (q *publishQueue) flush(session Session) (sent int, err error) {
	for {
		q.mu.Lock()
		if len(q.entries) == 0 {
			q.mu.Unlock()
			return sent, nil
		}
		head := q.entries[0]
		q.mu.Unlock()

		if err := session.Publish(head.destination, head.headers.Clone(), head.body); err != nil {
			return sent, err
		}

		q.mu.Lock()
		if len(q.entries) > 0 && q.entries[0].seq == head.seq {
			q.entries[0] = queuedPublish{}
			q.entries = q.entries[1:]
		}
		q.mu.Unlock()
		sent++
	}
}

// discard drops every queued message and returns how many were dropped.
func (q *publishQueue) discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.entries)
	q.entries = nil
	return n
}

// size returns the number of queued messages.
func (q *publishQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
