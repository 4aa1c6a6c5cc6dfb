package stompclient

import (
	"sync"
	"sync/atomic"
)

// stream is a multicast value stream. A replaying stream hands its most
// recent value to every new watcher before any later value.
//
// Values carry a version. A watcher never receives a version older than one
// it has already seen, so concurrent emissions cannot make it go backwards.
type stream[T any] struct {
	replay bool

	mu       sync.Mutex
	value    T
	has      bool
	version  uint64
	nextID   uint64
	watchers []streamEntry[T]
}

type streamEntry[T any] struct {
	id uint64
	w  *watcher[T]
}

type watcher[T any] struct {
	mu         sync.Mutex
	seen       uint64
	delivering bool
	pending    []versioned[T]
	stopped    atomic.Bool
	fn         func(T)
}

type versioned[T any] struct {
	version uint64
	value   T
}

// newReplayStream returns a replay-latest stream seeded with initial.
func newReplayStream[T any](initial T) *stream[T] {
	return &stream[T]{replay: true, value: initial, has: true, version: 1}
}

// newEmptyReplayStream returns a replay-latest stream with no value yet.
func newEmptyReplayStream[T any]() *stream[T] {
	return &stream[T]{replay: true}
}

// newStream returns a stream that does not replay.
func newStream[T any]() *stream[T] {
	return &stream[T]{}
}

// current returns the latest value and whether one has been set.
func (s *stream[T]) current() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.has
}

// watch registers fn. On a replaying stream the current value is delivered
// synchronously before watch returns.
//
// Deliveries to one watcher never overlap. A value set while fn is running,
// including from inside fn itself, is delivered after fn returns.
func (s *stream[T]) watch(fn func(T)) (stop func()) {
	w := &watcher[T]{fn: fn, delivering: true}

	// Mark the watcher busy before it becomes visible so a concurrent set
	// is queued behind the replayed value.
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers = append(s.watchers, streamEntry[T]{id: id, w: w})
	value, has, version := s.value, s.has, s.version
	s.mu.Unlock()

	w.mu.Lock()
	w.seen = version
	w.mu.Unlock()

	if s.replay && has {
		fn(value)
	}
	w.drain()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.stopped.Store(true)
			s.mu.Lock()
			for i, e := range s.watchers {
				if e.id == id {
					s.watchers = append(s.watchers[:i:i], s.watchers[i+1:]...)
					break
				}
			}
			s.mu.Unlock()
		})
	}
}

// set stores v and returns a function delivering it to the watchers
// registered at this point. Callers run the returned function after
// releasing any lock a watcher might need.
func (s *stream[T]) set(v T) (notify func()) {
	s.mu.Lock()
	s.version++
	s.value, s.has = v, true
	version := s.version
	targets := make([]*watcher[T], len(s.watchers))
	for i, e := range s.watchers {
		targets[i] = e.w
	}
	s.mu.Unlock()

	return func() {
		for _, w := range targets {
			w.deliver(version, v)
		}
	}
}

// emit stores and delivers v immediately.
func (s *stream[T]) emit(v T) {
	s.set(v)()
}

// size returns the number of registered watchers.
func (s *stream[T]) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

// deliver queues v for the watcher and drains the queue unless another
// goroutine (or an outer call on this one) is already doing so.
func (w *watcher[T]) deliver(version uint64, v T) {
	w.mu.Lock()
	if w.stopped.Load() || version <= w.seen {
		w.mu.Unlock()
		return
	}
	w.pending = append(w.pending, versioned[T]{version: version, value: v})
	if w.delivering {
		w.mu.Unlock()
		return
	}
	w.delivering = true
	w.mu.Unlock()

	w.drain()
}

// drain hands queued values to fn in arrival order, skipping any value
// older than one already delivered. Callers set delivering beforehand.
func (w *watcher[T]) drain() {
	for {
		w.mu.Lock()
		if len(w.pending) == 0 || w.stopped.Load() {
			w.pending = nil
			w.delivering = false
			w.mu.Unlock()
			return
		}
		next := w.pending[0]
		w.pending = w.pending[1:]
		if next.version <= w.seen {
			w.mu.Unlock()
			continue
		}
		w.seen = next.version
		w.mu.Unlock()

		w.fn(next.value)
	}
}
