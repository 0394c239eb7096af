package sync

import "context"

type Token struct {
	t chan struct{}
}

// A struct that facilitates one-to-many broadcast notifications. All listeners are guaranteed
// to be notified of every change, and once you've registered, you won't miss any changes.
//
// St is a buffered channel that acts as a mutex for the notifier's state. The state is a map
// from arbitrary unique values (in this case a channel) to queues. The queues grow without
// bound, so a slow listener never blocks the notifier.
//
// A listener can be seeded with values at registration time, which is how a watcher gets the
// current state of the world before any changes.
type QueuedNotifier[T any] struct {
	st chan map[chan struct{}]*queue[T]
}

func NewQueuedNotifier[T any]() *QueuedNotifier[T] {
	state := make(chan map[chan struct{}]*queue[T], 1)
	state <- make(map[chan struct{}]*queue[T])

	return &QueuedNotifier[T]{
		st: state,
	}
}

// Register adds a listener whose queue starts out holding initial. Seeding
// happens under the notifier's lock, so no change can be lost or reordered
// between computing initial and registering.
func (n *QueuedNotifier[T]) Register(initial func() []T) Token {
	q := newQueue[T]()
	t := make(chan struct{})

	st := <-n.st
	if initial != nil {
		q.put(initial()...)
	}
	st[t] = q
	n.st <- st

	return Token{t}
}

func (n *QueuedNotifier[T]) Unregister(t Token) {
	st := <-n.st
	delete(st, t.t)
	n.st <- st
}

func (n *QueuedNotifier[T]) Listeners() int {
	st := <-n.st
	l := len(st)
	n.st <- st

	return l
}

func (n *QueuedNotifier[T]) NotifyChange(v T) {
	st := <-n.st
	for _, q := range st {
		q.put(v)
	}
	n.st <- st
}

// NotifyChangeFunc runs fn while holding the lock and broadcasts what it returns. Use it
// when the change and its broadcast must be atomic with respect to Register.
func (n *QueuedNotifier[T]) NotifyChangeFunc(fn func() []T) {
	st := <-n.st
	vs := fn()
	for _, q := range st {
		q.put(vs...)
	}
	n.st <- st
}

// AwaitChange returns false if t isn't registered or ctx is done.
func (n *QueuedNotifier[T]) AwaitChange(ctx context.Context, t Token) (T, bool) {
	st := <-n.st
	q := st[t.t]
	n.st <- st

	if q == nil {
		var zero T
		return zero, false
	}

	return q.get(ctx)
}

// Pending is the number of values queued for t.
func (n *QueuedNotifier[T]) Pending(t Token) int {
	st := <-n.st
	q := st[t.t]
	n.st <- st

	if q == nil {
		return 0
	}

	return q.len()
}
