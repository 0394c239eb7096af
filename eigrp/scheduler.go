package eigrp

import (
	"time"
)

type timerPurpose int

const (
	timerHello timerPurpose = iota
	timerHold
	timerRetransmit
	timerMulticastFlow
	timerSIA
)

func (p timerPurpose) String() string {
	switch p {
	case timerHello:
		return "hello"
	case timerHold:
		return "hold"
	case timerRetransmit:
		return "retransmit"
	case timerMulticastFlow:
		return "multicast-flow"
	case timerSIA:
		return "sia"
	default:
		return "unknown"
	}
}

// timerKey identifies a timer. owner is an *Interface, a *Neighbor or a
// *PrefixEntry. seq distinguishes per-packet timers.
type timerKey struct {
	owner   any
	purpose timerPurpose
	seq     uint32
}

// scheduler owns every timer of an instance. All methods are called from the
// event loop, and callbacks run on the event loop.
type scheduler interface {
	schedule(key timerKey, d time.Duration, fn func())
	cancel(key timerKey)
	cancelOwner(owner any)
	pending(key timerKey) bool
	stop()
}

type loopTimer struct {
	t   *time.Timer
	gen uint64
}

// loopScheduler arms real timers and posts their callbacks into the event
// loop. A callback that was cancelled or rescheduled after its timer fired is
// dropped when it reaches the loop.
type loopScheduler struct {
	post    func(func())
	timers  map[timerKey]*loopTimer
	gen     uint64
	stopped bool
}

func newLoopScheduler(post func(func())) *loopScheduler {
	return &loopScheduler{
		post:   post,
		timers: make(map[timerKey]*loopTimer),
	}
}

func (s *loopScheduler) schedule(key timerKey, d time.Duration, fn func()) {
	if s.stopped {
		return
	}

	s.cancel(key)

	s.gen++
	gen := s.gen
	lt := &loopTimer{gen: gen}
	lt.t = time.AfterFunc(d, func() {
		s.post(func() {
			cur, ok := s.timers[key]
			if !ok || cur.gen != gen {
				return
			}
			delete(s.timers, key)
			fn()
		})
	})

	s.timers[key] = lt
}

func (s *loopScheduler) cancel(key timerKey) {
	if lt, ok := s.timers[key]; ok {
		lt.t.Stop()
		delete(s.timers, key)
	}
}

func (s *loopScheduler) cancelOwner(owner any) {
	for key, lt := range s.timers {
		if key.owner == owner {
			lt.t.Stop()
			delete(s.timers, key)
		}
	}
}

func (s *loopScheduler) pending(key timerKey) bool {
	_, ok := s.timers[key]
	return ok
}

func (s *loopScheduler) stop() {
	s.stopped = true
	for key, lt := range s.timers {
		lt.t.Stop()
		delete(s.timers, key)
	}
}
