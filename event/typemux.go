package event

import (
	"errors"
	"reflect"
	"sync"
	"time"
)

// ErrMuxClosed is returned by Post when the TypeMux has already been
// stopped.
var ErrMuxClosed = errors.New("event: mux closed")

// TypeMux dispatches events to registered receivers by concrete Go type,
// mirroring the teacher's event.TypeMux usage in work/worker.go where the
// mining loop subscribes to NewMinedBlockEvent-style notifications and the
// node posts them as they occur.
type TypeMux struct {
	mu      sync.RWMutex
	subm    map[reflect.Type][]*TypeMuxSubscription
	stopped bool
}

// TypeMuxEvent wraps a posted value with its dispatch time's ordinal.
type TypeMuxEvent struct {
	Time time.Time
	Data interface{}
}

// Subscribe registers for notifications of the given types. The returned
// subscription's Chan() yields a TypeMuxEvent per Post call whose Data type
// matches one of types.
func (mux *TypeMux) Subscribe(types ...interface{}) *TypeMuxSubscription {
	sub := newTypeMuxSubscription(mux)
	if len(types) == 0 {
		return sub
	}
	mux.mu.Lock()
	defer mux.mu.Unlock()
	if mux.stopped {
		sub.closed = true
		close(sub.postC)
		return sub
	}
	if mux.subm == nil {
		mux.subm = make(map[reflect.Type][]*TypeMuxSubscription)
	}
	for _, t := range types {
		rtyp := reflect.TypeOf(t)
		mux.subm[rtyp] = append(mux.subm[rtyp], sub)
	}
	return sub
}

// Post sends an event to all receivers registered for the given type. It
// returns ErrMuxClosed if the mux has been stopped.
func (mux *TypeMux) Post(ev interface{}) error {
	event := &TypeMuxEvent{Data: ev}
	rtyp := reflect.TypeOf(ev)
	mux.mu.RLock()
	if mux.stopped {
		mux.mu.RUnlock()
		return ErrMuxClosed
	}
	subs := mux.subm[rtyp]
	mux.mu.RUnlock()
	for _, sub := range subs {
		sub.deliver(event)
	}
	return nil
}

// Stop closes the mux and every subscription derived from it. No further
// calls to Post are allowed after Stop.
func (mux *TypeMux) Stop() {
	mux.mu.Lock()
	defer mux.mu.Unlock()
	for _, subs := range mux.subm {
		for _, sub := range subs {
			sub.closewait()
		}
	}
	mux.subm = nil
	mux.stopped = true
}

func (mux *TypeMux) del(s *TypeMuxSubscription) {
	mux.mu.Lock()
	defer mux.mu.Unlock()
	for typ, subs := range mux.subm {
		if pos := posOf(subs, s); pos >= 0 {
			if len(subs) == 1 {
				delete(mux.subm, typ)
			} else {
				mux.subm[typ] = append(subs[:pos], subs[pos+1:]...)
			}
		}
	}
}

func posOf(subs []*TypeMuxSubscription, s *TypeMuxSubscription) int {
	for i, sub := range subs {
		if sub == s {
			return i
		}
	}
	return -1
}

// TypeMuxSubscription is a subscription established through TypeMux.
type TypeMuxSubscription struct {
	mux     *TypeMux
	created time.Time
	closeMu sync.Mutex
	closing chan struct{}
	closed  bool

	postMu sync.RWMutex
	readC  <-chan *TypeMuxEvent
	postC  chan *TypeMuxEvent
}

func newTypeMuxSubscription(mux *TypeMux) *TypeMuxSubscription {
	c := make(chan *TypeMuxEvent)
	return &TypeMuxSubscription{
		mux:     mux,
		created: time.Now(),
		readC:   c,
		postC:   c,
		closing: make(chan struct{}),
	}
}

// Chan returns the channel that delivers TypeMuxEvent values.
func (s *TypeMuxSubscription) Chan() <-chan *TypeMuxEvent {
	return s.readC
}

// Unsubscribe removes this subscription from its TypeMux.
func (s *TypeMuxSubscription) Unsubscribe() {
	s.mux.del(s)
	s.closewait()
}

func (s *TypeMuxSubscription) closewait() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	close(s.closing)
	s.closed = true

	s.postMu.Lock()
	defer s.postMu.Unlock()
	close(s.postC)
}

func (s *TypeMuxSubscription) deliver(event *TypeMuxEvent) {
	s.postMu.RLock()
	defer s.postMu.RUnlock()
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	select {
	case s.postC <- event:
	case <-s.closing:
	}
}
