package event

import "sync"

// Subscription represents a stream of events. The carrier of the events is
// typically a channel, but isn't part of the interface. Subscriptions can
// fail while established; the error channel receives a value in that case.
type Subscription interface {
	Err() <-chan error
	Unsubscribe()
}

// SubscriptionScope bulk-unsubscribes a set of subscriptions tracked with
// Track, mirroring node/sc/bridge_manager.go's bm.scope.Track(sub) /
// bm.scope.Close() usage.
type SubscriptionScope struct {
	mu     sync.Mutex
	subs   map[*scopeSub]struct{}
	closed bool
}

type scopeSub struct {
	sc *SubscriptionScope
	s  Subscription
}

// Track starts tracking a subscription. Unsubscribing it removes it from
// the scope; closing the scope unsubscribes it automatically.
func (sc *SubscriptionScope) Track(s Subscription) Subscription {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		s.Unsubscribe()
		return nil
	}
	if sc.subs == nil {
		sc.subs = make(map[*scopeSub]struct{})
	}
	ss := &scopeSub{sc, s}
	sc.subs[ss] = struct{}{}
	return ss
}

func (s *scopeSub) Unsubscribe() {
	s.s.Unsubscribe()
	s.sc.mu.Lock()
	defer s.sc.mu.Unlock()
	delete(s.sc.subs, s)
}

func (s *scopeSub) Err() <-chan error { return s.s.Err() }

// Close calls Unsubscribe on every tracked subscription and prevents
// further tracking. Close returns once all subscriptions are removed.
func (sc *SubscriptionScope) Close() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return
	}
	sc.closed = true
	for s := range sc.subs {
		s.s.Unsubscribe()
	}
	sc.subs = nil
}

// Count returns the number of tracked subscriptions.
func (sc *SubscriptionScope) Count() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.subs)
}

// NewSubscription wraps a producer function as a Subscription: it runs
// producer in a goroutine and closes the error channel (after optionally
// sending one error) when producer returns or unsubscribe is requested.
func NewSubscription(producer func(<-chan struct{}) error) Subscription {
	s := &funcSub{unsub: make(chan struct{}), err: make(chan error, 1)}
	go func() {
		defer close(s.err)
		err := producer(s.unsub)
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.unsubscribed {
			if err != nil {
				s.err <- err
			}
			s.unsubscribed = true
		}
	}()
	return s
}

type funcSub struct {
	unsub        chan struct{}
	unsubOnce    sync.Once
	mu           sync.Mutex
	unsubscribed bool
	err          chan error
}

func (s *funcSub) Unsubscribe() {
	s.unsubOnce.Do(func() {
		s.mu.Lock()
		s.unsubscribed = true
		s.mu.Unlock()
		close(s.unsub)
	})
	<-s.err
}

func (s *funcSub) Err() <-chan error { return s.err }
