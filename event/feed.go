// Package event implements the Feed/Subscription/TypeMux pub-sub primitives
// used pack-wide by the teacher (work/worker.go's event.TypeMux, event.Subscription
// chains; node/sc/bridge_manager.go's event.Feed/event.SubscriptionScope). The
// teacher imports this package but its source was not part of the retrieved
// file set, so it is reproduced here to the well-known go-ethereum/klaytn
// semantics: a Feed fans one Send out to every subscribed channel, a
// Subscription can be closed by either side and reports its error on Err().
package event

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
)

var ErrFeedTypeMismatch = errors.New("event: Send called with wrong type")

// Feed implements one-to-many subscription. The zero value is ready to use.
type Feed struct {
	mu          sync.Mutex
	once        sync.Once
	initialized int32
	sendLock    chan struct{}
	removeSub   chan interface{}
	sendCases   caseList
	etype       reflect.Type
}

func (f *Feed) init(etype reflect.Type) {
	f.etype = etype
	f.sendLock = make(chan struct{}, 1)
	f.sendLock <- struct{}{}
	f.removeSub = make(chan interface{})
	f.sendCases = caseList{{Chan: reflect.ValueOf(f.removeSub), Dir: reflect.SelectRecv}}
	atomic.StoreInt32(&f.initialized, 1)
}

// Subscribe adds a channel to the feed. Future sends will be delivered on
// the channel until the subscription is canceled.
func (f *Feed) Subscribe(channel interface{}) Subscription {
	chanval := reflect.ValueOf(channel)
	chantyp := chanval.Type()
	if chantyp.Kind() != reflect.Chan || chantyp.ChanDir()&reflect.SendDir == 0 {
		panic("event: Subscribe argument does not have sendable channel type")
	}
	sub := &feedSub{feed: f, channel: chanval, err: make(chan error, 1)}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.once.Do(func() { f.init(chantyp.Elem()) })
	if f.etype != chantyp.Elem() {
		panic(ErrFeedTypeMismatch)
	}
	f.sendCases = append(f.sendCases, reflect.SelectCase{Dir: reflect.SelectSend, Chan: chanval})
	return sub
}

type feedSub struct {
	feed    *Feed
	channel reflect.Value
	errOnce sync.Once
	err     chan error
}

func (sub *feedSub) Unsubscribe() {
	sub.errOnce.Do(func() {
		sub.feed.remove(sub)
		close(sub.err)
	})
}

func (sub *feedSub) Err() <-chan error { return sub.err }

func (f *Feed) remove(sub *feedSub) {
	<-f.sendLock
	defer func() { f.sendLock <- struct{}{} }()
	f.removeSub <- sub.channel.Interface()
}

// Send delivers to all subscribed channels simultaneously. It returns the
// number of subscribers the value was sent to.
func (f *Feed) Send(value interface{}) (nsent int) {
	rvalue := reflect.ValueOf(value)

	<-f.sendLock
	f.mu.Lock()
	f.sendCases = f.sendCases.deactivateAll()
	f.mu.Unlock()

	if atomic.LoadInt32(&f.initialized) == 0 {
		f.mu.Lock()
		f.once.Do(func() { f.init(rvalue.Type()) })
		f.mu.Unlock()
	}
	if f.etype != rvalue.Type() {
		f.sendLock <- struct{}{}
		panic(ErrFeedTypeMismatch)
	}

	cases := f.sendCases
	for i := 1; i < len(cases); i++ {
		cases[i].Send = rvalue
	}

	for {
		for i := 1; i < len(cases); i++ {
			if cases[i].Chan.TrySend(rvalue) {
				nsent++
				cases = cases.deactivate(i)
				i--
			}
		}
		if len(cases) == 1 {
			break
		}
		chosen, recv, _ := reflect.Select(cases)
		if chosen == 0 {
			index := f.sendCases.find(recv.Interface())
			f.sendCases = f.sendCases.delete(index)
			if index >= 0 && index < len(cases) {
				cases = f.sendCases.deactivateAll()
			}
			continue
		}
		cases = cases.deactivate(chosen)
		nsent++
	}

	for i := 1; i < len(f.sendCases); i++ {
		f.sendCases[i].Send = reflect.Value{}
	}
	f.sendLock <- struct{}{}
	return nsent
}

type caseList []reflect.SelectCase

func (cs caseList) find(channel interface{}) int {
	for i, cas := range cs {
		if cas.Chan.Interface() == channel {
			return i
		}
	}
	return -1
}

func (cs caseList) delete(index int) caseList {
	return append(cs[:index], cs[index+1:]...)
}

func (cs caseList) deactivate(index int) caseList {
	last := len(cs) - 1
	cs[index], cs[last] = cs[last], cs[index]
	return cs[:last]
}

func (cs caseList) deactivateAll() caseList {
	for i := range cs {
		cs[i].Send = reflect.Value{}
	}
	return cs
}
