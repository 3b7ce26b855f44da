package engine

import (
	"fmt"
	"sync"

	"github.com/danielballan/bluesky-talk/internal/document"
)

// Subscriber consumes assembled documents. A non-nil return is captured
// as a SubscriberError; it never stops delivery to later subscribers.
type Subscriber func(doc document.Document) error

// Token identifies one subscription for later Unsubscribe.
type Token int64

// dispatcher fans assembled documents out to subscribers.
//
// Delivery is synchronous and in subscription order: a slow subscriber
// delays the run loop. That backpressure is deliberate - callers who
// cannot keep up wrap themselves in a Lossy subscriber instead.
//
// Thread-safety: Subscribe/Unsubscribe may be called from any goroutine;
// deliver runs only on the engine's control flow and iterates a snapshot
// so mid-delivery unsubscription never corrupts the order.
type dispatcher struct {
	mu        sync.Mutex
	subs      []subscription
	nextToken Token
}

type subscription struct {
	token Token
	fn    Subscriber
}

func newDispatcher() *dispatcher {
	return &dispatcher{}
}

func (d *dispatcher) subscribe(fn Subscriber) Token {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextToken++
	d.subs = append(d.subs, subscription{token: d.nextToken, fn: fn})
	return d.nextToken
}

func (d *dispatcher) unsubscribe(token Token) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.subs {
		if s.token == token {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			return true
		}
	}
	return false
}

// deliver invokes every subscriber in subscription order. A subscriber
// error or panic is isolated: it is collected and delivery continues to
// the remaining subscribers.
func (d *dispatcher) deliver(doc document.Document) []*SubscriberError {
	d.mu.Lock()
	snapshot := make([]subscription, len(d.subs))
	copy(snapshot, d.subs)
	d.mu.Unlock()

	var errs []*SubscriberError
	for _, s := range snapshot {
		if err := callSubscriber(s.fn, doc); err != nil {
			errs = append(errs, &SubscriberError{
				Token: s.token,
				Doc:   string(doc.Type),
				Err:   err,
			})
		}
	}
	return errs
}

func callSubscriber(fn Subscriber, doc document.Document) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(doc)
}
