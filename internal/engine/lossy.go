package engine

import (
	"sync"

	"github.com/danielballan/bluesky-talk/internal/document"
)

// Lossy wraps a slow subscriber with a bounded buffer and its own
// consumer goroutine, decoupling it from the run loop.
//
// The core dispatcher guarantees at-least-once, in-order delivery and a
// blocking subscriber therefore delays the run. Lossy is the explicit
// opt-out: documents are handed to the buffer without blocking, and when
// the buffer is full the OLDEST buffered document is dropped so the
// subscriber's view stays close to live. Drops are counted, never
// silent.
//
// Receive is the Subscriber to register; Close drains the buffer and
// stops the consumer.
type Lossy struct {
	fn   Subscriber
	size int

	mu     sync.Mutex
	buf    []document.Document
	drops  int64
	closed bool
	signal chan struct{} // coalesced availability signal (buffer of 1)
	done   chan struct{}
}

// NewLossy creates a lossy wrapper around fn holding at most size
// buffered documents. size must be at least 1.
func NewLossy(fn Subscriber, size int) *Lossy {
	if size < 1 {
		size = 1
	}
	l := &Lossy{
		fn:     fn,
		size:   size,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go l.consume()
	return l
}

// Receive enqueues a document without blocking the run loop.
// Documents arriving after Close are dropped and counted.
func (l *Lossy) Receive(doc document.Document) error {
	l.mu.Lock()
	if l.closed {
		l.drops++
		l.mu.Unlock()
		return nil
	}
	if len(l.buf) >= l.size {
		// Drop the oldest so the subscriber tracks the live end.
		l.buf = l.buf[1:]
		l.drops++
	}
	l.buf = append(l.buf, doc)
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
	return nil
}

// Dropped returns the number of documents dropped so far.
func (l *Lossy) Dropped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drops
}

// Close stops the consumer after draining the buffer. Blocks until the
// consumer goroutine exits. Safe to call once.
func (l *Lossy) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	l.mu.Unlock()

	close(l.signal)
	<-l.done
}

func (l *Lossy) consume() {
	defer close(l.done)
	for {
		doc, ok := l.tryDequeue()
		if ok {
			// The producing run may be long gone; there is nowhere to
			// report a wrapped-subscriber error to.
			_ = callSubscriber(l.fn, doc)
			continue
		}

		if _, open := <-l.signal; !open {
			// Closed: drain whatever remains, then exit.
			for {
				doc, ok := l.tryDequeue()
				if !ok {
					return
				}
				_ = callSubscriber(l.fn, doc)
			}
		}
	}
}

func (l *Lossy) tryDequeue() (document.Document, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf) == 0 {
		return document.Document{}, false
	}
	doc := l.buf[0]
	// Nil out the slot so the backing array does not retain documents.
	l.buf[0] = document.Document{}
	if len(l.buf) == 1 {
		l.buf = l.buf[:0]
	} else {
		l.buf = l.buf[1:]
	}
	return doc, true
}
