package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mcdev12/canvas/go/internal/canvas/events"
)

var errLinkClosed = errors.New("link closed")

// fakeLink is an in-memory Link. Tests push server events with deliver and
// inspect what the session sent with next.
type fakeLink struct {
	incoming chan events.Envelope
	sent     chan events.Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		incoming: make(chan events.Envelope, 64),
		sent:     make(chan events.Envelope, 64),
		closed:   make(chan struct{}),
	}
}

func (l *fakeLink) Send(env events.Envelope) error {
	select {
	case <-l.closed:
		return errLinkClosed
	default:
	}
	l.sent <- env
	return nil
}

func (l *fakeLink) Receive() (events.Envelope, error) {
	select {
	case env := <-l.incoming:
		return env, nil
	case <-l.closed:
		return events.Envelope{}, errLinkClosed
	}
}

func (l *fakeLink) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *fakeLink) deliver(name events.Name, payload interface{}) {
	l.incoming <- events.MustEnvelope(name, payload)
}

// next waits for the next frame the session sent.
func (l *fakeLink) next() (events.Envelope, bool) {
	select {
	case env := <-l.sent:
		return env, true
	case <-time.After(2 * time.Second):
		return events.Envelope{}, false
	}
}

// fakeTransport hands out queued links and fails the first failures dials.
type fakeTransport struct {
	mu       sync.Mutex
	failures int
	dials    int
	links    chan *fakeLink
}

func newFakeTransport(failures int) *fakeTransport {
	return &fakeTransport{failures: failures, links: make(chan *fakeLink, 8)}
}

func (t *fakeTransport) Dial(ctx context.Context, url string) (Link, error) {
	t.mu.Lock()
	t.dials++
	fail := t.dials <= t.failures
	t.mu.Unlock()

	if fail {
		return nil, errors.New("connection refused")
	}
	link := newFakeLink()
	t.links <- link
	return link, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

// nextLink waits for the session to dial a new link.
func (t *fakeTransport) nextLink() (*fakeLink, bool) {
	select {
	case l := <-t.links:
		return l, true
	case <-time.After(2 * time.Second):
		return nil, false
	}
}
