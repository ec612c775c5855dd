package serialmux

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

// ErrNoLink is returned by console commands while no link is connected.
var ErrNoLink = errors.New("scanner link is not connected")

// ActiveLink follows whichever link the scanner client currently owns, so
// the admin console outlives reconnects. Its subscribers see lines from each
// link in turn and nothing while disconnected.
type ActiveLink struct {
	mu          sync.Mutex
	link        SerialMuxInterface
	subscribers map[string]chan string
	closing     bool
}

func NewActiveLink() *ActiveLink {
	return &ActiveLink{subscribers: make(map[string]chan string)}
}

// Set makes link the active link and forwards its lines to subscribers until
// it is closed. Passing nil clears the active link.
func (a *ActiveLink) Set(link SerialMuxInterface) {
	a.mu.Lock()
	a.link = link
	a.mu.Unlock()
	if link == nil {
		return
	}

	id, lines := link.Subscribe()
	go func() {
		defer link.Unsubscribe(id)
		for line := range lines {
			a.mu.Lock()
			for _, ch := range a.subscribers {
				select {
				case ch <- line:
				default:
				}
			}
			a.mu.Unlock()
		}
		a.mu.Lock()
		if a.link == link {
			a.link = nil
		}
		a.mu.Unlock()
	}()
}

func (a *ActiveLink) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, SubscriberBuffer)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing {
		// Already closing: hand back a closed channel so callers don't block.
		close(ch)
		return id, ch
	}
	a.subscribers[id] = ch
	return id, ch
}

func (a *ActiveLink) Unsubscribe(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ch, ok := a.subscribers[id]; ok {
		close(ch)
		delete(a.subscribers, id)
	}
}

func (a *ActiveLink) RunCommand(ctx context.Context, command string) (string, error) {
	a.mu.Lock()
	link := a.link
	a.mu.Unlock()
	if link == nil {
		return "", ErrNoLink
	}
	return link.RunCommand(ctx, command)
}

// Close closes all subscriber channels. The links themselves are owned by
// the scanner client.
func (a *ActiveLink) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing {
		return nil
	}
	a.closing = true
	for id, ch := range a.subscribers {
		close(ch)
		delete(a.subscribers, id)
	}
	return nil
}

func (a *ActiveLink) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, a)
}
