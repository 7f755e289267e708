// Package sse implements a Server-Sent Events broker that carries rerender
// requests, preamble typesetting and user notices to open document views.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types emitted on the stream.
const (
	TypeRerender = "rerender"
	TypePreamble = "mathjax.preamble"
	TypeNotice   = "notice"
)

// ErrClosed is returned by Typeset once the broker has been closed.
var ErrClosed = errors.New("sse: broker closed")

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// TypesetRequest is the payload of a mathjax.preamble event. Display is
// always false: preamble markup defines macros and renders nothing.
type TypesetRequest struct {
	Markup  string `json:"markup"`
	Display bool   `json:"display"`
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients, the last preamble event and rerender coalescing state). Public methods communicate with this
// loop through channels, so no mutexes are required.
type Broker struct {
	rerenderWindow time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	rerenderCh    chan struct{}
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker. Rerender requests arriving within
// rerenderWindow of a broadcast are folded into one trailing broadcast.
func NewBroker(rerenderWindow time.Duration) *Broker {
	if rerenderWindow <= 0 {
		rerenderWindow = 100 * time.Millisecond
	}

	b := &Broker{
		rerenderWindow: rerenderWindow,
		subscribeCh:    make(chan chan []byte),
		unsubscribeCh:  make(chan chan []byte),
		publishCh:      make(chan Event, 256),
		rerenderCh:     make(chan struct{}, 256),
		countReqCh:     make(chan chan int),
		stopCh:         make(chan struct{}),
		stopped:        make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	// Replayed to late subscribers; the injection marker is engine-wide.
	var lastPreamble []byte

	var window *time.Timer
	var windowCh <-chan time.Time
	trailing := false

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		msg := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)
		raw := []byte(msg)
		if event.Type == TypePreamble {
			lastPreamble = raw
		}

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}
	rerender := func() {
		broadcast(Event{Type: TypeRerender, Data: map[string]string{}})
		if window == nil {
			window = time.NewTimer(b.rerenderWindow)
		} else {
			window.Reset(b.rerenderWindow)
		}
		windowCh = window.C
	}

	for {
		select {
		case <-b.stopCh:
			if window != nil {
				window.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}
			if lastPreamble != nil {
				ch <- lastPreamble
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case <-b.rerenderCh:
			if windowCh != nil {
				trailing = true
				continue
			}
			rerender()

		case <-windowCh:
			windowCh = nil
			if trailing {
				trailing = false
				rerender()
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// RequestRerenderAll asks every open view to re-render. The first request
// is broadcast immediately; further requests inside the window collapse into
// one broadcast when it ends.
func (b *Broker) RequestRerenderAll() {
	if b.closed.Load() {
		return
	}
	select {
	case b.rerenderCh <- struct{}{}:
	case <-b.stopped:
	}
}

// Typeset hands preamble markup to the views' math engine. The most recent
// markup is also sent to every view that subscribes afterwards.
func (b *Broker) Typeset(ctx context.Context, markup string) error {
	if b.closed.Load() {
		return ErrClosed
	}
	select {
	case b.publishCh <- Event{Type: TypePreamble, Data: TypesetRequest{Markup: markup}}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stopped:
		return ErrClosed
	}
}

// Notify shows a transient notice in connected views.
func (b *Broker) Notify(message string) {
	b.Publish(Event{Type: TypeNotice, Data: map[string]string{"message": message}})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
