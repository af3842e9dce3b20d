package main

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn is the slice of *websocket.Conn the registry needs; tests swap
// in fakes.
type wsConn interface {
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Subscriber is one connected consumer. Created on connect, removed on
// disconnect or failed liveness probe, never persisted.
type Subscriber struct {
	conn      wsConn
	send      chan interface{}
	UserID    string
	SessionID string

	mu     sync.Mutex
	alive  bool
	closed bool
}

func NewSubscriber(conn wsConn, userID string) *Subscriber {
	return &Subscriber{
		conn:   conn,
		send:   make(chan interface{}, 256),
		UserID: userID,
		alive:  true,
	}
}

// writePump drains the send channel onto the connection. Raw byte
// payloads go out as binary frames, everything else as JSON.
func (s *Subscriber) writePump() {
	defer s.conn.Close()
	for msg := range s.send {
		switch v := msg.(type) {
		case []byte:
			if err := s.conn.WriteMessage(websocket.BinaryMessage, v); err != nil {
				return
			}
		default:
			if err := s.conn.WriteJSON(v); err != nil {
				return
			}
		}
	}
	s.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// enqueue offers a message without blocking. Returns false when the
// subscriber is gone or its channel is full (the frame is dropped rather
// than stalling the broadcast loop).
func (s *Subscriber) enqueue(msg interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// shutdown closes the send channel exactly once; writePump then closes
// the connection.
func (s *Subscriber) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// attach points the subscriber at a session; Broadcast reads the
// attachment concurrently with the read pump changing it.
func (s *Subscriber) attach(sessionID string) {
	s.mu.Lock()
	s.SessionID = sessionID
	s.mu.Unlock()
}

func (s *Subscriber) attachedTo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SessionID
}

func (s *Subscriber) markAlive() {
	s.mu.Lock()
	s.alive = true
	s.mu.Unlock()
}

// sweepAlive reads and clears the liveness flag for one probe interval.
func (s *Subscriber) sweepAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasAlive := s.alive
	s.alive = false
	return wasAlive
}

// Registry tracks connected subscribers, probes their liveness, and fans
// out frames and control events. It tolerates concurrent
// connect/disconnect during a broadcast.
type Registry struct {
	mu   sync.RWMutex
	subs map[*Subscriber]bool

	probeInterval time.Duration
	done          chan struct{}
	stopOnce      sync.Once
	dropped       atomic.Uint64

	metrics *Metrics
}

func NewRegistry(metrics *Metrics) *Registry {
	r := &Registry{
		subs:          make(map[*Subscriber]bool),
		probeInterval: 30 * time.Second,
		done:          make(chan struct{}),
		metrics:       metrics,
	}
	go r.probeLoop()
	return r
}

// Close stops the liveness probe and disconnects everyone.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.done) })

	r.mu.Lock()
	subs := make([]*Subscriber, 0, len(r.subs))
	for s := range r.subs {
		subs = append(subs, s)
	}
	r.subs = make(map[*Subscriber]bool)
	r.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
}

// Add registers a subscriber and starts its write pump.
func (r *Registry) Add(s *Subscriber) {
	r.mu.Lock()
	r.subs[s] = true
	n := len(r.subs)
	r.mu.Unlock()

	go s.writePump()
	if r.metrics != nil {
		r.metrics.Subscribers.Set(float64(n))
	}
	log.Printf("Subscriber connected (user %s, %d total)", s.UserID, n)
}

// Remove unregisters and shuts down a subscriber. Removing a subscriber
// that is already gone is a no-op.
func (r *Registry) Remove(s *Subscriber) {
	r.mu.Lock()
	_, ok := r.subs[s]
	if ok {
		delete(r.subs, s)
	}
	n := len(r.subs)
	r.mu.Unlock()

	if !ok {
		return
	}
	s.shutdown()
	if r.metrics != nil {
		r.metrics.Subscribers.Set(float64(n))
	}
	log.Printf("Subscriber disconnected (user %s, %d total)", s.UserID, n)
}

// Count returns the number of registered subscribers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Broadcast fans a message out to every subscriber attached to the
// session (or to all, when sessionID is empty). Subscribers that
// disconnected since enumeration began are skipped, not errored on.
// Returns the number of subscribers reached.
func (r *Registry) Broadcast(sessionID string, msg interface{}) int {
	r.mu.RLock()
	targets := make([]*Subscriber, 0, len(r.subs))
	for s := range r.subs {
		if sessionID == "" || s.attachedTo() == sessionID {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, s := range targets {
		if s.enqueue(msg) {
			sent++
		} else {
			r.dropped.Add(1)
			if r.metrics != nil {
				r.metrics.DroppedFrames.Inc()
			}
		}
	}
	return sent
}

// Dropped reports the total number of frames discarded because a
// subscriber's send buffer was full.
func (r *Registry) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Registry) probeLoop() {
	ticker := time.NewTicker(r.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.probeOnce()
		}
	}
}

// probeOnce drops every subscriber that has not responded since the
// previous probe and challenges the rest.
func (r *Registry) probeOnce() {
	r.mu.RLock()
	subs := make([]*Subscriber, 0, len(r.subs))
	for s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.RUnlock()

	for _, s := range subs {
		if !s.sweepAlive() {
			log.Printf("Subscriber failed liveness probe (user %s), disconnecting", s.UserID)
			r.Remove(s)
			continue
		}
		s.enqueue(ServerMessage{Type: CmdPing})
	}
}
