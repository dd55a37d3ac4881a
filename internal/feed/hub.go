// Package feed streams persisted chat messages to live websocket subscribers.
package feed

import (
	"log/slog"
	"sync"

	"github.com/ashureev/backlog-triage/internal/domain"
)

const defaultBuffer = 32

// Subscription receives messages published for one session. C is closed when
// the subscription ends, either by Cancel, by session close, or because the
// subscriber fell behind.
type Subscription struct {
	SessionID string
	C         <-chan *domain.ChatMessage

	ch   chan *domain.ChatMessage
	hub  *Hub
	once sync.Once
}

// Cancel stops delivery and releases the subscription.
func (s *Subscription) Cancel() {
	s.hub.remove(s, "cancelled")
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub fans messages out to per-session subscribers. Publish never blocks.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[*Subscription]struct{}
	buffer int
}

// NewHub creates a hub whose subscribers buffer up to buffer messages.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		active: make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber for sessionID.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	ch := make(chan *domain.ChatMessage, h.buffer)
	sub := &Subscription{SessionID: sessionID, C: ch, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.active[sessionID]; !ok {
		h.active[sessionID] = make(map[*Subscription]struct{})
	}
	h.active[sessionID][sub] = struct{}{}
	slog.Debug("Feed subscriber registered", "session_id", sessionID)
	return sub
}

// Publish delivers msg to every subscriber of its session. A subscriber whose
// buffer is full is dropped.
func (h *Hub) Publish(msg *domain.ChatMessage) {
	if msg == nil {
		return
	}

	var slow []*Subscription

	h.mu.RLock()
	for sub := range h.active[msg.SessionID] {
		select {
		case sub.ch <- msg:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.remove(sub, "slow subscriber")
	}
}

// CloseSession ends every subscription for sessionID.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.active[sessionID]
	if !ok {
		return
	}
	for sub := range subs {
		sub.close()
	}
	delete(h.active, sessionID)
	slog.Debug("Feed session closed", "session_id", sessionID, "subscribers", len(subs))
}

// Subscribers returns the number of live subscribers for sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[sessionID])
}

func (h *Hub) remove(sub *Subscription, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.active[sub.SessionID]; ok {
		if _, exists := subs[sub]; exists {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.active, sub.SessionID)
			}
			slog.Debug("Feed subscriber removed", "session_id", sub.SessionID, "reason", reason)
		}
	}
	sub.close()
}
