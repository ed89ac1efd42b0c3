package services

import (
	"crypto/rand"
	"errors"
	"log"
	"sync"
	"time"

	"mocha-rewards/models"

	"github.com/oklog/ulid/v2"
)

var (
	ErrChannelRequired  = errors.New("wallet address required")
	ErrChannelForbidden = errors.New("unauthorized subscription attempt")
	ErrSessionClosed    = errors.New("session closed")
)

const (
	EventSubscribed    = "subscribed"
	EventTokenRedeemed = "token-redeemed"
	EventError         = "error"
)

// Message is one event pushed to a session.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Session is one live client connection bound to an authenticated wallet.
type Session struct {
	ID     string
	Wallet string

	out     chan Message
	channel string
	closed  bool
}

// Messages is closed when the hub disconnects the session.
func (s *Session) Messages() <-chan Message {
	return s.out
}

// Hub fans events out to the sessions joined to a wallet channel. Delivery is
// at-most-once: a session whose buffer is full misses the event.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	channels map[string]map[string]*Session
	buffer   int
	entropy  *ulid.MonotonicEntropy
}

func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 16
	}
	return &Hub{
		sessions: make(map[string]*Session),
		channels: make(map[string]map[string]*Session),
		buffer:   buffer,
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}
}

// Connect registers a session for an authenticated identity.
func (h *Hub) Connect(id Identity) (*Session, error) {
	wallet := models.NormalizeAddress(id.Wallet)
	if wallet == "" {
		return nil, ErrNoToken
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	s := &Session{
		ID:     ulid.MustNew(ulid.Timestamp(time.Now()), h.entropy).String(),
		Wallet: wallet,
		out:    make(chan Message, h.buffer),
	}
	h.sessions[s.ID] = s
	log.Printf("[Notifier] session %s connected for %s", s.ID, wallet)
	return s, nil
}

// Join subscribes s to channel. Only the session's own wallet channel is allowed; any
// other channel disconnects the session and returns ErrChannelForbidden.
func (h *Hub) Join(s *Session, channel string) error {
	channel = models.NormalizeAddress(channel)
	if channel == "" {
		h.Disconnect(s)
		return ErrChannelRequired
	}
	if channel != s.Wallet {
		log.Printf("❌ [Notifier] session %s (%s) tried to join %s", s.ID, s.Wallet, channel)
		h.Disconnect(s)
		return ErrChannelForbidden
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[string]*Session)
		h.channels[channel] = members
	}
	members[s.ID] = s
	s.channel = channel
	return nil
}

// Emit delivers event to every session in channel and returns how many accepted it.
func (h *Hub) Emit(channel, event string, payload any) int {
	channel = models.NormalizeAddress(channel)
	msg := Message{Event: event, Data: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, s := range h.channels[channel] {
		select {
		case s.out <- msg:
			delivered++
		default:
			log.Printf("⚠️  [Notifier] session %s buffer full, dropping %s", s.ID, event)
		}
	}
	return delivered
}

// Send delivers a message to one session only (acks and errors).
func (h *Hub) Send(s *Session, event string, payload any) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- Message{Event: event, Data: payload}:
		return true
	default:
		return false
	}
}

// Disconnect removes s and closes its message channel. Safe to call more than once.
func (h *Hub) Disconnect(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(h.sessions, s.ID)
	if members, ok := h.channels[s.channel]; ok {
		delete(members, s.ID)
		if len(members) == 0 {
			delete(h.channels, s.channel)
		}
	}
	close(s.out)
	log.Printf("[Notifier] session %s disconnected", s.ID)
}

// ChannelSize returns the number of sessions joined to channel.
func (h *Hub) ChannelSize(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[models.NormalizeAddress(channel)])
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
