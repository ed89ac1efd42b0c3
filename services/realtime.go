package services

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

const sseKeepAlive = 15 * time.Second

// ClientMessage is what a socket client sends, e.g. {"event":"subscribe","data":"0xabc..."}.
type ClientMessage struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

type SubscribedAck struct {
	WalletAddress string    `json:"walletAddress"`
	Timestamp     time.Time `json:"timestamp"`
}

type SocketError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// jsonConn is the part of *websocket.Conn the socket loop uses.
type jsonConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
}

// StreamSSE streams the caller's wallet channel as server-sent events.
func (h *Hub) StreamSSE(c *fiber.Ctx) error {
	id, ok := IdentityFromCtx(c)
	if !ok {
		return respondError(c, NewUnauthorized("authentication required"))
	}
	s, err := h.Connect(id)
	if err != nil {
		return respondError(c, NewUnauthorized(err.Error()))
	}
	if err := h.Join(s, id.Wallet); err != nil {
		return respondError(c, NewUnauthorized(err.Error()))
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	done := c.Context().Done()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer h.Disconnect(s)
		if err := writeSSE(w, EventSubscribed, SubscribedAck{WalletAddress: s.Wallet, Timestamp: time.Now()}); err != nil {
			return
		}

		ticker := time.NewTicker(sseKeepAlive)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-s.Messages():
				if !ok {
					return
				}
				if err := writeSSE(w, msg.Event, msg.Data); err != nil {
					log.Printf("[Notifier] SSE client %s gone: %v", s.ID, err)
					return
				}
			case <-ticker.C:
				w.WriteString(":\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})
	return nil
}

func writeSSE(w *bufio.Writer, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return w.Flush()
}

// ServeWebsocket runs one authenticated socket connection. Mount it behind
// the websocket auth middleware, which stores the Identity in Locals.
func (h *Hub) ServeWebsocket(conn *websocket.Conn) {
	id, ok := conn.Locals(IdentityLocalsKey).(Identity)
	if !ok {
		conn.WriteJSON(Message{Event: EventError, Data: SocketError{Message: ErrNoToken.Error(), Code: "NO_TOKEN"}})
		return
	}
	h.serveConn(conn, id)
}

func (h *Hub) serveConn(conn jsonConn, id Identity) {
	s, err := h.Connect(id)
	if err != nil {
		conn.WriteJSON(Message{Event: EventError, Data: SocketError{Message: err.Error(), Code: "NO_TOKEN"}})
		return
	}

	var writeMu sync.Mutex
	write := func(msg Message) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(msg)
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range s.Messages() {
			if err := write(msg); err != nil {
				log.Printf("[Notifier] write to %s failed: %v", s.ID, err)
				h.Disconnect(s)
			}
		}
	}()
	defer func() {
		h.Disconnect(s)
		<-writerDone
	}()

	for {
		var in ClientMessage
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		switch in.Event {
		case "subscribe":
			if err := h.Join(s, in.Data); err != nil {
				// Join already closed the session; the error goes out before the socket closes.
				<-writerDone
				write(Message{Event: EventError, Data: SocketError{Message: err.Error(), Code: socketErrorCode(err)}})
				return
			}
			h.Send(s, EventSubscribed, SubscribedAck{WalletAddress: s.Wallet, Timestamp: time.Now()})
			log.Printf("[Notifier] session %s subscribed to %s", s.ID, s.Wallet)
		default:
			write(Message{Event: EventError, Data: SocketError{Message: "unknown event " + in.Event, Code: "SOCKET_ERROR"}})
		}
	}
}

func socketErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrChannelForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrChannelRequired):
		return "WALLET_REQUIRED"
	}
	return "SOCKET_ERROR"
}
