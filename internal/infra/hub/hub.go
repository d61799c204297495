// Package hub fans chat change events out to websocket connections by topic.
package hub

import (
	"log/slog"
	"sync"

	"opschat/internal/app/dto"
	"opschat/internal/domain/chat"
	"opschat/internal/push"
)

// Frame is a server-to-client push protocol frame.
type Frame struct {
	Kind  string           `json:"kind"`
	ID    int              `json:"id,omitempty"`
	Topic string           `json:"topic,omitempty"`
	Error string           `json:"error,omitempty"`
	Event *dto.ChangeEvent `json:"event,omitempty"`
}

const (
	FrameEvent      = "event"
	FrameSubscribed = "subscribed"
	FrameError      = "error"
)

const sendBuffer = 64

// Conn is one registered websocket connection. The transport handler owns the
// actual socket; the hub only tracks subscriptions and feeds the send channel.
type Conn struct {
	send chan Frame

	mu   sync.Mutex
	subs map[int]string
}

// Frames returns the channel the transport's write loop drains.
func (c *Conn) Frames() <-chan Frame {
	return c.send
}

// Subscribe records a topic subscription under the client-chosen id and
// queues the ack frame.
func (c *Conn) Subscribe(id int, topic string) {
	c.mu.Lock()
	c.subs[id] = topic
	c.mu.Unlock()
	c.offer(Frame{Kind: FrameSubscribed, ID: id, Topic: topic})
}

// Unsubscribe removes the subscription with the given id.
func (c *Conn) Unsubscribe(id int) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

// Reject queues an error frame for a refused subscribe request.
func (c *Conn) Reject(id int, topic, reason string) {
	c.offer(Frame{Kind: FrameError, ID: id, Topic: topic, Error: reason})
}

func (c *Conn) subscribedTo(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.subs {
		if t == topic {
			return true
		}
	}
	return false
}

// offer enqueues without blocking; a full buffer means the client is too slow
// and the frame is dropped. The client's backstop poll repairs the gap.
func (c *Conn) offer(frame Frame) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Hub is the process-wide connection registry.
type Hub struct {
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[*Conn]struct{}
}

func New(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		conns:  map[*Conn]struct{}{},
	}
}

// Register adds a connection and returns its hub handle.
func (h *Hub) Register() *Conn {
	c := &Conn{
		send: make(chan Frame, sendBuffer),
		subs: map[int]string{},
	}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// Unregister drops the connection and closes its frame channel.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	delete(h.conns, c)
	close(c.send)
}

// Broadcast delivers a change event to every connection subscribed to one of
// the event's topics. Every event also lands on the roster topic so admin
// monitors see activity in conversations they have not opened.
func (h *Hub) Broadcast(ev chat.ChangeEvent) {
	wire := dto.FromChangeEvent(ev)
	topics := eventTopics(ev)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		for _, topic := range topics {
			if !c.subscribedTo(topic) {
				continue
			}
			if !c.offer(Frame{Kind: FrameEvent, Topic: topic, Event: &wire}) && h.logger != nil {
				h.logger.Warn("drop frame for slow push client", "topic", topic, "op", ev.Op)
			}
		}
	}
}

func eventTopics(ev chat.ChangeEvent) []string {
	topics := make([]string, 0, 2)
	if ev.IsMessage() {
		topics = append(topics, push.MessagesTopic(ev.ConversationID))
	} else {
		topics = append(topics, push.ConversationTopic(ev.ConversationID))
	}
	return append(topics, push.RosterTopic)
}
