// Package ws implements push.Subscriber over a single websocket connection
// speaking the opschatd push protocol: JSON subscribe/unsubscribe frames up,
// acks and change events down.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	gosync "sync"
	"time"

	"github.com/gorilla/websocket"

	"opschat/internal/app/dto"
	"opschat/internal/push"
)

// Config defines websocket subscriber settings.
type Config struct {
	URL          string
	Token        string
	DialTimeout  time.Duration
	PingInterval time.Duration
}

// ClientFrame is a client-to-server protocol frame.
type ClientFrame struct {
	Action string `json:"action"`
	ID     int    `json:"id"`
	Topic  string `json:"topic,omitempty"`
}

// ServerFrame is a server-to-client protocol frame.
type ServerFrame struct {
	Kind  string           `json:"kind"`
	ID    int              `json:"id,omitempty"`
	Topic string           `json:"topic,omitempty"`
	Error string           `json:"error,omitempty"`
	Event *dto.ChangeEvent `json:"event,omitempty"`
}

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"

	FrameEvent      = "event"
	FrameSubscribed = "subscribed"
	FrameError      = "error"
)

type subscription struct {
	topic  string
	filter push.Filter
	fn     push.EventFunc
}

// Subscriber multiplexes topic subscriptions over one connection. It does
// not reconnect: a degraded channel is reported through status callbacks and
// correctness is preserved by the caller's backstop poll.
type Subscriber struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu gosync.Mutex // gorilla permits one concurrent writer

	mu        gosync.Mutex
	nextID    int
	subs      map[int]subscription
	statusFns []push.StatusFunc
	closed    bool
}

var _ push.Subscriber = (*Subscriber)(nil)

// Dial connects and starts the read loop.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Subscriber, error) {
	if cfg.URL == "" {
		return nil, errors.New("ws: url required")
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 25 * time.Second
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws: dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("ws: dial failed: %w", err)
	}

	s := &Subscriber{
		conn:   conn,
		logger: logger,
		subs:   map[int]subscription{},
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	})
	_ = conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	go s.readLoop()
	go s.pingLoop(pingInterval)
	return s, nil
}

// Subscribe registers a callback and sends the subscribe frame. Events are
// dispatched from the read loop in delivery order.
func (s *Subscriber) Subscribe(ctx context.Context, topic string, filter push.Filter, fn push.EventFunc) (push.Handle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("ws: subscriber closed")
	}
	s.nextID++
	id := s.nextID
	s.subs[id] = subscription{topic: topic, filter: filter, fn: fn}
	s.mu.Unlock()

	if err := s.writeFrame(ClientFrame{Action: ActionSubscribe, ID: id, Topic: topic}); err != nil {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("ws: subscribe %s: %w", topic, err)
	}
	return id, nil
}

// Unsubscribe drops the callback and tells the server to stop the stream.
func (s *Subscriber) Unsubscribe(handle push.Handle) error {
	id, ok := handle.(int)
	if !ok {
		return errors.New("ws: foreign subscription handle")
	}
	s.mu.Lock()
	_, known := s.subs[id]
	delete(s.subs, id)
	closed := s.closed
	s.mu.Unlock()
	if !known || closed {
		return nil
	}
	return s.writeFrame(ClientFrame{Action: ActionUnsubscribe, ID: id})
}

// OnStatus registers a connection-state callback.
func (s *Subscriber) OnStatus(fn push.StatusFunc) {
	s.mu.Lock()
	s.statusFns = append(s.statusFns, fn)
	s.mu.Unlock()
}

// Close tears down the connection and every subscription.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.subs = map[int]subscription{}
	s.mu.Unlock()
	s.emitStatus(push.StatusClosed)
	return s.conn.Close()
}

func (s *Subscriber) readLoop() {
	for {
		var frame ServerFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.emitStatus(push.StatusTimedOut)
			} else {
				s.emitStatus(push.StatusError)
			}
			if s.logger != nil {
				s.logger.Warn("push channel read failed", "error", err)
			}
			return
		}
		switch frame.Kind {
		case FrameEvent:
			s.dispatch(frame)
		case FrameSubscribed:
			s.emitStatus(push.StatusSubscribed)
		case FrameError:
			if s.logger != nil {
				s.logger.Warn("push channel server error", "error", frame.Error, "topic", frame.Topic)
			}
		}
	}
}

func (s *Subscriber) dispatch(frame ServerFrame) {
	if frame.Event == nil {
		return
	}
	ev := frame.Event.ToChangeEvent()

	s.mu.Lock()
	targets := make([]push.EventFunc, 0, 1)
	for _, sub := range s.subs {
		if sub.topic == frame.Topic && sub.filter.Match(ev.Op) {
			targets = append(targets, sub.fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range targets {
		fn(ev)
	}
}

func (s *Subscriber) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		s.writeMu.Lock()
		err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		s.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (s *Subscriber) writeFrame(frame ClientFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(frame)
}

func (s *Subscriber) emitStatus(status push.Status) {
	s.mu.Lock()
	fns := append([]push.StatusFunc(nil), s.statusFns...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(status)
	}
}
