package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pulse-presence/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 65536
	sendBufSize    = 256
)

// bufPool pools bytes.Buffer for JSON encoding in the write hot-path.
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// frame is the wire format, both directions.
type frame struct {
	Type    string          `json:"type"` // subscribe | unsubscribe | event | whisper
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Socket is the websocket Transport. Event dispatch runs on the single read
// goroutine, so handlers see events in per-channel FIFO order.
//
// Lifecycle: Dial -> [readPump, writePump] -> Close -> Wait.
type Socket struct {
	id   string
	conn *websocket.Conn
	send chan frame

	mu       sync.Mutex
	channels map[string]*socketChannel
	closed   bool

	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Dial connects to the transport endpoint and starts the pumps. The token, if
// non-empty, is sent as a bearer Authorization header on the handshake.
func Dial(ctx context.Context, url, token string) (*Socket, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("ws dial %s: %w", url, err)
	}

	s := &Socket{
		id:       uuid.New().String(),
		conn:     conn,
		send:     make(chan frame, sendBufSize),
		channels: make(map[string]*socketChannel),
		done:     make(chan struct{}),
	}
	pumpCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(2)
	go s.writePump(pumpCtx)
	go s.readPump(pumpCtx)
	return s, nil
}

// ID is the socket's instance id, unique per connection.
func (s *Socket) ID() string { return s.id }

// Join subscribes to a channel. Joining an already-joined channel returns the
// existing handle.
func (s *Socket) Join(channelName string) (ChannelHandle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("ws join %s: socket closed", channelName)
	}
	if ch, ok := s.channels[channelName]; ok {
		s.mu.Unlock()
		return ch, nil
	}
	ch := newSocketChannel(s, channelName)
	s.channels[channelName] = ch
	s.mu.Unlock()

	if err := s.enqueue(frame{Type: "subscribe", Channel: channelName}); err != nil {
		s.mu.Lock()
		delete(s.channels, channelName)
		s.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

// Leave unsubscribes from a channel. Leaving a channel that is not joined (or
// already torn down) is a no-op.
func (s *Socket) Leave(channelName string) error {
	s.mu.Lock()
	_, ok := s.channels[channelName]
	if ok {
		delete(s.channels, channelName)
	}
	closed := s.closed
	s.mu.Unlock()
	if !ok || closed {
		return nil
	}
	return s.enqueue(frame{Type: "unsubscribe", Channel: channelName})
}

// Close tears the connection down. Safe to call multiple times.
func (s *Socket) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.channels = make(map[string]*socketChannel)
		s.mu.Unlock()
		s.cancel()
		close(s.done)
		s.conn.Close()
	})
}

// Wait blocks until both pumps have exited.
func (s *Socket) Wait() {
	s.wg.Wait()
}

func (s *Socket) enqueue(f frame) error {
	select {
	case s.send <- f:
		return nil
	case <-s.done:
		return fmt.Errorf("ws enqueue %s: socket closed", f.Type)
	default:
		return fmt.Errorf("ws enqueue %s: send buffer full", f.Type)
	}
}

func (s *Socket) dispatch(f frame) {
	s.mu.Lock()
	ch, ok := s.channels[f.Channel]
	s.mu.Unlock()
	if !ok {
		// Event for a channel we already left; the broker may still flush a
		// few frames after the unsubscribe is sent.
		logger.Debugf("ws drop %s for unjoined channel %s", f.Type, f.Channel)
		return
	}
	ch.dispatch(f)
}

func (s *Socket) readPump(ctx context.Context) {
	defer s.wg.Done()
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("ws set read deadline: %v", err)
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error: %v", err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			logger.Errorf("ws unmarshal error: %v", err)
			continue
		}
		if f.Channel == "" || f.Event == "" {
			continue
		}
		s.dispatch(f)
	}
}

func (s *Socket) writePump(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := s.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Debugf("ws close message: %v", err)
			}
			return
		case f := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline: %v", err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			enc := json.NewEncoder(buf)
			if err := enc.Encode(f); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error: %v", err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for websocket text frames.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := s.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline: %v", err)
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// socketChannel is one joined channel on a Socket.
type socketChannel struct {
	sock *Socket
	name string

	mu        sync.Mutex
	listeners map[string][]EventHandler
	whispers  map[string][]EventHandler
}

func newSocketChannel(s *Socket, name string) *socketChannel {
	return &socketChannel{
		sock:      s,
		name:      name,
		listeners: make(map[string][]EventHandler),
		whispers:  make(map[string][]EventHandler),
	}
}

func (c *socketChannel) Name() string { return c.name }

func (c *socketChannel) Listen(event string, fn EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[event] = append(c.listeners[event], fn)
}

func (c *socketChannel) ListenForWhisper(event string, fn EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.whispers[event] = append(c.whispers[event], fn)
}

func (c *socketChannel) Whisper(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ws whisper marshal %s: %w", event, err)
	}
	return c.sock.enqueue(frame{Type: "whisper", Channel: c.name, Event: event, Payload: raw})
}

func (c *socketChannel) dispatch(f frame) {
	c.mu.Lock()
	var fns []EventHandler
	switch f.Type {
	case "whisper":
		fns = append(fns, c.whispers[f.Event]...)
	default:
		fns = append(fns, c.listeners[f.Event]...)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(f.Payload)
	}
}
