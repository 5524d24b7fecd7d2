package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/chat-gateway/internal/json"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 1024
	sendBufferSize = 256
)

type ConnState int32

const (
	StateConnecting ConnState = iota
	StateIdentified
	StateActive
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdentified:
		return "identified"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type Client struct {
	id        string
	userId    string
	conn      *websocket.Conn
	gateway   *Gateway
	log       *zap.Logger
	send      chan *ServerMessage
	state     atomic.Int32
	createdAt time.Time
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewClient returns an Identified connection. userId is immutable for the
// lifetime of the connection.
func NewClient(id, userId string, conn *websocket.Conn, g *Gateway, l *zap.Logger) *Client {
	c := &Client{
		id:        id,
		userId:    userId,
		conn:      conn,
		gateway:   g,
		log:       l.With(zap.String("conn_id", id), zap.String("user_id", userId)),
		send:      make(chan *ServerMessage, sendBufferSize),
		createdAt: time.Now(),
		stop:      make(chan struct{}),
	}
	c.state.Store(int32(StateIdentified))

	return c
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) UserId() string {
	return c.userId
}

func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

// setState moves the connection forward to s. It reports false if the
// connection is already at or past s.
func (c *Client) setState(s ConnState) bool {
	for {
		cur := c.state.Load()
		if cur >= int32(s) {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return true
		}
	}
}

func (c *Client) pongWait() time.Duration {
	if c.gateway != nil && c.gateway.pongWait > 0 {
		return c.gateway.pongWait
	}
	return pongWait
}

func (c *Client) Write() {
	ticker := time.NewTicker(c.pongWait() * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Error("failed to serialize message", zap.Error(err))
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug("read exiting")
	}()

	wait := c.pongWait()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn("read failed", zap.Error(err))
			}
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(wait))

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug("error parsing message", zap.Error(err))
			c.queueMessage(ErrInvalidMessage(0))
			continue
		}

		if err := c.handle(&msg); err != nil {
			c.log.Debug("rejected message", zap.Int("id", msg.Id), zap.Error(err))
		}
	}
}

// handle applies msg and queues its response. Rejected messages leave
// the gateway state untouched and their error is returned.
func (c *Client) handle(msg *ClientMessage) error {
	if err := msg.validate(); err != nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return err
	}

	g := c.gateway
	switch {
	case msg.Join != nil:
		g.rooms.Join(c.id, msg.Join.RoomId)
		c.queueMessage(NoErrOK(msg.Id, map[string]any{"room_id": msg.Join.RoomId}))
	case msg.Leave != nil:
		if g.rooms.Leave(c.id, msg.Leave.RoomId) {
			g.typing.Clear(msg.Leave.RoomId, c.userId, c.id)
		}
		c.queueMessage(NoErrOK(msg.Id, map[string]any{"room_id": msg.Leave.RoomId}))
	case msg.Typing != nil:
		if !g.rooms.IsMember(c.id, msg.Typing.RoomId) {
			c.queueMessage(ErrRoomNotFound(msg.Id))
			return fmt.Errorf("typing in %s: %w", msg.Typing.RoomId, ErrRoomNotJoined)
		}
		g.typing.SetTyping(msg.Typing.RoomId, c.userId, c.id, msg.Typing.IsTyping)
	}

	return nil
}

// queueMessage queues msg without blocking and reports whether it was
// accepted.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn("send buffer full, dropping message", zap.String("event", msg.Event))
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn("write failed", zap.Error(err))
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.gateway.detach(c)
	c.stopClient()
}

