package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/chat-gateway/internal/backplane"
	"github.com/npezzotti/chat-gateway/internal/stats"
	"github.com/npezzotti/chat-gateway/internal/types"
	"github.com/teris-io/shortid"
	"go.uber.org/zap"
)

const (
	defaultPresenceGrace = 3 * time.Second
	defaultTypingTTL     = 3 * time.Second
	outboundQueueSize    = 1024
)

type Option func(*Gateway)

func WithPresenceGrace(d time.Duration) Option {
	return func(g *Gateway) { g.presenceGrace = d }
}

func WithTypingTTL(d time.Duration) Option {
	return func(g *Gateway) { g.typingTTL = d }
}

func WithPongWait(d time.Duration) Option {
	return func(g *Gateway) { g.pongWait = d }
}

func WithNodeId(id string) Option {
	return func(g *Gateway) { g.nodeId = id }
}

type clientShard struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// Gateway owns the connection registry, room membership, presence, typing
// and relay state of one gateway node.
type Gateway struct {
	log      *zap.Logger
	stats    stats.StatsProvider
	nodeId   string
	registry *Registry
	rooms    *Rooms
	presence *PresenceBroadcaster
	typing   *TypingChannel
	clients  [shardCount]clientShard
	bp       backplane.Backplane
	outbound chan backplane.Event

	presenceGrace time.Duration
	typingTTL     time.Duration
	pongWait      time.Duration

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

func NewGateway(log *zap.Logger, su stats.StatsProvider, bp backplane.Backplane, opts ...Option) *Gateway {
	g := &Gateway{
		log:           log,
		stats:         su,
		nodeId:        uuid.NewString(),
		bp:            bp,
		outbound:      make(chan backplane.Event, outboundQueueSize),
		presenceGrace: defaultPresenceGrace,
		typingTTL:     defaultTypingTTL,
		pongWait:      pongWait,
		stopped:       make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.bp == nil {
		g.bp = backplane.NewLocal()
	}
	for i := range g.clients {
		g.clients[i].clients = make(map[string]*Client)
	}

	g.log = g.log.With(zap.String("node_id", g.nodeId))
	g.registry = NewRegistry(g.presenceGrace, g.wentOffline)
	g.rooms = NewRooms(su)
	g.presence = NewPresenceBroadcaster(g.log, g.registry, g.broadcast)
	g.typing = NewTypingChannel(g.typingTTL, g.typingChanged)

	for _, name := range []string{"ActiveConnections", "OnlineUsers", "RelayedEvents", "DroppedEvents"} {
		su.RegisterMetric(name)
	}

	return g
}

func (g *Gateway) NodeId() string {
	return g.nodeId
}

func (g *Gateway) Registry() *Registry {
	return g.registry
}

func (g *Gateway) Rooms() *Rooms {
	return g.rooms
}

// Run starts the presence broadcaster and the backplane exchange and blocks
// until ctx is done or Shutdown is called. All connections are closed before
// it returns.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(g.done)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		g.presence.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		g.publishLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		// asking for the other nodes' online sets before the subscription is
		// live would lose their replies
		err := g.bp.Subscribe(ctx, g.handleRemote, func() {
			g.publish(backplane.Event{Kind: backplane.KindSyncRequest})
		})
		if err != nil && ctx.Err() == nil {
			g.log.Error("backplane subscription ended", zap.Error(err))
		}
	}()

	g.log.Info("gateway started")

	select {
	case <-ctx.Done():
	case <-g.stopped:
	}
	cancel()

	g.closeClients()
	g.registry.Stop()
	g.typing.Stop()

	// tell the other nodes this node holds nobody any more
	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), time.Second)
	defer leaveCancel()
	if err := g.bp.Publish(leaveCtx, backplane.Event{
		Kind:   backplane.KindPresenceSync,
		Origin: g.nodeId,
	}); err != nil {
		g.log.Warn("failed to publish departure", zap.Error(err))
	}

	wg.Wait()
	g.log.Info("gateway stopped")
	return nil
}

// Shutdown stops Run and waits for it to return or for ctx to be done.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.stopOnce.Do(func() { close(g.stopped) })

	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attach makes conn an Active connection of userId. The identity must have
// been verified by the caller.
func (g *Gateway) Attach(conn *websocket.Conn, userId string) (*Client, error) {
	select {
	case <-g.stopped:
		return nil, ErrGatewayStopped
	default:
	}

	connId, err := shortid.Generate()
	if err != nil {
		return nil, err
	}

	c := NewClient(connId, userId, conn, g, g.log)
	g.activate(c)

	go c.Write()
	go c.Read()

	return c, nil
}

func (g *Gateway) activate(c *Client) {
	g.addClient(c)

	c.setState(StateActive)
	c.queueMessage(WelcomeMessage(c.id, c.userId))

	if g.registry.Register(c.userId, c.id) {
		g.wentOnline(c.userId)
	} else {
		// no transition to broadcast, the new connection still needs the
		// current snapshot
		c.queueMessage(PresenceMessage(g.presence.Snapshot()))
	}

	g.log.Info("connection active",
		zap.String("conn_id", c.id),
		zap.String("user_id", c.userId),
	)
}

// detach runs the Disconnected transition for c exactly once.
func (g *Gateway) detach(c *Client) {
	if !c.setState(StateDisconnected) {
		return
	}

	for _, roomId := range g.rooms.LeaveAll(c.id) {
		g.typing.Clear(roomId, c.userId, c.id)
	}
	g.registry.Unregister(c.id)
	g.removeClient(c)

	g.log.Info("connection closed",
		zap.String("conn_id", c.id),
		zap.String("user_id", c.userId),
		zap.Duration("duration", time.Since(c.createdAt)),
	)
}

func (g *Gateway) wentOnline(userId string) {
	g.stats.Incr("OnlineUsers")
	g.presence.Notify(userId, true)
	g.publish(backplane.Event{
		Kind:     backplane.KindPresence,
		Presence: &backplane.PresenceChange{UserId: userId, Online: true},
	})
}

func (g *Gateway) wentOffline(userId string) {
	g.stats.Decr("OnlineUsers")
	g.presence.Notify(userId, false)
	g.publish(backplane.Event{
		Kind:     backplane.KindPresence,
		Presence: &backplane.PresenceChange{UserId: userId, Online: false},
	})
}

// IsOnline reports whether userId holds a connection on any node.
func (g *Gateway) IsOnline(userId string) bool {
	return g.presence.IsOnline(userId)
}

// OnlineSnapshot returns every identity online on any node.
func (g *Gateway) OnlineSnapshot() []string {
	return g.presence.Snapshot()
}

func (g *Gateway) addClient(c *Client) {
	s := &g.clients[shardIndex(c.id)]
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	g.stats.Incr("ActiveConnections")
}

func (g *Gateway) removeClient(c *Client) {
	s := &g.clients[shardIndex(c.id)]
	s.mu.Lock()
	_, ok := s.clients[c.id]
	delete(s.clients, c.id)
	s.mu.Unlock()

	if ok {
		g.stats.Decr("ActiveConnections")
	}
}

func (g *Gateway) client(connId string) *Client {
	s := &g.clients[shardIndex(connId)]
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.clients[connId]
}

func (g *Gateway) allClients() []*Client {
	var clients []*Client
	for i := range g.clients {
		s := &g.clients[i]
		s.mu.RLock()
		for _, c := range s.clients {
			clients = append(clients, c)
		}
		s.mu.RUnlock()
	}
	return clients
}

func (g *Gateway) closeClients() {
	for _, c := range g.allClients() {
		c.stopClient()
	}
}

// deliver queues msg on connId without blocking. A full or missing
// connection drops the event.
func (g *Gateway) deliver(connId string, msg *ServerMessage) bool {
	c := g.client(connId)
	if c == nil || !c.queueMessage(msg) {
		g.stats.Incr("DroppedEvents")
		return false
	}

	g.stats.Incr("RelayedEvents")
	return true
}

// deliverToRoom queues msg on every member of roomId not owned by
// excludeUser and returns the number of connections reached.
func (g *Gateway) deliverToRoom(roomId, excludeUser string, msg *ServerMessage) int {
	var n int
	for _, connId := range g.rooms.MembersOf(roomId) {
		if excludeUser != "" {
			if owner, ok := g.registry.Owner(connId); ok && owner == excludeUser {
				continue
			}
		}
		if g.deliver(connId, msg) {
			n++
		}
	}
	return n
}

func (g *Gateway) broadcast(msg *ServerMessage) {
	for _, c := range g.allClients() {
		if !c.queueMessage(msg) {
			g.stats.Incr("DroppedEvents")
		}
	}
}

func (g *Gateway) typingChanged(state types.TypingState) {
	g.deliverToRoom(state.RoomId, state.UserId, TypingMessage(state))
	g.publish(backplane.Event{Kind: backplane.KindTyping, Typing: &state})
}

// publish queues ev for the other nodes without blocking.
func (g *Gateway) publish(ev backplane.Event) {
	ev.Origin = g.nodeId
	select {
	case g.outbound <- ev:
	default:
		g.stats.Incr("DroppedEvents")
		g.log.Warn("backplane queue full, dropping event", zap.String("kind", string(ev.Kind)))
	}
}

func (g *Gateway) publishLoop(ctx context.Context) {
	for {
		select {
		case ev := <-g.outbound:
			if err := g.bp.Publish(ctx, ev); err != nil && ctx.Err() == nil {
				g.log.Warn("failed to publish event",
					zap.String("kind", string(ev.Kind)),
					zap.Error(err),
				)
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleRemote applies an event published by another node to the local
// connections.
func (g *Gateway) handleRemote(ev backplane.Event) {
	if ev.Origin == g.nodeId || ev.Origin == "" {
		return
	}

	switch ev.Kind {
	case backplane.KindRelay:
		if ev.Message != nil {
			g.relayLocal(*ev.Message, ev.RecipientId)
		}
	case backplane.KindSeen:
		if ev.Seen != nil {
			g.seenLocal(*ev.Seen)
		}
	case backplane.KindTyping:
		if ev.Typing != nil {
			g.deliverToRoom(ev.Typing.RoomId, ev.Typing.UserId, TypingMessage(*ev.Typing))
		}
	case backplane.KindPresence:
		if ev.Presence != nil {
			g.presence.remote.set(ev.Origin, ev.Presence.UserId, ev.Presence.Online)
			g.presence.Notify(ev.Presence.UserId, ev.Presence.Online)
		}
	case backplane.KindSyncRequest:
		g.publish(backplane.Event{
			Kind:  backplane.KindPresenceSync,
			Users: g.registry.OnlineSnapshot(),
		})
	case backplane.KindPresenceSync:
		g.presence.remote.replace(ev.Origin, ev.Users)
		g.presence.NotifySync(ev.Origin)
	default:
		g.log.Warn("unknown backplane event", zap.String("kind", string(ev.Kind)))
	}
}
