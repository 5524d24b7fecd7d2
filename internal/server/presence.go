package server

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"
)

type presenceTransition struct {
	userId string
	online bool
	// nodeId is set when another node replaced its whole online set.
	nodeId string
}

// remotePresence records which other gateway nodes hold a connection for
// an identity.
type remotePresence struct {
	mu    sync.RWMutex
	users map[string]stringSet
}

func newRemotePresence() *remotePresence {
	return &remotePresence{users: make(map[string]stringSet)}
}

func (rp *remotePresence) set(nodeId, userId string, online bool) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	nodes, ok := rp.users[userId]
	if online {
		if !ok {
			nodes = make(stringSet)
			rp.users[userId] = nodes
		}
		nodes[nodeId] = struct{}{}
		return
	}

	if ok {
		delete(nodes, nodeId)
		if len(nodes) == 0 {
			delete(rp.users, userId)
		}
	}
}

// replace swaps the whole online set reported by nodeId.
func (rp *remotePresence) replace(nodeId string, users []string) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	for userId, nodes := range rp.users {
		delete(nodes, nodeId)
		if len(nodes) == 0 {
			delete(rp.users, userId)
		}
	}
	for _, userId := range users {
		nodes, ok := rp.users[userId]
		if !ok {
			nodes = make(stringSet)
			rp.users[userId] = nodes
		}
		nodes[nodeId] = struct{}{}
	}
}

func (rp *remotePresence) online(userId string) bool {
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	_, ok := rp.users[userId]
	return ok
}

func (rp *remotePresence) snapshot() []string {
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	users := make([]string, 0, len(rp.users))
	for userId := range rp.users {
		users = append(users, userId)
	}
	return users
}

// PresenceBroadcaster announces the full online snapshot to every live
// connection whenever an identity goes online or offline. Transitions are
// handled one at a time, in the order they were queued.
type PresenceBroadcaster struct {
	log         *zap.Logger
	registry    *Registry
	remote      *remotePresence
	broadcast   func(*ServerMessage)
	transitions chan presenceTransition
	done        chan struct{}
}

func NewPresenceBroadcaster(log *zap.Logger, registry *Registry, broadcast func(*ServerMessage)) *PresenceBroadcaster {
	return &PresenceBroadcaster{
		log:         log,
		registry:    registry,
		remote:      newRemotePresence(),
		broadcast:   broadcast,
		transitions: make(chan presenceTransition, 1024),
		done:        make(chan struct{}),
	}
}

// Notify queues a transition. It blocks while the queue is full and
// returns false if the broadcaster stopped.
func (p *PresenceBroadcaster) Notify(userId string, online bool) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case p.transitions <- presenceTransition{userId: userId, online: online}:
		return true
	case <-p.done:
		return false
	}
}

// NotifySync queues a snapshot after nodeId reported its full online set.
func (p *PresenceBroadcaster) NotifySync(nodeId string) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case p.transitions <- presenceTransition{nodeId: nodeId}:
		return true
	case <-p.done:
		return false
	}
}

// Run processes transitions until ctx is done.
func (p *PresenceBroadcaster) Run(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case tr := <-p.transitions:
			if tr.nodeId != "" {
				p.log.Debug("presence synced", zap.String("remote_node", tr.nodeId))
			} else {
				p.log.Debug("presence changed",
					zap.String("user_id", tr.userId),
					zap.Bool("online", tr.online),
				)
			}
			p.broadcast(PresenceMessage(p.Snapshot()))
		case <-ctx.Done():
			return
		}
	}
}

// Snapshot returns the sorted union of identities online on this node and
// on any other node.
func (p *PresenceBroadcaster) Snapshot() []string {
	users := append(p.registry.OnlineSnapshot(), p.remote.snapshot()...)
	slices.Sort(users)
	return slices.Compact(users)
}

// IsOnline reports whether userId is online on any node.
func (p *PresenceBroadcaster) IsOnline(userId string) bool {
	return p.registry.IsOnline(userId) || p.remote.online(userId)
}
