package server

import (
	"fmt"

	"github.com/npezzotti/chat-gateway/internal/backplane"
	"github.com/npezzotti/chat-gateway/internal/types"
	"go.uber.org/zap"
)

// Relay pushes an already persisted message to every connection joined to
// its room and, when none of the recipient's connections joined the room,
// to every connection of the recipient. Delivery is best effort: nothing is
// retried and the message store stays authoritative. It returns the number
// of local connections the message was queued on.
func (g *Gateway) Relay(m types.Message, recipientId string) (int, error) {
	if m.Id == "" || m.RoomId == "" {
		return 0, fmt.Errorf("%w: message id and room id are required", ErrMalformedEvent)
	}

	n := g.relayLocal(m, recipientId)
	g.publish(backplane.Event{
		Kind:        backplane.KindRelay,
		Message:     &m,
		RecipientId: recipientId,
	})

	return n, nil
}

func (g *Gateway) relayLocal(m types.Message, recipientId string) int {
	msg := RelayedMessage(m)
	n := g.deliverToRoom(m.RoomId, "", msg)

	if recipientId != "" {
		conns := g.registry.Connections(recipientId)

		joined := false
		for _, connId := range conns {
			if g.rooms.IsMember(connId, m.RoomId) {
				joined = true
				break
			}
		}

		if !joined {
			for _, connId := range conns {
				if g.deliver(connId, msg) {
					n++
				}
			}
		}
	}

	g.log.Debug("message relayed",
		zap.String("message_id", m.Id),
		zap.String("room_id", m.RoomId),
		zap.Int64("seq_id", m.SeqId),
		zap.Int("connections", n),
	)
	return n
}
