package server

import (
	"fmt"

	"github.com/npezzotti/chat-gateway/internal/backplane"
	"github.com/npezzotti/chat-gateway/internal/types"
	"go.uber.org/zap"
)

// NotifySeen sends one seen-update for the batch to every connection joined
// to the room whose identity is not the reader. The persisted seen flag is
// authoritative; this is a hint.
func (g *Gateway) NotifySeen(receipt types.SeenReceipt) (int, error) {
	if receipt.RoomId == "" || receipt.SeenBy == "" || len(receipt.MessageIds) == 0 {
		return 0, fmt.Errorf("%w: room id, seen by and message ids are required", ErrMalformedEvent)
	}

	n := g.seenLocal(receipt)
	g.publish(backplane.Event{Kind: backplane.KindSeen, Seen: &receipt})

	return n, nil
}

func (g *Gateway) seenLocal(receipt types.SeenReceipt) int {
	n := g.deliverToRoom(receipt.RoomId, receipt.SeenBy, SeenMessage(receipt))

	g.log.Debug("seen update relayed",
		zap.String("room_id", receipt.RoomId),
		zap.String("seen_by", receipt.SeenBy),
		zap.Int("messages", len(receipt.MessageIds)),
		zap.Int("connections", n),
	)
	return n
}
