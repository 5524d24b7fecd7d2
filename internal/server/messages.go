package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/npezzotti/chat-gateway/internal/types"
)

const (
	EventPresenceSnapshot = "presence-snapshot"
	EventMessageRelayed   = "message-relayed"
	EventTypingState      = "typing-state"
	EventSeenUpdate       = "seen-update"
	EventWelcome          = "welcome"
	EventResponse         = "response"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a frame sent by a client. Exactly one action is set.
type ClientMessage struct {
	BaseMessage
	Join   *Join   `json:"join,omitempty"`
	Leave  *Leave  `json:"leave,omitempty"`
	Typing *Typing `json:"typing,omitempty"`
}

type Join struct {
	RoomId string `json:"room_id"`
}

type Leave struct {
	RoomId string `json:"room_id"`
}

type Typing struct {
	RoomId   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

func (m *ClientMessage) validate() error {
	var actions int
	var roomId string
	if m.Join != nil {
		actions++
		roomId = m.Join.RoomId
	}
	if m.Leave != nil {
		actions++
		roomId = m.Leave.RoomId
	}
	if m.Typing != nil {
		actions++
		roomId = m.Typing.RoomId
	}

	switch {
	case actions == 0:
		return fmt.Errorf("%w: no action", ErrMalformedEvent)
	case actions > 1:
		return fmt.Errorf("%w: more than one action", ErrMalformedEvent)
	case strings.TrimSpace(roomId) == "":
		return fmt.Errorf("%w: missing room id", ErrMalformedEvent)
	}
	return nil
}

// ServerMessage is a frame pushed to a client.
type ServerMessage struct {
	BaseMessage
	Event        string         `json:"event"`
	Response     *Response      `json:"response,omitempty"`
	Message      *types.Message `json:"message,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type Notification struct {
	Presence *PresenceSnapshot  `json:"presence,omitempty"`
	Typing   *types.TypingState `json:"typing,omitempty"`
	Seen     *types.SeenReceipt `json:"seen,omitempty"`
	Welcome  *Welcome           `json:"welcome,omitempty"`
}

type PresenceSnapshot struct {
	Online []string `json:"online"`
}

// Welcome is the first frame of an Active connection. Resync tells the
// client that nothing missed while disconnected will be replayed and the
// rooms it cares about must be fetched from the message store.
type Welcome struct {
	ConnectionId string `json:"connection_id"`
	UserId       string `json:"user_id"`
	Resync       bool   `json:"resync"`
}

func newEvent(event string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Event:       event,
	}
}

func PresenceMessage(online []string) *ServerMessage {
	if online == nil {
		online = []string{}
	}
	msg := newEvent(EventPresenceSnapshot)
	msg.Notification = &Notification{Presence: &PresenceSnapshot{Online: online}}
	return msg
}

func RelayedMessage(m types.Message) *ServerMessage {
	msg := newEvent(EventMessageRelayed)
	msg.Message = &m
	return msg
}

func TypingMessage(state types.TypingState) *ServerMessage {
	msg := newEvent(EventTypingState)
	msg.Notification = &Notification{Typing: &state}
	return msg
}

func SeenMessage(receipt types.SeenReceipt) *ServerMessage {
	msg := newEvent(EventSeenUpdate)
	msg.Notification = &Notification{Seen: &receipt}
	return msg
}

func WelcomeMessage(connId, userId string) *ServerMessage {
	msg := newEvent(EventWelcome)
	msg.Notification = &Notification{Welcome: &Welcome{
		ConnectionId: connId,
		UserId:       userId,
		Resync:       true,
	}}
	return msg
}

func response(id, code int, errMsg string, data any) *ServerMessage {
	msg := newEvent(EventResponse)
	msg.Id = id
	msg.Response = &Response{
		ResponseCode: code,
		Error:        errMsg,
		Data:         data,
	}
	return msg
}

func NoErrOK(id int, data any) *ServerMessage {
	return response(id, http.StatusOK, "", data)
}

func ErrRoomNotFound(id int) *ServerMessage {
	return response(id, http.StatusNotFound, ErrRoomNotJoined.Error(), nil)
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return response(id, http.StatusServiceUnavailable, "service unavailable", nil)
}

func ErrInvalidMessage(id int) *ServerMessage {
	if id < 0 {
		id = 0
	}
	return response(id, http.StatusBadRequest, "invalid message format", nil)
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
