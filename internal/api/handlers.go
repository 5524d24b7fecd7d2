package api

import (
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/chat-gateway/internal/database"
	"github.com/npezzotti/chat-gateway/internal/json"
	"github.com/npezzotti/chat-gateway/internal/server"
	"github.com/npezzotti/chat-gateway/internal/types"
	"go.uber.org/zap"
)

type RelayMessageRequest struct {
	Message     types.Message `json:"message"`
	RecipientId string        `json:"recipient_id"`
}

type RelayResponse struct {
	Delivered int `json:"delivered"`
}

type PresenceResponse struct {
	UserId string `json:"user_id"`
	Online bool   `json:"online"`
}

type OnlineUsersResponse struct {
	Online []string `json:"online"`
}

func (s *GatewayApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("json encode", zap.Error(err))
	}
}

func (s *GatewayApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Error("health check failed", zap.Error(err))
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GatewayApp) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("error upgrading connection", zap.Error(err))
		return
	}

	if _, err := s.gw.Attach(conn, userId); err != nil {
		s.log.Warn("failed to attach connection", zap.String("user_id", userId), zap.Error(err))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "gateway unavailable"))
		conn.Close()
	}
}

func (s *GatewayApp) listChats(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	chats, err := s.db.ListChatsForUser(r.Context(), userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.log.Error("list chats", zap.String("user_id", userId), zap.Error(err))
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, chats)
}

// listMessages serves the catch-up fetch clients run after (re)connecting.
// Messages come back in persisted order, oldest first.
func (s *GatewayApp) listMessages(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())
	roomId := r.PathValue("roomId")

	since, err := parseQueryInt(r, "since")
	if err != nil || since < 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	limit, err := parseQueryInt(r, "limit")
	if err != nil || limit < 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chat, err := s.db.GetChat(r.Context(), roomId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !chat.HasUser(userId) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages, err := s.db.ListMessagesByChat(r.Context(), roomId, since, int(limit))
	if err != nil {
		errResp := NewInternalServerError(err)
		s.log.Error("list messages", zap.String("room_id", roomId), zap.Error(err))
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, messages)
}

func parseQueryInt(r *http.Request, key string) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func (s *GatewayApp) presenceSnapshot(w http.ResponseWriter, r *http.Request) {
	online := s.gw.OnlineSnapshot()
	if online == nil {
		online = []string{}
	}
	s.writeJson(w, http.StatusOK, OnlineUsersResponse{Online: online})
}

func (s *GatewayApp) userPresence(w http.ResponseWriter, r *http.Request) {
	userId := r.PathValue("userId")
	s.writeJson(w, http.StatusOK, PresenceResponse{
		UserId: userId,
		Online: s.gw.IsOnline(userId),
	})
}

// relayMessage is called by the chat service once a message is persisted.
func (s *GatewayApp) relayMessage(w http.ResponseWriter, r *http.Request) {
	var req RelayMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	n, err := s.gw.Relay(req.Message, req.RecipientId)
	if err != nil {
		s.writeRelayError(w, err)
		return
	}

	s.writeJson(w, http.StatusAccepted, RelayResponse{Delivered: n})
}

// relaySeen is called by the chat service once a batch of messages is
// marked seen.
func (s *GatewayApp) relaySeen(w http.ResponseWriter, r *http.Request) {
	var receipt types.SeenReceipt
	if err := json.NewDecoder(r.Body).Decode(&receipt); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	n, err := s.gw.NotifySeen(receipt)
	if err != nil {
		s.writeRelayError(w, err)
		return
	}

	s.writeJson(w, http.StatusAccepted, RelayResponse{Delivered: n})
}

func (s *GatewayApp) writeRelayError(w http.ResponseWriter, err error) {
	var errResp *ApiError
	if errors.Is(err, server.ErrMalformedEvent) {
		errResp = NewBadRequestError()
	} else {
		errResp = NewInternalServerError(err)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}
