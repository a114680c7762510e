package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"fieldsync-agent/internal/sync"
	"fieldsync-agent/internal/websocket"
	"fieldsync-agent/pkg/identity"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type WebSocketHandler struct {
	manager        *websocket.Manager
	identitySecret string
	upgrader       ws.Upgrader
	log            zerolog.Logger
}

func NewWebSocketHandler(manager *websocket.Manager, identitySecret string, log zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		manager:        manager,
		identitySecret: identitySecret,
		log:            log.With().Str("component", "ws-handler").Logger(),
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
	}

	if token == "" {
		http.Error(w, "missing authorization token", http.StatusUnauthorized)
		return
	}

	claims, err := identity.Parse(token, h.identitySecret)
	if err != nil {
		h.log.Warn().Err(err).Msg("token validation failed")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	clientID := uuid.New().String()
	client := websocket.NewClient(clientID, claims.UserID, claims.DeviceID, conn, h.manager, h.log)

	h.manager.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

// WebSocketMessageHandler serves the watch/ping messages from UI clients.
type WebSocketMessageHandler struct {
	engine *sync.Engine
	log    zerolog.Logger
}

func NewWebSocketMessageHandler(engine *sync.Engine, log zerolog.Logger) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{
		engine: engine,
		log:    log.With().Str("component", "ws-messages").Logger(),
	}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypeWatch:
		return h.handleWatch(client, msg)

	case websocket.TypePing:
		return h.handlePing(client)

	default:
		h.log.Debug().Str("type", string(msg.Type)).Msg("unknown message type")
	}

	return nil
}

// handleWatch subscribes the agent to the event's server-push feed. The
// broadcast fan-out delivers the merged snapshots back to this client.
func (h *WebSocketMessageHandler) handleWatch(client *websocket.Client, msg *websocket.Message) error {
	var payload websocket.WatchPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return err
	}

	// The subscription outlives the message, so it is not tied to a request
	// context; teardown happens through SetUnwatch on disconnect or rewatch.
	unwatch, err := h.engine.WatchResults(context.Background(), payload.ProjectID, payload.EventID)
	if err != nil {
		// The engine already served the cached snapshot as the fallback.
		return err
	}
	client.SetUnwatch(unwatch)
	return nil
}

func (h *WebSocketMessageHandler) handlePing(client *websocket.Client) error {
	pongMsg, err := websocket.NewMessage(websocket.TypePong, nil)
	if err != nil {
		return err
	}

	pongBytes, err := json.Marshal(pongMsg)
	if err != nil {
		return err
	}
	client.Send <- pongBytes

	return nil
}
