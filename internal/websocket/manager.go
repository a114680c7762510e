package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"fieldsync-agent/internal/domain"
	"fieldsync-agent/internal/queue"

	"github.com/rs/zerolog"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

type MessageHandler interface {
	HandleWebSocketMessage(client *Client, msg *Message) error
}

// Manager fans merged sync state out to the connected UI views on this
// device. It also implements the sync engine's Notifier.
type Manager struct {
	clients      map[string]*Client
	clientsMutex sync.RWMutex

	Register      chan *Client
	Unregister    chan *Client
	HandleMessage chan *ClientMessage

	maxClients     int
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	messageHandler MessageHandler
	log            zerolog.Logger
}

func NewManager(maxClients int, writeWait, pongWait, pingPeriod time.Duration, log zerolog.Logger) *Manager {
	return &Manager{
		clients:       make(map[string]*Client),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		HandleMessage: make(chan *ClientMessage),
		maxClients:    maxClients,
		writeWait:     writeWait,
		pongWait:      pongWait,
		pingPeriod:    pingPeriod,
		log:           log.With().Str("component", "websocket").Logger(),
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

func (m *Manager) Run() {
	for {
		select {
		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(clientMsg)
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if len(m.clients) >= m.maxClients {
		m.log.Warn().Str("client_id", client.ID).Msg("max UI connections reached")
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	m.log.Debug().Str("client_id", client.ID).Str("device_id", client.DeviceID).Msg("ui client connected")
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; ok {
		delete(m.clients, client.ID)
		close(client.Send)
		if client.unwatch != nil {
			client.unwatch()
		}
		m.log.Debug().Str("client_id", client.ID).Msg("ui client disconnected")
	}
}

func (m *Manager) processMessage(clientMsg *ClientMessage) {
	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		m.log.Warn().Err(err).Msg("malformed websocket message")
		return
	}

	if m.messageHandler != nil {
		if err := m.messageHandler.HandleWebSocketMessage(clientMsg.Client, &msg); err != nil {
			m.log.Warn().Err(err).Str("type", string(msg.Type)).Msg("websocket message handling failed")
		}
	}
}

// Broadcast sends a message to every connected UI client.
func (m *Manager) Broadcast(message *Message) {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	messageBytes, err := json.Marshal(message)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to encode broadcast")
		return
	}

	for id, client := range m.clients {
		select {
		case client.Send <- messageBytes:
		default:
			m.log.Warn().Str("client_id", id).Msg("send buffer full, dropping client")
			go func(c *Client) { m.Unregister <- c }(client)
		}
	}
}

func (m *Manager) ClientCount() int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	return len(m.clients)
}

// Notifier implementation consumed by the sync engine.

func (m *Manager) ResultUpdated(result *domain.InspectionResult) {
	m.broadcastTyped(TypeResultUpdate, &ResultUpdatePayload{Result: result})
}

func (m *Manager) ResultsReplaced(eventID string, results []*domain.InspectionResult) {
	m.broadcastTyped(TypeResultsSnapshot, &ResultsSnapshotPayload{EventID: eventID, Results: results})
}

func (m *Manager) ConflictDetected(result *domain.InspectionResult) {
	m.broadcastTyped(TypeConflict, &ConflictPayload{Result: result})
}

func (m *Manager) QueueDrained(report queue.Report) {
	m.broadcastTyped(TypeQueueDrained, &QueueDrainedPayload{Report: report})
}

func (m *Manager) broadcastTyped(msgType MessageType, payload interface{}) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		m.log.Error().Err(err).Str("type", string(msgType)).Msg("failed to build message")
		return
	}
	m.Broadcast(msg)
}
