package websocket

import (
	"time"

	"github.com/fbellamy/anonymiseur/internal/entity"
)

// EventType represents the type of WebSocket event.
type EventType string

const (
	// EventTypeDetection is emitted once per processed document with the
	// detection summary.
	EventTypeDetection EventType = "detection"
	// EventTypeProcessing is emitted for request-level lifecycle events.
	EventTypeProcessing EventType = "processing"
	// EventTypeSystemStatus carries periodic service health information.
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection signals clients joining or leaving.
	EventTypeConnection EventType = "connection"
)

// Event is a single message pushed to dashboard clients.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// DetectionEvent summarizes the entities found in one document. Entity
// text never appears here; only counts leave the processing request.
type DetectionEvent struct {
	RequestID    string                `json:"request_id"`
	Mode         string                `json:"mode"`
	ModeUsed     string                `json:"mode_used"`
	Degraded     bool                  `json:"degraded"`
	Entities     int                   `json:"entities"`
	Occurrences  int                   `json:"occurrences"`
	ByType       map[entity.Type]int   `json:"by_type"`
	BySource     map[entity.Source]int `json:"by_source"`
	ProcessingMS float64               `json:"processing_ms"`
}

// ProcessingEvent reports one handled HTTP request.
type ProcessingEvent struct {
	RequestID  string        `json:"request_id"`
	Method     string        `json:"method"`
	Path       string        `json:"path"`
	StatusCode int           `json:"status_code"`
	ClientIP   string        `json:"client_ip"`
	Duration   time.Duration `json:"duration"`
}

// SystemStatusEvent carries service health information.
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	NERAvailable     bool   `json:"ner_available"`
	OllamaAvailable  bool   `json:"ollama_available"`
	ActiveSessions   int    `json:"active_sessions"`
	ConnectedClients int    `json:"connected_clients"`
}

// ConnectionEvent signals dashboard clients joining or leaving.
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected" or "disconnected"
	ClientID string `json:"client_id"`
	ClientIP string `json:"client_ip"`
}

// ClientMessage represents messages sent from clients to the server.
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest narrows which event types a client receives.
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}
