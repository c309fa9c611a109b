package model

import (
	"time"
)

// TurnEventType classifies turn lifecycle events published to the view layer.
type TurnEventType string

const (
	// TurnEventSubmitted fires when the placeholder is inserted.
	TurnEventSubmitted TurnEventType = "turn_submitted"
	// TurnEventEntities fires once per turn when partial entities are known.
	TurnEventEntities TurnEventType = "entities"
	// TurnEventCommitted fires when the exchange is committed to the log.
	TurnEventCommitted TurnEventType = "turn_committed"
	// TurnEventFailed fires when the turn resolved as a failure entry.
	TurnEventFailed TurnEventType = "turn_failed"
)

// TurnEvent is a single turn lifecycle notification.
type TurnEvent struct {
	Type      TurnEventType       `json:"type"`
	UserID    string              `json:"user_id"`
	TurnID    string              `json:"turn_id"`
	Entities  *IdentifiedEntities `json:"identified_entities,omitempty"`
	RouteUsed string              `json:"route_used,omitempty"`
	Message   *Message            `json:"message,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}
