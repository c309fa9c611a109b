// Package model defines data structures for the assistant orchestration service.
package model

import (
	"sort"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// CastellEntity is a single castell identified in a question.
type CastellEntity struct {
	CastellCode string `json:"castell_code"`
	Status      string `json:"status,omitempty"`
}

// IdentifiedEntities is the structured payload disclosed by the fast path
// before the full answer is ready.
type IdentifiedEntities struct {
	Colles   []string        `json:"colles,omitempty"`
	Castells []CastellEntity `json:"castells,omitempty"`
	Anys     []int           `json:"anys,omitempty"`
	Llocs    []string        `json:"llocs,omitempty"`
	Diades   []string        `json:"diades,omitempty"`
}

// IsEmpty reports whether no entity category was identified.
func (e *IdentifiedEntities) IsEmpty() bool {
	if e == nil {
		return true
	}
	return len(e.Colles) == 0 && len(e.Castells) == 0 && len(e.Anys) == 0 &&
		len(e.Llocs) == 0 && len(e.Diades) == 0
}

// Clone returns a deep copy. Entities attached to a committed message are a
// snapshot; callers must never hand out the live slice.
func (e *IdentifiedEntities) Clone() *IdentifiedEntities {
	if e == nil {
		return nil
	}
	out := &IdentifiedEntities{}
	out.Colles = append([]string(nil), e.Colles...)
	out.Castells = append([]CastellEntity(nil), e.Castells...)
	out.Anys = append([]int(nil), e.Anys...)
	out.Llocs = append([]string(nil), e.Llocs...)
	out.Diades = append([]string(nil), e.Diades...)
	return out
}

// TableData is tabular auxiliary data produced by the SQL route.
type TableData struct {
	Title   string     `json:"title"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Message is a single turn entry in the conversation log.
//
// Content holds the question text on both roles: assistant messages keep the
// question they answer so follow-up context can be rebuilt without the paired
// user message.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Assistant-only fields, empty until the turn reaches terminal state.
	Response       string              `json:"response,omitempty"`
	RouteUsed      string              `json:"route_used,omitempty"`
	ResponseTimeMs int64               `json:"response_time_ms,omitempty"`
	TableData      *TableData          `json:"table_data,omitempty"`
	Entities       *IdentifiedEntities `json:"identified_entities,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Pending marks the optimistic placeholder inserted while a job is in
	// flight. Never persisted.
	Pending bool `json:"pending,omitempty"`
}

// Committed reports whether this message is part of a completed exchange.
func (m *Message) Committed() bool {
	if m.Pending {
		return false
	}
	if m.Role == RoleAssistant {
		return m.Response != ""
	}
	return true
}

// SortMessages orders a conversation log: timestamps non-decreasing, and on
// equal timestamps the user message of a pair sorts before its assistant
// message. Remote history arrives unsorted, so this runs on every load and
// after every commit.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Role == RoleUser && msgs[j].Role == RoleAssistant
		}
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}
