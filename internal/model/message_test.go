package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSortMessagesOrdersPairs(t *testing.T) {
	ts := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: "a2", Role: RoleAssistant, Timestamp: ts.Add(time.Minute)},
		{ID: "a1", Role: RoleAssistant, Timestamp: ts},
		{ID: "u2", Role: RoleUser, Timestamp: ts.Add(time.Minute)},
		{ID: "u1", Role: RoleUser, Timestamp: ts},
	}

	SortMessages(msgs)

	got := make([]string, len(msgs))
	for i, m := range msgs {
		got[i] = m.ID
	}
	assert.Equal(t, []string{"u1", "a1", "u2", "a2"}, got)
}

func TestSortMessagesIsStable(t *testing.T) {
	ts := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: "u1", Role: RoleUser, Timestamp: ts},
		{ID: "u2", Role: RoleUser, Timestamp: ts},
		{ID: "a1", Role: RoleAssistant, Timestamp: ts},
	}

	SortMessages(msgs)

	assert.Equal(t, "u1", msgs[0].ID)
	assert.Equal(t, "u2", msgs[1].ID)
	assert.Equal(t, "a1", msgs[2].ID)
}

func TestCommitted(t *testing.T) {
	assert.True(t, (&Message{Role: RoleUser}).Committed())
	assert.False(t, (&Message{Role: RoleUser, Pending: true}).Committed())
	assert.False(t, (&Message{Role: RoleAssistant}).Committed())
	assert.True(t, (&Message{Role: RoleAssistant, Response: "r"}).Committed())
}

func TestIdentifiedEntitiesNilSafety(t *testing.T) {
	var e *IdentifiedEntities
	assert.True(t, e.IsEmpty())
	assert.Nil(t, e.Clone())

	e = &IdentifiedEntities{}
	assert.True(t, e.IsEmpty())

	e = &IdentifiedEntities{Anys: []int{2019}}
	assert.False(t, e.IsEmpty())
}

func TestCloneIsADeepCopy(t *testing.T) {
	e := &IdentifiedEntities{
		Colles:   []string{"Colla Vella"},
		Castells: []CastellEntity{{CastellCode: "4d9f", Status: "carregat"}},
	}
	c := e.Clone()
	c.Colles[0] = "mutated"
	c.Castells[0].Status = "descarregat"

	assert.Equal(t, "Colla Vella", e.Colles[0])
	assert.Equal(t, "carregat", e.Castells[0].Status)
}
