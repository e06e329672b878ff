package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"matchchat/internal/domain/entity"
)

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"U1", "U2"}, splitList(" U1, ,U2,"))
	assert.Empty(t, splitList(""))
}

func TestSeenSetReturnsNewMessagesOldestFirst(t *testing.T) {
	seen := newSeenSet()
	first := []*entity.Message{
		{ID: "b", Status: entity.MessageStatusSent},
		{ID: "a", Status: entity.MessageStatusSent},
	}
	got := seen.fresh(first)
	if assert.Len(t, got, 2) {
		assert.Equal(t, "a", got[0].ID)
		assert.Equal(t, "b", got[1].ID)
	}

	second := []*entity.Message{
		{ID: "d", Status: entity.MessageStatusSending},
		{ID: "c", Status: entity.MessageStatusSent},
		{ID: "b", Status: entity.MessageStatusRead},
		{ID: "a", Status: entity.MessageStatusSent},
	}
	got = seen.fresh(second)
	if assert.Len(t, got, 1) {
		assert.Equal(t, "c", got[0].ID)
	}
}
