package repository

import (
	stderrors "errors"
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"matchchat/internal/domain/repository"
	"matchchat/pkg/errors"
)

func TestMapErrorClassifiesStoreFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"not found", status.Error(codes.NotFound, "missing"), errors.CodeNotFound},
		{"unavailable", status.Error(codes.Unavailable, "down"), errors.CodeTransport},
		{"deadline", status.Error(codes.DeadlineExceeded, "slow"), errors.CodeTransport},
		{"invalid", status.Error(codes.InvalidArgument, "bad"), errors.CodeInternal},
		{"breaker open", gobreaker.ErrOpenState, errors.CodeTransport},
		{"plain", stderrors.New("boom"), errors.CodeTransport},
		{"already mapped", errors.Validation("roomId is required"), errors.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(mapError("get", "chatRooms/r1", tt.err), tt.code))
		})
	}
}

func TestMapErrorNamesResource(t *testing.T) {
	err := mapError("get", "chatRooms/r1", status.Error(codes.NotFound, "missing"))
	assert.Contains(t, err.Error(), "Chat room not found")

	err = mapError("get", "chatRooms/r1/messages/m1", status.Error(codes.NotFound, "missing"))
	assert.Contains(t, err.Error(), "Message not found")
}

func TestToFirestoreValueTranslatesTransforms(t *testing.T) {
	assert.Equal(t, firestore.ServerTimestamp, toFirestoreValue(repository.ServerTimestamp))
	assert.Equal(t, firestore.Delete, toFirestoreValue(repository.DeleteField))
	assert.Equal(t, "plain", toFirestoreValue("plain"))

	nested := toFirestoreMap(map[string]interface{}{
		"lastSeen": map[string]interface{}{"u1": repository.ServerTimestamp},
	})
	assert.Equal(t, firestore.ServerTimestamp, nested["lastSeen"].(map[string]interface{})["u1"])

	updates := toFirestoreUpdates([]repository.FieldUpdate{
		repository.UpdateField(repository.Increment(1), "unreadCount", "user.with.dots"),
	})
	assert.Equal(t, firestore.FieldPath{"unreadCount", "user.with.dots"}, updates[0].FieldPath)
}
