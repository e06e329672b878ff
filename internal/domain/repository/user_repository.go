package repository

import (
	"context"

	"matchchat/internal/domain/entity"
)

// UserRepository resolves participant profiles. GetByID returns an
// errors.NotFound AppError when the user does not exist.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*entity.UserProfile, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*entity.UserProfile, error)
}
