package repository

import (
	"context"

	"swapmarket/internal/domain/entity"
)

// UserRepository is the user directory messaging denormalizes profiles from.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*entity.User, error)
}
