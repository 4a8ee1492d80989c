package repository

import (
	"context"

	"swapmarket/internal/domain/entity"
	"swapmarket/internal/domain/repository"
	"swapmarket/pkg/errors"
)

type fallbackUserRepository struct {
	primary  repository.UserRepository
	fallback repository.UserRepository
}

// NewFallbackUserRepository asks primary first and fallback only when primary
// has no such user. Other primary failures are returned as is.
func NewFallbackUserRepository(primary, fallback repository.UserRepository) repository.UserRepository {
	return &fallbackUserRepository{
		primary:  primary,
		fallback: fallback,
	}
}

func (r *fallbackUserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	user, err := r.primary.GetByID(ctx, id)
	if err == nil || !errors.Is(err, errors.CodeNotFound) || r.fallback == nil {
		return user, err
	}
	return r.fallback.GetByID(ctx, id)
}
