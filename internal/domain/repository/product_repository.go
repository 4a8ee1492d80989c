package repository

import (
	"context"

	"swapmarket/internal/domain/entity"
)

// ProductRepository is the listing catalog messaging reads product snapshots from.
type ProductRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Product, error)
}
