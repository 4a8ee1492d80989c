package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"swapmarket/internal/domain/entity"
	"swapmarket/pkg/errors"
)

// MemoryUserRepository is an in-process user directory.
type MemoryUserRepository struct {
	mu     sync.RWMutex
	users  map[string]*entity.User
	failed map[string]error
}

func NewMemoryUserRepository(users ...*entity.User) *MemoryUserRepository {
	r := &MemoryUserRepository{
		users:  make(map[string]*entity.User),
		failed: make(map[string]error),
	}
	for _, u := range users {
		r.Put(u)
	}
	return r
}

func (r *MemoryUserRepository) Put(user *entity.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := *user
	r.users[user.ID] = &u
}

// Fail makes lookups of id return err.
func (r *MemoryUserRepository) Fail(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[id] = err
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err, ok := r.failed[id]; ok {
		return nil, errors.StoreError("Failed to get user", err)
	}
	u, ok := r.users[id]
	if !ok {
		return nil, errors.NotFound("User", nil)
	}
	out := *u
	return &out, nil
}

// MemoryProductRepository is an in-process product catalog.
type MemoryProductRepository struct {
	mu       sync.RWMutex
	products map[string]*entity.Product
}

func NewMemoryProductRepository(products ...*entity.Product) *MemoryProductRepository {
	r := &MemoryProductRepository{products: make(map[string]*entity.Product)}
	for _, p := range products {
		r.Put(p)
	}
	return r
}

// LoadProducts reads a JSON array of products from path into the catalog.
// Products without an id are rejected.
func (r *MemoryProductRepository) LoadProducts(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read product catalog %s: %w", path, err)
	}

	var products []*entity.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return 0, fmt.Errorf("failed to parse product catalog %s: %w", path, err)
	}
	for i, p := range products {
		if p == nil || p.ID == "" {
			return 0, fmt.Errorf("product %d in %s has no id", i, path)
		}
	}
	for _, p := range products {
		r.Put(p)
	}
	return len(products), nil
}

func (r *MemoryProductRepository) Put(product *entity.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := *product
	r.products[product.ID] = &p
}

func (r *MemoryProductRepository) GetByID(ctx context.Context, id string) (*entity.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, errors.NotFound("Product", nil)
	}
	out := *p
	out.Images = append([]string(nil), p.Images...)
	return &out, nil
}
