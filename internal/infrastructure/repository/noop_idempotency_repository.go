package repository

import (
	"context"

	"github.com/mlorenzo/facturable-api/internal/domain/entity"
	domainRepo "github.com/mlorenzo/facturable-api/internal/domain/repository"
)

// noopIdempotencyRepository never caches anything. Used with the file ledger
// driver, where the ledger's conditional put alone makes repeated issuance
// requests safe.
type noopIdempotencyRepository struct{}

// NewNoopIdempotencyRepository creates an idempotency store that caches nothing
func NewNoopIdempotencyRepository() domainRepo.IdempotencyRepository {
	return &noopIdempotencyRepository{}
}

func (r *noopIdempotencyRepository) GetByKey(ctx context.Context, key, endpoint string) (*entity.IdempotencyKey, error) {
	return nil, nil
}

func (r *noopIdempotencyRepository) Create(ctx context.Context, ikey *entity.IdempotencyKey) error {
	return nil
}

func (r *noopIdempotencyRepository) DeleteExpired(ctx context.Context) error {
	return nil
}
