package repository

import (
	"context"
	"time"

	"github.com/mlorenzo/facturable-api/internal/domain/entity"
	"github.com/mlorenzo/facturable-api/internal/domain/enum"
	"github.com/mlorenzo/facturable-api/pkg/pagination"
)

// InvoiceLedger is the durable mapping from receipt id to issued fiscal
// documents. CreateIfAbsent is the sole enforcement point for "at most one
// invoice per sale" and "at most one credit note per refund": it must be
// atomic with respect to concurrent writers on the same key.
type InvoiceLedger interface {
	// Get returns the record for (receiptID, docType), or nil when absent.
	Get(ctx context.Context, receiptID string, docType enum.DocumentType) (*entity.InvoiceRecord, error)
	// CreateIfAbsent persists the record; returns apperror.ErrConflict when a
	// record for the same (receiptID, documentType) already exists. A
	// conflict means the caller lost a race, not a transient failure.
	CreateIfAbsent(ctx context.Context, record *entity.InvoiceRecord) error
	// List returns ledger records ordered by issuance time, newest first.
	List(ctx context.Context, params *LedgerFilterParams) ([]entity.InvoiceRecord, int64, error)
}

// LedgerFilterParams contains filtering parameters for ledger listings
type LedgerFilterParams struct {
	Pagination   *pagination.PaginationParams
	DocumentType *enum.DocumentType
	PointOfSale  *int
	IssuedAfter  *time.Time
	IssuedBefore *time.Time
}

// IdempotencyRepository defines the interface for idempotency key operations
type IdempotencyRepository interface {
	// GetByKey retrieves an idempotency key by its key string and endpoint
	GetByKey(ctx context.Context, key, endpoint string) (*entity.IdempotencyKey, error)
	// Create stores a new idempotency key
	Create(ctx context.Context, ikey *entity.IdempotencyKey) error
	// DeleteExpired removes expired idempotency keys (for cleanup)
	DeleteExpired(ctx context.Context) error
}
