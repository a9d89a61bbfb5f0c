package repository

import (
	"context"
	"errors"

	"github.com/mlorenzo/facturable-api/internal/domain/entity"
	"github.com/mlorenzo/facturable-api/internal/domain/enum"
	domainRepo "github.com/mlorenzo/facturable-api/internal/domain/repository"
	"github.com/mlorenzo/facturable-api/pkg/apperror"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type invoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository creates a postgres-backed invoice ledger
func NewInvoiceRepository(db *gorm.DB) domainRepo.InvoiceLedger {
	return &invoiceRepository{db: db}
}

func (r *invoiceRepository) Get(ctx context.Context, receiptID string, docType enum.DocumentType) (*entity.InvoiceRecord, error) {
	var record entity.InvoiceRecord
	err := r.db.WithContext(ctx).
		Where("receipt_id = ? AND document_type = ?", receiptID, docType).
		First(&record).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// CreateIfAbsent is a conditional insert: the unique index on (receipt_id,
// document_type) plus ON CONFLICT DO NOTHING make it atomic under
// concurrent writers. Zero rows affected means another writer won.
func (r *invoiceRepository) CreateIfAbsent(ctx context.Context, record *entity.InvoiceRecord) error {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "receipt_id"}, {Name: "document_type"}},
			DoNothing: true,
		}).
		Create(record)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperror.NewConflictError("A record for this receipt and document type already exists")
	}
	return nil
}

func (r *invoiceRepository) List(ctx context.Context, params *domainRepo.LedgerFilterParams) ([]entity.InvoiceRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.InvoiceRecord{})

	if params.DocumentType != nil {
		query = query.Where("document_type = ?", *params.DocumentType)
	}
	if params.PointOfSale != nil {
		query = query.Where("point_of_sale = ?", *params.PointOfSale)
	}
	if params.IssuedAfter != nil {
		query = query.Where("issued_at >= ?", *params.IssuedAfter)
	}
	if params.IssuedBefore != nil {
		query = query.Where("issued_at <= ?", *params.IssuedBefore)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []entity.InvoiceRecord
	err := query.
		Order("issued_at DESC").
		Offset(params.Pagination.Offset()).
		Limit(params.Pagination.PerPage).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}

	return records, total, nil
}
