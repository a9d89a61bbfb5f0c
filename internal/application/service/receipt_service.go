package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/mlorenzo/facturable-api/internal/domain/entity"
	"github.com/mlorenzo/facturable-api/internal/domain/enum"
	"github.com/mlorenzo/facturable-api/internal/domain/repository"
	"github.com/mlorenzo/facturable-api/pkg/apperror"
	"github.com/mlorenzo/facturable-api/pkg/loyverse"
)

// POSFeed is the paginated receipt source. The adapter handles cursors and
// partial pages; consumers see one flat batch per window.
type POSFeed interface {
	FetchReceipts(ctx context.Context, from, to time.Time) ([]loyverse.RawReceipt, error)
}

// ReceiptBatch is one ingestion pass over a date window.
type ReceiptBatch struct {
	Sales   []entity.Sale
	Refunds []entity.Refund
	// Dropped counts malformed receipts excluded from the batch.
	Dropped int
}

// AnnotatedSale is a sale with its ledger status for listing surfaces.
type AnnotatedSale struct {
	entity.Sale
	AlreadyInvoiced bool `json:"already_invoiced"`
}

// AnnotatedRefund is a refund with its ledger status for listing surfaces.
type AnnotatedRefund struct {
	entity.Refund
	AlreadyCredited bool `json:"already_credited"`
}

// ReceiptService pulls raw receipts from the POS feed and normalizes them
// into canonical sales and refunds.
type ReceiptService struct {
	feed   POSFeed
	ledger repository.InvoiceLedger
}

// NewReceiptService creates a new receipt service
func NewReceiptService(feed POSFeed, ledger repository.InvoiceLedger) *ReceiptService {
	return &ReceiptService{feed: feed, ledger: ledger}
}

// FetchWindow ingests all receipts created in [from, to]. Malformed receipts
// are logged and dropped; they never fail the batch.
func (s *ReceiptService) FetchWindow(ctx context.Context, from, to time.Time) (*ReceiptBatch, error) {
	raw, err := s.feed.FetchReceipts(ctx, from, to)
	if err != nil {
		return nil, err
	}

	batch := &ReceiptBatch{}
	for i := range raw {
		sale, refund, err := Normalize(&raw[i])
		if err != nil {
			var malformed *apperror.MalformedReceiptError
			if errors.As(err, &malformed) {
				log.Printf("Warning: dropping receipt from batch: %v", err)
				batch.Dropped++
				continue
			}
			return nil, err
		}
		if sale != nil {
			batch.Sales = append(batch.Sales, *sale)
		}
		if refund != nil {
			batch.Refunds = append(batch.Refunds, *refund)
		}
	}
	return batch, nil
}

// ListReceipts returns the normalized window with each receipt annotated
// with its ledger status.
func (s *ReceiptService) ListReceipts(ctx context.Context, from, to time.Time) ([]AnnotatedSale, []AnnotatedRefund, error) {
	batch, err := s.FetchWindow(ctx, from, to)
	if err != nil {
		return nil, nil, err
	}

	sales := make([]AnnotatedSale, 0, len(batch.Sales))
	for _, sale := range batch.Sales {
		record, err := s.ledger.Get(ctx, sale.ReceiptID, enum.DocumentTypeInvoice)
		if err != nil {
			return nil, nil, err
		}
		sales = append(sales, AnnotatedSale{Sale: sale, AlreadyInvoiced: record != nil})
	}

	refunds := make([]AnnotatedRefund, 0, len(batch.Refunds))
	for _, refund := range batch.Refunds {
		record, err := s.ledger.Get(ctx, refund.ReceiptID, enum.DocumentTypeCreditNote)
		if err != nil {
			return nil, nil, err
		}
		refunds = append(refunds, AnnotatedRefund{Refund: refund, AlreadyCredited: record != nil})
	}

	return sales, refunds, nil
}

// FindSale returns the sale with the given receipt id in the window, or nil.
func (b *ReceiptBatch) FindSale(receiptID string) *entity.Sale {
	for i := range b.Sales {
		if b.Sales[i].ReceiptID == receiptID {
			return &b.Sales[i]
		}
	}
	return nil
}

// FindRefund returns the refund with the given receipt id, or nil.
func (b *ReceiptBatch) FindRefund(receiptID string) *entity.Refund {
	for i := range b.Refunds {
		if b.Refunds[i].ReceiptID == receiptID {
			return &b.Refunds[i]
		}
	}
	return nil
}
