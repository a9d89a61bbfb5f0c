package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/mlorenzo/facturable-api/internal/domain/enum"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InvoiceRecord is the ledger entry created when a receipt is converted into
// a fiscal document. At most one record exists per (receipt_id,
// document_type); records are never updated or deleted — corrections are a
// new credit note, not an edit.
type InvoiceRecord struct {
	ID                  uuid.UUID         `gorm:"type:uuid;primary_key" json:"id"`
	ReceiptID           string            `gorm:"size:100;not null;uniqueIndex:idx_receipt_doc_type,priority:1" json:"receipt_id"`
	DocumentType        enum.DocumentType `gorm:"not null;uniqueIndex:idx_receipt_doc_type,priority:2" json:"document_type"`
	PointOfSale         int               `gorm:"not null" json:"point_of_sale"`
	DocumentNumber      int64             `gorm:"not null" json:"document_number"`
	AuthorizationCode   string            `gorm:"size:20;not null" json:"authorization_code"`
	AuthorizationExpiry time.Time         `gorm:"type:date" json:"authorization_expiry"`
	Amount              decimal.Decimal   `gorm:"type:decimal(12,2);not null" json:"amount"`
	IssuedAt            time.Time         `gorm:"not null" json:"issued_at"`

	// Linked original invoice, set only on credit notes.
	LinkedReceiptID      *string `gorm:"size:100" json:"linked_receipt_id,omitempty"`
	LinkedPointOfSale    *int    `json:"linked_point_of_sale,omitempty"`
	LinkedDocumentNumber *int64  `json:"linked_document_number,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate generates a UUID before inserting a new record
func (r *InvoiceRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// TableName returns the table name for the InvoiceRecord model
func (InvoiceRecord) TableName() string {
	return "invoice_records"
}

// IsCreditNote reports whether the record is a credit note
func (r *InvoiceRecord) IsCreditNote() bool {
	return r.DocumentType == enum.DocumentTypeCreditNote
}

// LinkedInvoice returns the (pointOfSale, documentNumber) reference of the
// original invoice for a credit note, or ok=false for plain invoices.
func (r *InvoiceRecord) LinkedInvoice() (pointOfSale int, documentNumber int64, ok bool) {
	if r.LinkedPointOfSale == nil || r.LinkedDocumentNumber == nil {
		return 0, 0, false
	}
	return *r.LinkedPointOfSale, *r.LinkedDocumentNumber, true
}
