package entity

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is a single product line on a sale or refund receipt.
type LineItem struct {
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Key returns the item identity key used for refund matching. Two lines are
// the same product line iff their keys are equal, regardless of which
// receipt they came from.
func (li LineItem) Key() ItemKey {
	return NewItemKey(li.Name, li.UnitPrice)
}

// Total returns quantity × unit price rounded to 2 decimals.
func (li LineItem) Total() decimal.Decimal {
	return li.Quantity.Mul(li.UnitPrice).Round(2)
}

// ItemKey identifies a product line by normalized name and unit price.
type ItemKey struct {
	Name  string
	Price string
}

// NewItemKey builds the identity key from a raw item name and unit price.
// Names are case-folded and whitespace-collapsed; prices compared at 2dp.
func NewItemKey(name string, unitPrice decimal.Decimal) ItemKey {
	return ItemKey{
		Name:  strings.Join(strings.Fields(strings.ToLower(name)), " "),
		Price: unitPrice.Round(2).String(),
	}
}

// Customer holds the optional buyer identification attached to a receipt.
type Customer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	DNI   string `json:"dni,omitempty"`
}

// Sale is a canonical point-of-sale sales receipt. Immutable once ingested.
type Sale struct {
	ReceiptID string          `json:"receipt_id"`
	Timestamp time.Time       `json:"timestamp"`
	Items     []LineItem      `json:"items"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency,omitempty"`
	Customer  *Customer       `json:"customer,omitempty"`
}

// Refund is a canonical point-of-sale refund receipt. Immutable once
// ingested. A refund's timestamp must be after the timestamp of any sale it
// is linked to.
type Refund struct {
	ReceiptID string          `json:"receipt_id"`
	Timestamp time.Time       `json:"timestamp"`
	Items     []LineItem      `json:"items"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency,omitempty"`
	Customer  *Customer       `json:"customer,omitempty"`
}
