package service

import (
	"errors"
	"strings"
	"time"

	"github.com/mlorenzo/facturable-api/internal/domain/entity"
	"github.com/mlorenzo/facturable-api/pkg/apperror"
	"github.com/mlorenzo/facturable-api/pkg/loyverse"
	"github.com/shopspring/decimal"
)

// Normalize converts a raw POS receipt into a canonical Sale or Refund.
// Exactly one of the two returns is non-nil on success. It is a pure shape
// conversion: money subunits become decimals, items are extracted, nothing
// is matched or validated beyond structural integrity.
func Normalize(raw *loyverse.RawReceipt) (*entity.Sale, *entity.Refund, error) {
	receiptID := raw.ReceiptNumber
	if receiptID == "" {
		receiptID = raw.ID
	}
	if receiptID == "" {
		return nil, nil, apperror.NewMalformedReceiptError("", "missing receipt id")
	}

	ts, err := parseReceiptTimestamp(raw)
	if err != nil {
		return nil, nil, apperror.NewMalformedReceiptError(receiptID, err.Error())
	}

	if len(raw.LineItems) == 0 {
		return nil, nil, apperror.NewMalformedReceiptError(receiptID, "missing line items")
	}

	items := make([]entity.LineItem, 0, len(raw.LineItems))
	for _, li := range raw.LineItems {
		name := li.ItemName
		if name == "" {
			name = li.VariantName
		}
		if name == "" {
			name = "Producto"
		}
		items = append(items, entity.LineItem{
			Name:      name,
			Quantity:  decimal.NewFromFloat(li.Quantity),
			UnitPrice: subunitsToDecimal(li.Price.Amount),
		})
	}

	total := subunitsToDecimal(raw.TotalMoney.Amount)
	currency := raw.TotalMoney.Currency
	if currency == "" {
		currency = "ARS"
	}

	var customer *entity.Customer
	if raw.Customer != nil && (raw.Customer.Name != "" || raw.Customer.Email != "" || raw.Customer.DNI != "") {
		customer = &entity.Customer{
			Name:  raw.Customer.Name,
			Email: raw.Customer.Email,
			DNI:   raw.Customer.DNI,
		}
	}

	if isRefund(raw) {
		return nil, &entity.Refund{
			ReceiptID: receiptID,
			Timestamp: ts,
			Items:     items,
			Total:     total,
			Currency:  currency,
			Customer:  customer,
		}, nil
	}

	return &entity.Sale{
		ReceiptID: receiptID,
		Timestamp: ts,
		Items:     items,
		Total:     total,
		Currency:  currency,
		Customer:  customer,
	}, nil, nil
}

func isRefund(raw *loyverse.RawReceipt) bool {
	return strings.EqualFold(raw.ReceiptType, "REFUND") || raw.RefundFor != ""
}

func parseReceiptTimestamp(raw *loyverse.RawReceipt) (time.Time, error) {
	value := raw.ReceiptDate
	if value == "" {
		value = raw.CreatedAt
	}
	if value == "" {
		return time.Time{}, errors.New("missing timestamp")
	}
	return time.Parse(time.RFC3339, value)
}

// subunitsToDecimal converts POS money (cents) to a 2dp decimal amount.
func subunitsToDecimal(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
