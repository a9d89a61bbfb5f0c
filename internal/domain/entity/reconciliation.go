package entity

import (
	"github.com/mlorenzo/facturable-api/internal/domain/enum"
	"github.com/shopspring/decimal"
)

// ReconciliationResult is the per-sale outcome of matching refunds against
// sales in a window. It is derived data: recomputed on every query, never
// persisted, because the refund universe can grow as new refunds arrive.
type ReconciliationResult struct {
	SaleID           string            `json:"sale_id"`
	RefundedAmount   decimal.Decimal   `json:"refunded_amount"`
	FacturableAmount decimal.Decimal   `json:"facturable_amount"`
	RefundStatus     enum.RefundStatus `json:"refund_status"`
	RemainingItems   []LineItem        `json:"remaining_items"`
	LinkedRefundIDs  []string          `json:"linked_refund_ids"`
}

// UnlinkedRefund reports a refund whose items could not be fully consumed
// against any sale in the window. Unlinked refunds are never facturable and
// never credited.
type UnlinkedRefund struct {
	RefundID        string          `json:"refund_id"`
	UnconsumedItems []LineItem      `json:"unconsumed_items"`
	Total           decimal.Decimal `json:"total"`
}

// ReconciliationReport is the full outcome of one reconcile call.
type ReconciliationReport struct {
	Results map[string]*ReconciliationResult `json:"results"`
	// RefundLinks maps each refund id to the sale ids it reduces, in
	// consumption order.
	RefundLinks     map[string][]string `json:"refund_links"`
	UnlinkedRefunds []UnlinkedRefund    `json:"unlinked_refunds"`
}

// ResultFor returns the result for a sale receipt id, or nil.
func (r *ReconciliationReport) ResultFor(saleID string) *ReconciliationResult {
	return r.Results[saleID]
}
