package service

import (
	"context"
	"sort"

	"github.com/mlorenzo/facturable-api/internal/domain/entity"
	"github.com/mlorenzo/facturable-api/internal/domain/enum"
	"github.com/shopspring/decimal"
)

// totalEpsilon is the facturable-amount threshold under which a sale counts
// as fully refunded.
var totalEpsilon = decimal.New(1, -6) // 1e-6

// ReconciliationService matches refunds to the sales they originated from
// using only item identity (normalized name + unit price) and timestamps,
// and computes the remaining invoiceable value of each sale.
type ReconciliationService struct{}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService() *ReconciliationService {
	return &ReconciliationService{}
}

// consumptionKey addresses one refund's remaining quantity for one product
// line inside the arena of a single Reconcile call.
type consumptionKey struct {
	refundID string
	item     entity.ItemKey
}

// refundCandidate is one refund listed under an item key in the index.
type refundCandidate struct {
	refund *entity.Refund
}

// Reconcile computes a ReconciliationResult for every sale and links each
// refund to the sales it reduces. Sales are processed in ascending timestamp
// order so an earlier sale's refund consumption cannot starve a later,
// otherwise-identical one; consumption counters are shared across the whole
// sale loop so a refund's units are never counted twice.
//
// When identical items were sold more than once in the window, this greedy
// order can attach a refund to a different sale than the customer intended.
// The POS feed carries no per-line receipt reference that would let us do
// better, so the earliest candidate sale always wins.
//
// One unmatched refund never fails the call: it is reported as unlinked.
// The context is checked between sales so long windows can be cancelled.
func (s *ReconciliationService) Reconcile(ctx context.Context, sales []entity.Sale, refunds []entity.Refund) (*entity.ReconciliationReport, error) {
	// Index refunds by item identity key. A refund appears once per distinct
	// line it contains.
	refundsByKey := make(map[entity.ItemKey][]refundCandidate)
	arena := make(map[consumptionKey]decimal.Decimal)

	for i := range refunds {
		refund := &refunds[i]
		seen := make(map[entity.ItemKey]bool)
		for _, item := range refund.Items {
			key := item.Key()
			ck := consumptionKey{refundID: refund.ReceiptID, item: key}
			// Duplicate lines with the same key accumulate into one counter.
			arena[ck] = arena[ck].Add(item.Quantity)
			if !seen[key] {
				seen[key] = true
				refundsByKey[key] = append(refundsByKey[key], refundCandidate{refund: refund})
			}
		}
	}

	// Candidates under each key are tried oldest-first for determinism.
	for key := range refundsByKey {
		candidates := refundsByKey[key]
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].refund.Timestamp.Before(candidates[j].refund.Timestamp)
		})
	}

	ordered := make([]*entity.Sale, len(sales))
	for i := range sales {
		ordered[i] = &sales[i]
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].ReceiptID < ordered[j].ReceiptID
		}
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	report := &entity.ReconciliationReport{
		Results:     make(map[string]*entity.ReconciliationResult, len(sales)),
		RefundLinks: make(map[string][]string),
	}

	for _, sale := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result := s.reconcileSale(sale, refundsByKey, arena, report.RefundLinks)
		report.Results[sale.ReceiptID] = result
	}

	report.UnlinkedRefunds = collectUnlinked(refunds, arena)
	return report, nil
}

func (s *ReconciliationService) reconcileSale(
	sale *entity.Sale,
	refundsByKey map[entity.ItemKey][]refundCandidate,
	arena map[consumptionKey]decimal.Decimal,
	refundLinks map[string][]string,
) *entity.ReconciliationResult {
	refundedAmount := decimal.Zero
	var remainingItems []entity.LineItem
	var linkedRefundIDs []string
	linkedSeen := make(map[string]bool)

	for _, item := range sale.Items {
		key := item.Key()
		remainingQty := item.Quantity

		for _, candidate := range refundsByKey[key] {
			if !remainingQty.IsPositive() {
				break
			}
			// Refunds cannot precede their sale.
			if !candidate.refund.Timestamp.After(sale.Timestamp) {
				continue
			}

			ck := consumptionKey{refundID: candidate.refund.ReceiptID, item: key}
			available := arena[ck]
			if !available.IsPositive() {
				continue
			}

			consumed := decimal.Min(remainingQty, available)
			arena[ck] = available.Sub(consumed)
			remainingQty = remainingQty.Sub(consumed)
			refundedAmount = refundedAmount.Add(consumed.Mul(item.UnitPrice))

			if !linkedSeen[candidate.refund.ReceiptID] {
				linkedSeen[candidate.refund.ReceiptID] = true
				linkedRefundIDs = append(linkedRefundIDs, candidate.refund.ReceiptID)
				refundLinks[candidate.refund.ReceiptID] = append(refundLinks[candidate.refund.ReceiptID], sale.ReceiptID)
			}
		}

		if remainingQty.IsPositive() {
			remainingItems = append(remainingItems, entity.LineItem{
				Name:      item.Name,
				Quantity:  remainingQty,
				UnitPrice: item.UnitPrice,
			})
		}
	}

	refundedAmount = refundedAmount.Round(2)
	facturable := sale.Total.Sub(refundedAmount).Round(2)
	if facturable.IsNegative() {
		facturable = decimal.Zero
	}

	status := enum.RefundStatusNone
	switch {
	case refundedAmount.IsZero():
		status = enum.RefundStatusNone
	case facturable.LessThanOrEqual(totalEpsilon):
		status = enum.RefundStatusTotal
	default:
		status = enum.RefundStatusPartial
	}

	return &entity.ReconciliationResult{
		SaleID:           sale.ReceiptID,
		RefundedAmount:   refundedAmount,
		FacturableAmount: facturable,
		RefundStatus:     status,
		RemainingItems:   remainingItems,
		LinkedRefundIDs:  linkedRefundIDs,
	}
}

// collectUnlinked reports every refund with quantity the sale loop could not
// consume. A refund may be linked for part of its units and still appear
// here with the leftover.
func collectUnlinked(refunds []entity.Refund, arena map[consumptionKey]decimal.Decimal) []entity.UnlinkedRefund {
	var unlinked []entity.UnlinkedRefund

	for i := range refunds {
		refund := &refunds[i]
		var leftover []entity.LineItem
		reported := make(map[entity.ItemKey]bool)

		for _, item := range refund.Items {
			key := item.Key()
			if reported[key] {
				continue
			}
			reported[key] = true

			remaining := arena[consumptionKey{refundID: refund.ReceiptID, item: key}]
			if remaining.IsPositive() {
				leftover = append(leftover, entity.LineItem{
					Name:      item.Name,
					Quantity:  remaining,
					UnitPrice: item.UnitPrice,
				})
			}
		}

		if len(leftover) > 0 {
			unlinked = append(unlinked, entity.UnlinkedRefund{
				RefundID:        refund.ReceiptID,
				UnconsumedItems: leftover,
				Total:           refund.Total,
			})
		}
	}

	return unlinked
}
