package service

import (
	"context"
	"testing"
	"time"

	"github.com/mlorenzo/facturable-api/internal/domain/entity"
	"github.com/mlorenzo/facturable-api/internal/domain/enum"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func lineItem(name string, qty, price float64) entity.LineItem {
	return entity.LineItem{
		Name:      name,
		Quantity:  decimal.NewFromFloat(qty),
		UnitPrice: decimal.NewFromFloat(price),
	}
}

func makeSale(id string, at time.Time, items ...entity.LineItem) entity.Sale {
	total := decimal.Zero
	for _, li := range items {
		total = total.Add(li.Total())
	}
	return entity.Sale{ReceiptID: id, Timestamp: at, Items: items, Total: total}
}

func makeRefund(id string, at time.Time, items ...entity.LineItem) entity.Refund {
	total := decimal.Zero
	for _, li := range items {
		total = total.Add(li.Total())
	}
	return entity.Refund{ReceiptID: id, Timestamp: at, Items: items, Total: total}
}

func TestReconcileNoRefunds(t *testing.T) {
	svc := NewReconciliationService()
	sale := makeSale("S1", baseTime, lineItem("Alfajor", 2, 500))

	report, err := svc.Reconcile(context.Background(), []entity.Sale{sale}, nil)
	require.NoError(t, err)

	result := report.ResultFor("S1")
	require.NotNil(t, result)
	assert.Equal(t, enum.RefundStatusNone, result.RefundStatus)
	assert.True(t, result.RefundedAmount.IsZero())
	assert.True(t, result.FacturableAmount.Equal(decimal.NewFromInt(1000)))
	assert.Empty(t, result.LinkedRefundIDs)
	assert.Empty(t, report.UnlinkedRefunds)
}

func TestReconcileTotalRefund(t *testing.T) {
	svc := NewReconciliationService()
	sale := makeSale("S1", baseTime, lineItem("Alfajor", 2, 500))
	refund := makeRefund("R1", baseTime.Add(time.Hour), lineItem("Alfajor", 2, 500))

	report, err := svc.Reconcile(context.Background(), []entity.Sale{sale}, []entity.Refund{refund})
	require.NoError(t, err)

	result := report.ResultFor("S1")
	require.NotNil(t, result)
	assert.Equal(t, enum.RefundStatusTotal, result.RefundStatus)
	assert.True(t, result.RefundedAmount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, result.FacturableAmount.IsZero())
	assert.Empty(t, result.RemainingItems)
	assert.Equal(t, []string{"R1"}, result.LinkedRefundIDs)
	assert.Empty(t, report.UnlinkedRefunds)
}

func TestReconcilePartialRefund(t *testing.T) {
	svc := NewReconciliationService()
	sale := makeSale("S1", baseTime,
		lineItem("Alfajor", 2, 300),
		lineItem("Cafe", 1, 400),
	)
	// Refund 400 of 1000: the coffee line only.
	refund := makeRefund("R1", baseTime.Add(time.Hour), lineItem("Cafe", 1, 400))

	report, err := svc.Reconcile(context.Background(), []entity.Sale{sale}, []entity.Refund{refund})
	require.NoError(t, err)

	result := report.ResultFor("S1")
	require.NotNil(t, result)
	assert.Equal(t, enum.RefundStatusPartial, result.RefundStatus)
	assert.True(t, result.RefundedAmount.Equal(decimal.NewFromInt(400)))
	assert.True(t, result.FacturableAmount.Equal(decimal.NewFromInt(600)))

	// Only the alfajor line remains facturable.
	require.Len(t, result.RemainingItems, 1)
	assert.Equal(t, "Alfajor", result.RemainingItems[0].Name)
	assert.True(t, result.RemainingItems[0].Quantity.Equal(decimal.NewFromInt(2)))
}

func TestReconcilePartialQuantity(t *testing.T) {
	svc := NewReconciliationService()
	sale := makeSale("S1", baseTime, lineItem("Medialuna", 6, 150))
	refund := makeRefund("R1", baseTime.Add(30*time.Minute), lineItem("Medialuna", 2, 150))

	report, err := svc.Reconcile(context.Background(), []entity.Sale{sale}, []entity.Refund{refund})
	require.NoError(t, err)

	result := report.ResultFor("S1")
	assert.Equal(t, enum.RefundStatusPartial, result.RefundStatus)
	assert.True(t, result.RefundedAmount.Equal(decimal.NewFromInt(300)))
	assert.True(t, result.FacturableAmount.Equal(decimal.NewFromInt(600)))
	require.Len(t, result.RemainingItems, 1)
	assert.True(t, result.RemainingItems[0].Quantity.Equal(decimal.NewFromInt(4)))
}

func TestReconcileRefundBeforeSaleIsUnlinked(t *testing.T) {
	svc := NewReconciliationService()
	sale := makeSale("S1", baseTime, lineItem("Alfajor", 1, 500))
	// Same item identity but the refund predates the sale.
	refund := makeRefund("R1", baseTime.Add(-time.Hour), lineItem("Alfajor", 1, 500))

	report, err := svc.Reconcile(context.Background(), []entity.Sale{sale}, []entity.Refund{refund})
	require.NoError(t, err)

	result := report.ResultFor("S1")
	assert.Equal(t, enum.RefundStatusNone, result.RefundStatus)
	assert.True(t, result.FacturableAmount.Equal(decimal.NewFromInt(500)))

	require.Len(t, report.UnlinkedRefunds, 1)
	assert.Equal(t, "R1", report.UnlinkedRefunds[0].RefundID)
}

func TestReconcileRefundAtSaleTimestampIsUnlinked(t *testing.T) {
	svc := NewReconciliationService()
	sale := makeSale("S1", baseTime, lineItem("Alfajor", 1, 500))
	refund := makeRefund("R1", baseTime, lineItem("Alfajor", 1, 500))

	report, err := svc.Reconcile(context.Background(), []entity.Sale{sale}, []entity.Refund{refund})
	require.NoError(t, err)

	assert.Equal(t, enum.RefundStatusNone, report.ResultFor("S1").RefundStatus)
	require.Len(t, report.UnlinkedRefunds, 1)
}

func TestReconcileUnmatchedRefundNeverFails(t *testing.T) {
	svc := NewReconciliationService()
	sale := makeSale("S1", baseTime, lineItem("Alfajor", 1, 500))
	refund := makeRefund("R1", baseTime.Add(time.Hour), lineItem("Tostado", 1, 900))

	report, err := svc.Reconcile(context.Background(), []entity.Sale{sale}, []entity.Refund{refund})
	require.NoError(t, err)

	assert.Equal(t, enum.RefundStatusNone, report.ResultFor("S1").RefundStatus)
	require.Len(t, report.UnlinkedRefunds, 1)
	assert.Equal(t, "R1", report.UnlinkedRefunds[0].RefundID)
	require.Len(t, report.UnlinkedRefunds[0].UnconsumedItems, 1)
	assert.True(t, report.UnlinkedRefunds[0].UnconsumedItems[0].Quantity.Equal(decimal.NewFromInt(1)))
}

func TestReconcileRefundUnitsNeverDoubleCounted(t *testing.T) {
	svc := NewReconciliationService()
	// Two identical sales, one refund covering a single unit. The refund must
	// reduce exactly one of them.
	s1 := makeSale("S1", baseTime, lineItem("Alfajor", 1, 500))
	s2 := makeSale("S2", baseTime.Add(10*time.Minute), lineItem("Alfajor", 1, 500))
	refund := makeRefund("R1", baseTime.Add(time.Hour), lineItem("Alfajor", 1, 500))

	report, err := svc.Reconcile(context.Background(), []entity.Sale{s1, s2}, []entity.Refund{refund})
	require.NoError(t, err)

	r1 := report.ResultFor("S1")
	r2 := report.ResultFor("S2")

	totalRefunded := r1.RefundedAmount.Add(r2.RefundedAmount)
	assert.True(t, totalRefunded.Equal(decimal.NewFromInt(500)), "refund counted once, got %s", totalRefunded)

	// The earlier sale wins the greedy allocation.
	assert.Equal(t, enum.RefundStatusTotal, r1.RefundStatus)
	assert.Equal(t, enum.RefundStatusNone, r2.RefundStatus)
	assert.Empty(t, report.UnlinkedRefunds)
}

func TestReconcileEarliestEligibleSaleWins(t *testing.T) {
	svc := NewReconciliationService()
	// The refund precedes S1, so S2 is the only eligible sale even though S1
	// sorts later.
	s1 := makeSale("S1", baseTime.Add(2*time.Hour), lineItem("Alfajor", 1, 500))
	s2 := makeSale("S2", baseTime, lineItem("Alfajor", 1, 500))
	refund := makeRefund("R1", baseTime.Add(time.Hour), lineItem("Alfajor", 1, 500))

	report, err := svc.Reconcile(context.Background(), []entity.Sale{s1, s2}, []entity.Refund{refund})
	require.NoError(t, err)

	assert.Equal(t, enum.RefundStatusNone, report.ResultFor("S1").RefundStatus)
	assert.Equal(t, enum.RefundStatusTotal, report.ResultFor("S2").RefundStatus)
}

func TestReconcileRefundSpansMultipleSales(t *testing.T) {
	svc := NewReconciliationService()
	s1 := makeSale("S1", baseTime, lineItem("Alfajor", 1, 500))
	s2 := makeSale("S2", baseTime.Add(10*time.Minute), lineItem("Alfajor", 1, 500))
	refund := makeRefund("R1", baseTime.Add(time.Hour), lineItem("Alfajor", 2, 500))

	report, err := svc.Reconcile(context.Background(), []entity.Sale{s1, s2}, []entity.Refund{refund})
	require.NoError(t, err)

	assert.Equal(t, enum.RefundStatusTotal, report.ResultFor("S1").RefundStatus)
	assert.Equal(t, enum.RefundStatusTotal, report.ResultFor("S2").RefundStatus)
	assert.Empty(t, report.UnlinkedRefunds)
	assert.ElementsMatch(t, []string{"S1", "S2"}, report.RefundLinks["R1"])
}

func TestReconcilePriceMismatchDoesNotMatch(t *testing.T) {
	svc := NewReconciliationService()
	sale := makeSale("S1", baseTime, lineItem("Alfajor", 1, 500))
	// Same name, different price: a different product line.
	refund := makeRefund("R1", baseTime.Add(time.Hour), lineItem("Alfajor", 1, 550))

	report, err := svc.Reconcile(context.Background(), []entity.Sale{sale}, []entity.Refund{refund})
	require.NoError(t, err)

	assert.Equal(t, enum.RefundStatusNone, report.ResultFor("S1").RefundStatus)
	require.Len(t, report.UnlinkedRefunds, 1)
}

func TestReconcileNameNormalization(t *testing.T) {
	svc := NewReconciliationService()
	sale := makeSale("S1", baseTime, lineItem("Alfajor  de Maicena", 1, 500))
	refund := makeRefund("R1", baseTime.Add(time.Hour), lineItem("alfajor de maicena", 1, 500))

	report, err := svc.Reconcile(context.Background(), []entity.Sale{sale}, []entity.Refund{refund})
	require.NoError(t, err)

	assert.Equal(t, enum.RefundStatusTotal, report.ResultFor("S1").RefundStatus)
	assert.Empty(t, report.UnlinkedRefunds)
}

func TestReconcileFacturableNeverNegative(t *testing.T) {
	svc := NewReconciliationService()
	// Sale total lower than its line sum (e.g. a POS discount). Refunding all
	// lines would exceed the total; the facturable amount must clamp at zero.
	sale := entity.Sale{
		ReceiptID: "S1",
		Timestamp: baseTime,
		Items:     []entity.LineItem{lineItem("Alfajor", 2, 500)},
		Total:     decimal.NewFromInt(900),
	}
	refund := makeRefund("R1", baseTime.Add(time.Hour), lineItem("Alfajor", 2, 500))

	report, err := svc.Reconcile(context.Background(), []entity.Sale{sale}, []entity.Refund{refund})
	require.NoError(t, err)

	result := report.ResultFor("S1")
	assert.False(t, result.FacturableAmount.IsNegative())
	assert.True(t, result.FacturableAmount.IsZero())
	assert.Equal(t, enum.RefundStatusTotal, result.RefundStatus)
}

func TestReconcileCancelledContext(t *testing.T) {
	svc := NewReconciliationService()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sale := makeSale("S1", baseTime, lineItem("Alfajor", 1, 500))
	_, err := svc.Reconcile(ctx, []entity.Sale{sale}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReconcileDeterministicTimestampTiebreak(t *testing.T) {
	svc := NewReconciliationService()
	// Identical timestamps: receipt id breaks the tie, so S1 always wins.
	s1 := makeSale("S1", baseTime, lineItem("Alfajor", 1, 500))
	s2 := makeSale("S2", baseTime, lineItem("Alfajor", 1, 500))
	refund := makeRefund("R1", baseTime.Add(time.Hour), lineItem("Alfajor", 1, 500))

	for i := 0; i < 10; i++ {
		report, err := svc.Reconcile(context.Background(), []entity.Sale{s2, s1}, []entity.Refund{refund})
		require.NoError(t, err)
		assert.Equal(t, enum.RefundStatusTotal, report.ResultFor("S1").RefundStatus)
		assert.Equal(t, enum.RefundStatusNone, report.ResultFor("S2").RefundStatus)
	}
}
