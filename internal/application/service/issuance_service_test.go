package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mlorenzo/facturable-api/internal/domain/entity"
	"github.com/mlorenzo/facturable-api/internal/domain/enum"
	"github.com/mlorenzo/facturable-api/internal/domain/repository"
	"github.com/mlorenzo/facturable-api/pkg/afip"
	"github.com/mlorenzo/facturable-api/pkg/apperror"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedger is an in-memory InvoiceLedger with conditional-put semantics.
type fakeLedger struct {
	mu      sync.Mutex
	records map[string]*entity.InvoiceRecord
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: make(map[string]*entity.InvoiceRecord)}
}

func ledgerTestKey(receiptID string, docType enum.DocumentType) string {
	return fmt.Sprintf("%s|%d", receiptID, docType)
}

func (l *fakeLedger) Get(ctx context.Context, receiptID string, docType enum.DocumentType) (*entity.InvoiceRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.records[ledgerTestKey(receiptID, docType)]; ok {
		copied := *rec
		return &copied, nil
	}
	return nil, nil
}

func (l *fakeLedger) CreateIfAbsent(ctx context.Context, record *entity.InvoiceRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ledgerTestKey(record.ReceiptID, record.DocumentType)
	if _, ok := l.records[key]; ok {
		return apperror.NewConflictError("record already exists")
	}
	copied := *record
	l.records[key] = &copied
	return nil
}

func (l *fakeLedger) List(ctx context.Context, params *repository.LedgerFilterParams) ([]entity.InvoiceRecord, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]entity.InvoiceRecord, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, *rec)
	}
	return out, int64(len(out)), nil
}

// fakeAuthority simulates the external numbering service: a shared counter
// with read-then-write assignment and scriptable failures.
type fakeAuthority struct {
	mu             sync.Mutex
	last           int64
	authorizeCalls int
	// failures are consumed one per Authorize call before any success.
	failures []error
	// advanceOnFailure simulates the worst case: the number was issued but
	// the confirmation was lost.
	advanceOnFailure bool
}

func (a *fakeAuthority) Authorize(ctx context.Context, req *afip.AuthorizationRequest) (*afip.Authorization, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.authorizeCalls++

	if len(a.failures) > 0 {
		err := a.failures[0]
		a.failures = a.failures[1:]
		if a.advanceOnFailure {
			a.last++
		}
		return nil, err
	}

	a.last++
	return &afip.Authorization{
		DocumentNumber:    a.last,
		AuthorizationCode: fmt.Sprintf("CAE%08d", a.last),
		ExpiryDate:        time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC),
		IssuedDate:        time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC),
	}, nil
}

func (a *fakeAuthority) LastIssuedNumber(ctx context.Context, pointOfSale, comprobanteTipo int) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last, nil
}

func okReconciliation(sale *entity.Sale) *entity.ReconciliationResult {
	return &entity.ReconciliationResult{
		SaleID:           sale.ReceiptID,
		RefundedAmount:   decimal.Zero,
		FacturableAmount: sale.Total,
		RefundStatus:     enum.RefundStatusNone,
		RemainingItems:   sale.Items,
	}
}

func TestIssueInvoiceSuccess(t *testing.T) {
	ledger := newFakeLedger()
	authority := &fakeAuthority{last: 41}
	svc := NewIssuanceService(ledger, authority, nil, 3, 0)

	sale := makeSale("S1", baseTime, lineItem("Alfajor", 2, 500))
	result, err := svc.IssueInvoice(context.Background(), &sale, okReconciliation(&sale))
	require.NoError(t, err)

	assert.False(t, result.AlreadyIssued)
	assert.False(t, result.NumberWasted)
	assert.Equal(t, int64(42), result.Record.DocumentNumber)
	assert.Equal(t, 3, result.Record.PointOfSale)
	assert.Equal(t, enum.DocumentTypeInvoice, result.Record.DocumentType)
	assert.True(t, result.Record.Amount.Equal(decimal.NewFromInt(1000)))
	assert.NotEmpty(t, result.Record.AuthorizationCode)

	stored, err := ledger.Get(context.Background(), "S1", enum.DocumentTypeInvoice)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(42), stored.DocumentNumber)
}

func TestIssueInvoiceIdempotent(t *testing.T) {
	ledger := newFakeLedger()
	authority := &fakeAuthority{}
	svc := NewIssuanceService(ledger, authority, nil, 3, 0)

	sale := makeSale("S1", baseTime, lineItem("Alfajor", 2, 500))
	first, err := svc.IssueInvoice(context.Background(), &sale, okReconciliation(&sale))
	require.NoError(t, err)

	second, err := svc.IssueInvoice(context.Background(), &sale, okReconciliation(&sale))
	require.NoError(t, err)

	assert.True(t, second.AlreadyIssued)
	assert.Equal(t, first.Record.DocumentNumber, second.Record.DocumentNumber)
	assert.Equal(t, 1, authority.authorizeCalls)
}

func TestIssueInvoiceFullyRefunded(t *testing.T) {
	ledger := newFakeLedger()
	authority := &fakeAuthority{}
	svc := NewIssuanceService(ledger, authority, nil, 3, 0)

	sale := makeSale("S1", baseTime, lineItem("Alfajor", 2, 500))
	reconciliation := &entity.ReconciliationResult{
		SaleID:           sale.ReceiptID,
		RefundedAmount:   sale.Total,
		FacturableAmount: decimal.Zero,
		RefundStatus:     enum.RefundStatusTotal,
	}

	_, err := svc.IssueInvoice(context.Background(), &sale, reconciliation)
	assert.ErrorIs(t, err, apperror.ErrNothingToInvoice)
	assert.Equal(t, 0, authority.authorizeCalls)
}

func TestIssueInvoiceExceedsCap(t *testing.T) {
	ledger := newFakeLedger()
	authority := &fakeAuthority{}
	svc := NewIssuanceService(ledger, authority, nil, 3, 500)

	sale := makeSale("S1", baseTime, lineItem("Alfajor", 2, 500))
	_, err := svc.IssueInvoice(context.Background(), &sale, okReconciliation(&sale))
	require.Error(t, err)
	assert.Equal(t, 400, apperror.GetAppError(err).Code)
	assert.Equal(t, 0, authority.authorizeCalls)
}

func TestIssueInvoicePartialUsesFacturableAmount(t *testing.T) {
	ledger := newFakeLedger()
	authority := &fakeAuthority{}
	svc := NewIssuanceService(ledger, authority, nil, 3, 0)

	sale := makeSale("S1", baseTime, lineItem("Alfajor", 2, 500))
	reconciliation := &entity.ReconciliationResult{
		SaleID:           sale.ReceiptID,
		RefundedAmount:   decimal.NewFromInt(500),
		FacturableAmount: decimal.NewFromInt(500),
		RefundStatus:     enum.RefundStatusPartial,
		RemainingItems:   []entity.LineItem{lineItem("Alfajor", 1, 500)},
	}

	result, err := svc.IssueInvoice(context.Background(), &sale, reconciliation)
	require.NoError(t, err)
	assert.True(t, result.Record.Amount.Equal(decimal.NewFromInt(500)))
}

func TestIssueCreditNoteRequiresInvoice(t *testing.T) {
	ledger := newFakeLedger()
	authority := &fakeAuthority{}
	svc := NewIssuanceService(ledger, authority, nil, 3, 0)

	refund := makeRefund("R1", baseTime.Add(time.Hour), lineItem("Alfajor", 1, 500))
	_, err := svc.IssueCreditNote(context.Background(), &refund, "S1")
	assert.ErrorIs(t, err, apperror.ErrSaleNotInvoiced)
	assert.Equal(t, 0, authority.authorizeCalls)
}

func TestIssueCreditNoteSuccess(t *testing.T) {
	ledger := newFakeLedger()
	authority := &fakeAuthority{}
	svc := NewIssuanceService(ledger, authority, nil, 3, 0)

	sale := makeSale("S1", baseTime, lineItem("Alfajor", 2, 500))
	invoiced, err := svc.IssueInvoice(context.Background(), &sale, okReconciliation(&sale))
	require.NoError(t, err)

	refund := makeRefund("R1", baseTime.Add(time.Hour), lineItem("Alfajor", 1, 500))
	result, err := svc.IssueCreditNote(context.Background(), &refund, "S1")
	require.NoError(t, err)

	assert.Equal(t, enum.DocumentTypeCreditNote, result.Record.DocumentType)
	require.NotNil(t, result.Record.LinkedReceiptID)
	assert.Equal(t, "S1", *result.Record.LinkedReceiptID)
	require.NotNil(t, result.Record.LinkedDocumentNumber)
	assert.Equal(t, invoiced.Record.DocumentNumber, *result.Record.LinkedDocumentNumber)
	assert.True(t, result.Record.Amount.Equal(decimal.NewFromInt(500)))
}

func TestIssueCreditNoteIdempotent(t *testing.T) {
	ledger := newFakeLedger()
	authority := &fakeAuthority{}
	svc := NewIssuanceService(ledger, authority, nil, 3, 0)

	sale := makeSale("S1", baseTime, lineItem("Alfajor", 2, 500))
	_, err := svc.IssueInvoice(context.Background(), &sale, okReconciliation(&sale))
	require.NoError(t, err)

	refund := makeRefund("R1", baseTime.Add(time.Hour), lineItem("Alfajor", 1, 500))
	first, err := svc.IssueCreditNote(context.Background(), &refund, "S1")
	require.NoError(t, err)

	second, err := svc.IssueCreditNote(context.Background(), &refund, "S1")
	require.NoError(t, err)
	assert.True(t, second.AlreadyIssued)
	assert.Equal(t, first.Record.DocumentNumber, second.Record.DocumentNumber)
	assert.Equal(t, 2, authority.authorizeCalls) // invoice + credit note
}

func TestIssueCreditNoteAgainstDifferentSale(t *testing.T) {
	ledger := newFakeLedger()
	authority := &fakeAuthority{}
	svc := NewIssuanceService(ledger, authority, nil, 3, 0)

	sale := makeSale("S1", baseTime, lineItem("Alfajor", 2, 500))
	_, err := svc.IssueInvoice(context.Background(), &sale, okReconciliation(&sale))
	require.NoError(t, err)

	refund := makeRefund("R1", baseTime.Add(time.Hour), lineItem("Alfajor", 1, 500))
	_, err = svc.IssueCreditNote(context.Background(), &refund, "S1")
	require.NoError(t, err)

	_, err = svc.IssueCreditNote(context.Background(), &refund, "S2")
	assert.ErrorIs(t, err, apperror.ErrRefundAlreadyCredited)
}

func TestIssueInvoiceTransientRetry(t *testing.T) {
	ledger := newFakeLedger()
	authority := &fakeAuthority{
		failures: []error{apperror.NewTransientError(errors.New("connection reset"))},
	}
	svc := NewIssuanceService(ledger, authority, nil, 3, 0)

	sale := makeSale("S1", baseTime, lineItem("Alfajor", 2, 500))
	result, err := svc.IssueInvoice(context.Background(), &sale, okReconciliation(&sale))
	require.NoError(t, err)

	// Failed once with the counter unchanged, then retried and landed.
	assert.Equal(t, 2, authority.authorizeCalls)
	assert.Equal(t, int64(1), result.Record.DocumentNumber)
}

func TestIssueInvoiceUncertainOutcome(t *testing.T) {
	ledger := newFakeLedger()
	authority := &fakeAuthority{
		failures:         []error{apperror.NewTransientError(errors.New("timeout"))},
		advanceOnFailure: true,
	}
	svc := NewIssuanceService(ledger, authority, nil, 3, 0)

	sale := makeSale("S1", baseTime, lineItem("Alfajor", 2, 500))
	_, err := svc.IssueInvoice(context.Background(), &sale, okReconciliation(&sale))

	var uncertain *apperror.UncertainError
	require.ErrorAs(t, err, &uncertain)
	assert.Equal(t, int64(1), uncertain.DocumentNumber)

	// No blind retry after the counter advanced.
	assert.Equal(t, 1, authority.authorizeCalls)

	// Nothing was written to the ledger.
	stored, err := ledger.Get(context.Background(), "S1", enum.DocumentTypeInvoice)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestIssueInvoiceRejectedNotRetried(t *testing.T) {
	ledger := newFakeLedger()
	authority := &fakeAuthority{
		failures: []error{apperror.NewRejectedError("invalid comprobante data")},
	}
	svc := NewIssuanceService(ledger, authority, nil, 3, 0)

	sale := makeSale("S1", baseTime, lineItem("Alfajor", 2, 500))
	_, err := svc.IssueInvoice(context.Background(), &sale, okReconciliation(&sale))

	var rejected *apperror.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, 1, authority.authorizeCalls)
}

func TestIssueInvoiceConcurrentCallersSingleAuthorization(t *testing.T) {
	ledger := newFakeLedger()
	authority := &fakeAuthority{}
	svc := NewIssuanceService(ledger, authority, nil, 3, 0)

	sale := makeSale("S1", baseTime, lineItem("Alfajor", 2, 500))

	const callers = 8
	results := make([]*IssueResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.IssueInvoice(context.Background(), &sale, okReconciliation(&sale))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, authority.authorizeCalls)
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, int64(1), results[i].Record.DocumentNumber)
	}
}

// racingLedger reports the key absent until a write is attempted, then
// rejects the write as if another process created the record in between.
type racingLedger struct {
	fakeLedger
	winner *entity.InvoiceRecord
	raced  bool
}

func (l *racingLedger) Get(ctx context.Context, receiptID string, docType enum.DocumentType) (*entity.InvoiceRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.raced {
		copied := *l.winner
		return &copied, nil
	}
	return nil, nil
}

func (l *racingLedger) CreateIfAbsent(ctx context.Context, record *entity.InvoiceRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.raced = true
	return apperror.NewConflictError("record already exists")
}

func TestIssueInvoiceLedgerRaceWastesNumber(t *testing.T) {
	winner := &entity.InvoiceRecord{
		ReceiptID:      "S1",
		DocumentType:   enum.DocumentTypeInvoice,
		PointOfSale:    3,
		DocumentNumber: 99,
	}
	ledger := &racingLedger{winner: winner}
	authority := &fakeAuthority{}
	svc := NewIssuanceService(ledger, authority, nil, 3, 0)

	sale := makeSale("S1", baseTime, lineItem("Alfajor", 2, 500))
	result, err := svc.IssueInvoice(context.Background(), &sale, okReconciliation(&sale))
	require.NoError(t, err)

	// The winning record is returned, and the number this call authorized is
	// flagged as burned.
	assert.True(t, result.AlreadyIssued)
	assert.True(t, result.NumberWasted)
	assert.Equal(t, int64(99), result.Record.DocumentNumber)
	assert.Equal(t, 1, authority.authorizeCalls)
}
