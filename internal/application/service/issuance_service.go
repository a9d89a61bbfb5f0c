package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mlorenzo/facturable-api/internal/domain/entity"
	"github.com/mlorenzo/facturable-api/internal/domain/enum"
	"github.com/mlorenzo/facturable-api/internal/domain/repository"
	"github.com/mlorenzo/facturable-api/pkg/afip"
	"github.com/mlorenzo/facturable-api/pkg/apperror"
	"github.com/shopspring/decimal"
)

const (
	maxAuthorizeAttempts = 3
	retryBackoff         = 500 * time.Millisecond
)

// NumberingAuthority is the narrow interface to the fiscal authority's
// numbering service. The authority's "next number" counter is external,
// shared and not transactional; callers must serialize Authorize calls per
// (point of sale, comprobante type) themselves.
type NumberingAuthority interface {
	Authorize(ctx context.Context, req *afip.AuthorizationRequest) (*afip.Authorization, error)
	LastIssuedNumber(ctx context.Context, pointOfSale, comprobanteTipo int) (int64, error)
}

// ArchiveStore uploads issued-document artifacts to long-term storage.
// Archive failures never fail issuance.
type ArchiveStore interface {
	Configured() bool
	UploadJSON(ctx context.Context, name string, payload interface{}) (string, error)
}

// IssueResult carries the issued (or pre-existing) record plus non-fatal
// outcome flags for the caller.
type IssueResult struct {
	Record *entity.InvoiceRecord `json:"record"`
	// AlreadyIssued is true when the ledger already held a record and the
	// authority was not called.
	AlreadyIssued bool `json:"already_issued"`
	// NumberWasted is true when this call authorized a number but lost the
	// ledger race; the authority has no void operation, so the number is
	// burned and must be accounted for manually.
	NumberWasted bool `json:"number_wasted,omitempty"`
}

// sequenceKey identifies one fiscal numbering sequence.
type sequenceKey struct {
	pointOfSale  int
	documentType enum.DocumentType
}

// sequenceLocks hands out one mutex per numbering sequence. Distinct points
// of sale or document types proceed fully in parallel.
type sequenceLocks struct {
	mu    sync.Mutex
	locks map[sequenceKey]*sync.Mutex
}

func (l *sequenceLocks) get(key sequenceKey) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[sequenceKey]*sync.Mutex)
	}
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	return lock
}

// IssuanceService orchestrates invoice and credit-note issuance: ledger
// short-circuit, reconciliation gate, serialized authority call, ledger
// write. The ledger's conditional put is the at-most-once enforcement point;
// everything here exists to make the happy path hit it exactly once.
type IssuanceService struct {
	ledger      repository.InvoiceLedger
	authority   NumberingAuthority
	archive     ArchiveStore
	pointOfSale int
	maxTotal    decimal.Decimal // zero disables the safe-mode cap
	locks       sequenceLocks
}

// NewIssuanceService creates a new issuance service
func NewIssuanceService(ledger repository.InvoiceLedger, authority NumberingAuthority, archive ArchiveStore, pointOfSale int, maxTotal float64) *IssuanceService {
	return &IssuanceService{
		ledger:      ledger,
		authority:   authority,
		archive:     archive,
		pointOfSale: pointOfSale,
		maxTotal:    decimal.NewFromFloat(maxTotal),
	}
}

// IssueInvoice converts a sale's facturable remainder into a fiscal invoice.
// Calling it twice for the same receipt returns the same record; the
// authority is called at most once across both calls.
func (s *IssuanceService) IssueInvoice(ctx context.Context, sale *entity.Sale, reconciliation *entity.ReconciliationResult) (*IssueResult, error) {
	existing, err := s.ledger.Get(ctx, sale.ReceiptID, enum.DocumentTypeInvoice)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &IssueResult{Record: existing, AlreadyIssued: true}, nil
	}

	if reconciliation.RefundStatus == enum.RefundStatusTotal || !reconciliation.FacturableAmount.IsPositive() {
		return nil, apperror.ErrNothingToInvoice
	}
	if s.maxTotal.IsPositive() && reconciliation.FacturableAmount.GreaterThan(s.maxTotal) {
		return nil, apperror.NewBadRequestError(
			fmt.Sprintf("Total %s exceeds the configured issuing cap of %s", reconciliation.FacturableAmount, s.maxTotal))
	}

	items := make([]afip.Item, 0, len(reconciliation.RemainingItems))
	for _, li := range reconciliation.RemainingItems {
		items = append(items, afip.Item{
			Description: li.Name,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
		})
	}

	docTipo, docNro := recipientDocument(sale.Customer)
	req := &afip.AuthorizationRequest{
		PointOfSale:     s.pointOfSale,
		ComprobanteTipo: enum.DocumentTypeInvoice.ComprobanteCode(),
		DocTipo:         docTipo,
		DocNro:          docNro,
		Items:           items,
		Total:           reconciliation.FacturableAmount,
	}

	record := &entity.InvoiceRecord{
		ReceiptID:    sale.ReceiptID,
		DocumentType: enum.DocumentTypeInvoice,
		PointOfSale:  s.pointOfSale,
		Amount:       reconciliation.FacturableAmount,
	}

	return s.authorizeAndPersist(ctx, req, record)
}

// IssueCreditNote converts a refund into a credit note referencing the
// original sale's invoice. The sale must already be invoiced; a refund that
// already has a credit note short-circuits idempotently.
func (s *IssuanceService) IssueCreditNote(ctx context.Context, refund *entity.Refund, saleReceiptID string) (*IssueResult, error) {
	existing, err := s.ledger.Get(ctx, refund.ReceiptID, enum.DocumentTypeCreditNote)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.LinkedReceiptID != nil && *existing.LinkedReceiptID != saleReceiptID {
			// Credited already, but against a different sale: a genuine
			// business-rule rejection, not an idempotent replay.
			return nil, apperror.ErrRefundAlreadyCredited
		}
		return &IssueResult{Record: existing, AlreadyIssued: true}, nil
	}

	invoice, err := s.ledger.Get(ctx, saleReceiptID, enum.DocumentTypeInvoice)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, apperror.ErrSaleNotInvoiced
	}

	if !refund.Total.IsPositive() || len(refund.Items) == 0 {
		return nil, apperror.NewBadRequestError("Refund has no items or a non-positive total")
	}

	items := make([]afip.Item, 0, len(refund.Items))
	for _, li := range refund.Items {
		items = append(items, afip.Item{
			Description: li.Name,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
		})
	}

	docTipo, docNro := recipientDocument(refund.Customer)
	req := &afip.AuthorizationRequest{
		PointOfSale:           s.pointOfSale,
		ComprobanteTipo:       enum.DocumentTypeCreditNote.ComprobanteCode(),
		DocTipo:               docTipo,
		DocNro:                docNro,
		Items:                 items,
		Total:                 refund.Total,
		LinkedComprobanteTipo: enum.DocumentTypeInvoice.ComprobanteCode(),
		LinkedPointOfSale:     invoice.PointOfSale,
		LinkedDocumentNumber:  invoice.DocumentNumber,
	}

	linkedReceipt := saleReceiptID
	linkedPos := invoice.PointOfSale
	linkedNumber := invoice.DocumentNumber
	record := &entity.InvoiceRecord{
		ReceiptID:            refund.ReceiptID,
		DocumentType:         enum.DocumentTypeCreditNote,
		PointOfSale:          s.pointOfSale,
		Amount:               refund.Total,
		LinkedReceiptID:      &linkedReceipt,
		LinkedPointOfSale:    &linkedPos,
		LinkedDocumentNumber: &linkedNumber,
	}

	return s.authorizeAndPersist(ctx, req, record)
}

// authorizeAndPersist holds the sequence lock across the authorize call and
// the ledger write, because the authority's numbering is read-then-write
// with no transaction. Cancellation is honored only up to the lock: once the
// authority call may be in flight, aborting would leave the external
// sequence in an uncertain state.
func (s *IssuanceService) authorizeAndPersist(ctx context.Context, req *afip.AuthorizationRequest, record *entity.InvoiceRecord) (*IssueResult, error) {
	key := sequenceKey{pointOfSale: req.PointOfSale, documentType: record.DocumentType}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lock := s.locks.get(key)
	lock.Lock()
	defer lock.Unlock()

	// A concurrent caller for the same receipt may have issued while this
	// one waited on the lock.
	existing, err := s.ledger.Get(ctx, record.ReceiptID, record.DocumentType)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &IssueResult{Record: existing, AlreadyIssued: true}, nil
	}

	auth, err := s.authorizeWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}

	record.DocumentNumber = auth.DocumentNumber
	record.AuthorizationCode = auth.AuthorizationCode
	record.AuthorizationExpiry = auth.ExpiryDate
	record.IssuedAt = auth.IssuedDate

	if err := s.ledger.CreateIfAbsent(ctx, record); err != nil {
		if apperror.GetAppError(err).Code == apperror.ErrConflict.Code {
			// Lost the ledger race after authorizing. The authority has no
			// void operation, so the number is burned; log it for manual
			// reconciliation of the numbering gap and hand back the winner.
			log.Printf("Warning: wasted document number %d (point of sale %d, %s) for receipt %s",
				auth.DocumentNumber, req.PointOfSale, record.DocumentType, record.ReceiptID)
			winner, getErr := s.ledger.Get(ctx, record.ReceiptID, record.DocumentType)
			if getErr != nil || winner == nil {
				return nil, err
			}
			return &IssueResult{Record: winner, AlreadyIssued: true, NumberWasted: true}, nil
		}
		return nil, err
	}

	s.archiveRecord(record)

	return &IssueResult{Record: record}, nil
}

// authorizeWithRetry calls the authority with a bounded number of attempts.
// After a transient failure the outcome is unknown (the authority may have
// issued the number without confirming), so every retry is preceded by a
// last-issued-number probe: if the counter advanced, the in-flight call
// landed and blind retrying would double-issue.
func (s *IssuanceService) authorizeWithRetry(ctx context.Context, req *afip.AuthorizationRequest) (*afip.Authorization, error) {
	lastBefore, err := s.authority.LastIssuedNumber(ctx, req.PointOfSale, req.ComprobanteTipo)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAuthorizeAttempts; attempt++ {
		auth, err := s.authority.Authorize(ctx, req)
		if err == nil {
			return auth, nil
		}
		if !apperror.IsTransient(err) {
			return nil, err
		}
		lastErr = err

		lastNow, probeErr := s.authority.LastIssuedNumber(ctx, req.PointOfSale, req.ComprobanteTipo)
		if probeErr == nil && lastNow > lastBefore {
			return nil, &apperror.UncertainError{
				PointOfSale:    req.PointOfSale,
				DocumentNumber: lastNow,
			}
		}

		if attempt < maxAuthorizeAttempts {
			time.Sleep(time.Duration(attempt) * retryBackoff)
		}
	}

	return nil, lastErr
}

// archiveRecord uploads a JSON copy of the issued record, best effort.
func (s *IssuanceService) archiveRecord(record *entity.InvoiceRecord) {
	if s.archive == nil || !s.archive.Configured() {
		return
	}
	name := fmt.Sprintf("%s_%d_%08d.json", record.DocumentType, record.PointOfSale, record.DocumentNumber)

	// Issuance already succeeded; do not let a slow upload block the caller.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.archive.UploadJSON(ctx, name, record); err != nil {
		log.Printf("Warning: failed to archive %s: %v", name, err)
	}
}

// recipientDocument maps an optional customer to the authority's recipient
// identification: DNI when present, otherwise consumidor final.
func recipientDocument(customer *entity.Customer) (docTipo int, docNro int64) {
	if customer == nil || customer.DNI == "" {
		return afip.DocTipoDNI, afip.DocNroConsumidorFinal
	}
	var dni int64
	if _, err := fmt.Sscanf(customer.DNI, "%d", &dni); err != nil {
		return afip.DocTipoDNI, afip.DocNroConsumidorFinal
	}
	return afip.DocTipoDNI, dni
}
