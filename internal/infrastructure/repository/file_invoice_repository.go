package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/mlorenzo/facturable-api/internal/domain/entity"
	"github.com/mlorenzo/facturable-api/internal/domain/enum"
	domainRepo "github.com/mlorenzo/facturable-api/internal/domain/repository"
	"github.com/mlorenzo/facturable-api/pkg/apperror"
)

// fileInvoiceRepository is a JSON-file ledger for single-instance
// deployments without a database. Writes go through an in-process mutex and
// an atomic rename, which is enough for the single-writer-per-key guarantee
// as long as exactly one process owns the file.
type fileInvoiceRepository struct {
	mu      sync.Mutex
	path    string
	records map[string]entity.InvoiceRecord
}

// NewFileInvoiceRepository creates a JSON-file-backed invoice ledger
func NewFileInvoiceRepository(path string) (domainRepo.InvoiceLedger, error) {
	r := &fileInvoiceRepository{
		path:    path,
		records: make(map[string]entity.InvoiceRecord),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func ledgerKey(receiptID string, docType enum.DocumentType) string {
	return fmt.Sprintf("%s|%d", receiptID, int(docType))
}

func (r *fileInvoiceRepository) load() error {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading ledger file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &r.records); err != nil {
		return fmt.Errorf("parsing ledger file %s: %w", r.path, err)
	}
	return nil
}

// flush writes the full ledger to a temp file and renames it into place so
// a crash mid-write never truncates the ledger.
func (r *fileInvoiceRepository) flush() error {
	data, err := json.MarshalIndent(r.records, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".ledger-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), r.path)
}

func (r *fileInvoiceRepository) Get(ctx context.Context, receiptID string, docType enum.DocumentType) (*entity.InvoiceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[ledgerKey(receiptID, docType)]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (r *fileInvoiceRepository) CreateIfAbsent(ctx context.Context, record *entity.InvoiceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ledgerKey(record.ReceiptID, record.DocumentType)
	if _, exists := r.records[key]; exists {
		return apperror.NewConflictError("A record for this receipt and document type already exists")
	}

	r.records[key] = *record
	if err := r.flush(); err != nil {
		delete(r.records, key)
		return err
	}
	return nil
}

func (r *fileInvoiceRepository) List(ctx context.Context, params *domainRepo.LedgerFilterParams) ([]entity.InvoiceRecord, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []entity.InvoiceRecord
	for _, record := range r.records {
		if params.DocumentType != nil && record.DocumentType != *params.DocumentType {
			continue
		}
		if params.PointOfSale != nil && record.PointOfSale != *params.PointOfSale {
			continue
		}
		if params.IssuedAfter != nil && record.IssuedAt.Before(*params.IssuedAfter) {
			continue
		}
		if params.IssuedBefore != nil && record.IssuedAt.After(*params.IssuedBefore) {
			continue
		}
		matched = append(matched, record)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].IssuedAt.After(matched[j].IssuedAt)
	})

	total := int64(len(matched))
	offset := params.Pagination.Offset()
	if offset >= len(matched) {
		return []entity.InvoiceRecord{}, total, nil
	}
	end := offset + params.Pagination.PerPage
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}
