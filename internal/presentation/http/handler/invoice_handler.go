package handler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mlorenzo/facturable-api/internal/application/service"
	"github.com/mlorenzo/facturable-api/internal/domain/entity"
	"github.com/mlorenzo/facturable-api/internal/domain/enum"
	"github.com/mlorenzo/facturable-api/internal/domain/repository"
	"github.com/mlorenzo/facturable-api/internal/presentation/http/dto/request"
	"github.com/mlorenzo/facturable-api/internal/presentation/http/dto/response"
	"github.com/mlorenzo/facturable-api/pkg/pagination"
)

// InvoiceHandler drives invoice and credit-note issuance and exposes the
// issuance ledger.
type InvoiceHandler struct {
	receiptService        *service.ReceiptService
	reconciliationService *service.ReconciliationService
	issuanceService       *service.IssuanceService
	ledger                repository.InvoiceLedger
}

// NewInvoiceHandler creates a new invoice handler
func NewInvoiceHandler(
	receiptService *service.ReceiptService,
	reconciliationService *service.ReconciliationService,
	issuanceService *service.IssuanceService,
	ledger repository.InvoiceLedger,
) *InvoiceHandler {
	return &InvoiceHandler{
		receiptService:        receiptService,
		reconciliationService: reconciliationService,
		issuanceService:       issuanceService,
		ledger:                ledger,
	}
}

// IssueInvoice handles POST /invoices
func (h *InvoiceHandler) IssueInvoice(c *gin.Context) {
	var req request.IssueInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "receipt_id, from and to are required")
		return
	}

	from, to, err := parseDateWindow(req.From, req.To)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	batch, err := h.receiptService.FetchWindow(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}

	sale := batch.FindSale(req.ReceiptID)
	if sale == nil {
		response.NotFound(c, "No sale with that receipt id in the window")
		return
	}

	report, err := h.reconciliationService.Reconcile(c.Request.Context(), batch.Sales, batch.Refunds)
	if err != nil {
		response.Error(c, err)
		return
	}
	reconciliation := report.ResultFor(sale.ReceiptID)

	result, err := h.issuanceService.IssueInvoice(c.Request.Context(), sale, reconciliation)
	if err != nil {
		response.Error(c, err)
		return
	}

	if result.AlreadyIssued {
		response.OK(c, "Invoice already issued for this receipt", result)
		return
	}
	response.Created(c, "Invoice issued successfully", result)
}

// IssueCreditNote handles POST /credit-notes
func (h *InvoiceHandler) IssueCreditNote(c *gin.Context) {
	var req request.IssueCreditNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "refund_receipt_id, from and to are required")
		return
	}

	from, to, err := parseDateWindow(req.From, req.To)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	batch, err := h.receiptService.FetchWindow(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}

	refund := batch.FindRefund(req.RefundReceiptID)
	if refund == nil {
		response.NotFound(c, "No refund with that receipt id in the window")
		return
	}

	saleReceiptID := req.SaleReceiptID
	if saleReceiptID == "" {
		report, err := h.reconciliationService.Reconcile(c.Request.Context(), batch.Sales, batch.Refunds)
		if err != nil {
			response.Error(c, err)
			return
		}
		linked := report.RefundLinks[refund.ReceiptID]
		switch len(linked) {
		case 0:
			response.BadRequest(c, "Refund is not linked to any sale in the window; pass sale_receipt_id explicitly")
			return
		case 1:
			saleReceiptID = linked[0]
		default:
			response.BadRequest(c, "Refund is linked to multiple sales; pass sale_receipt_id explicitly")
			return
		}
	}

	result, err := h.issuanceService.IssueCreditNote(c.Request.Context(), refund, saleReceiptID)
	if err != nil {
		response.Error(c, err)
		return
	}

	if result.AlreadyIssued {
		response.OK(c, "Credit note already issued for this refund", result)
		return
	}
	response.Created(c, "Credit note issued successfully", result)
}

// List handles GET /invoices
func (h *InvoiceHandler) List(c *gin.Context) {
	params := pagination.DefaultPagination()
	if err := c.ShouldBindQuery(params); err != nil {
		response.BadRequest(c, "Invalid pagination parameters")
		return
	}
	params.Validate()

	filter := &repository.LedgerFilterParams{Pagination: params}

	if typeStr := c.Query("type"); typeStr != "" {
		docType, err := parseDocumentType(typeStr)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		filter.DocumentType = &docType
	}
	if posStr := c.Query("point_of_sale"); posStr != "" {
		pos, err := strconv.Atoi(posStr)
		if err != nil {
			response.BadRequest(c, "point_of_sale must be an integer")
			return
		}
		filter.PointOfSale = &pos
	}
	if fromStr := c.Query("issued_after"); fromStr != "" {
		t, err := time.Parse(dateLayout, fromStr)
		if err != nil {
			response.BadRequest(c, "issued_after must be YYYY-MM-DD")
			return
		}
		filter.IssuedAfter = &t
	}
	if toStr := c.Query("issued_before"); toStr != "" {
		t, err := time.Parse(dateLayout, toStr)
		if err != nil {
			response.BadRequest(c, "issued_before must be YYYY-MM-DD")
			return
		}
		filter.IssuedBefore = &t
	}

	records, total, err := h.ledger.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	result := pagination.NewPaginatedResult(records, pagination.NewPagination(params.Page, params.PerPage, total))
	response.SuccessWithPagination[entity.InvoiceRecord](c, 200, "Ledger records retrieved successfully", result)
}

// Get handles GET /invoices/:receiptId/:type
func (h *InvoiceHandler) Get(c *gin.Context) {
	docType, err := parseDocumentType(c.Param("type"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	record, err := h.ledger.Get(c.Request.Context(), c.Param("receiptId"), docType)
	if err != nil {
		response.Error(c, err)
		return
	}
	if record == nil {
		response.NotFound(c, "No issued document for that receipt")
		return
	}

	response.OK(c, "Ledger record retrieved successfully", record)
}

// parseDocumentType maps the URL/query spelling of a document type.
func parseDocumentType(s string) (enum.DocumentType, error) {
	switch strings.ToLower(s) {
	case "invoice", "factura":
		return enum.DocumentTypeInvoice, nil
	case "credit-note", "credit_note", "nota-credito":
		return enum.DocumentTypeCreditNote, nil
	default:
		return 0, fmt.Errorf("unknown document type %q, expected 'invoice' or 'credit-note'", s)
	}
}
