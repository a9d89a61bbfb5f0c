package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/mlorenzo/facturable-api/internal/application/service"
	"github.com/mlorenzo/facturable-api/internal/presentation/http/dto/request"
	"github.com/mlorenzo/facturable-api/internal/presentation/http/dto/response"
)

// ReconciliationHandler exposes refund-to-sale matching over a date window
type ReconciliationHandler struct {
	receiptService        *service.ReceiptService
	reconciliationService *service.ReconciliationService
}

// NewReconciliationHandler creates a new reconciliation handler
func NewReconciliationHandler(receiptService *service.ReceiptService, reconciliationService *service.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{
		receiptService:        receiptService,
		reconciliationService: reconciliationService,
	}
}

// Reconcile handles GET /reconciliation
func (h *ReconciliationHandler) Reconcile(c *gin.Context) {
	var query request.ReconciliationQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.BadRequest(c, "'from' and 'to' query parameters are required (YYYY-MM-DD)")
		return
	}

	from, to, err := parseDateWindow(query.From, query.To)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	batch, err := h.receiptService.FetchWindow(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}

	report, err := h.reconciliationService.Reconcile(c.Request.Context(), batch.Sales, batch.Refunds)
	if err != nil {
		response.Error(c, err)
		return
	}

	if query.ReceiptID != "" {
		result := report.ResultFor(query.ReceiptID)
		if result == nil {
			response.NotFound(c, "No sale with that receipt id in the window")
			return
		}
		response.OK(c, "Reconciliation computed successfully", result)
		return
	}

	response.OK(c, "Reconciliation computed successfully", gin.H{
		"results":          report.Results,
		"unlinked_refunds": report.UnlinkedRefunds,
		"dropped_receipts": batch.Dropped,
	})
}
