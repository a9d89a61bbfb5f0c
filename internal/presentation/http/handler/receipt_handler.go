package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/mlorenzo/facturable-api/internal/application/service"
	"github.com/mlorenzo/facturable-api/internal/presentation/http/dto/request"
	"github.com/mlorenzo/facturable-api/internal/presentation/http/dto/response"
)

// ReceiptHandler exposes the normalized POS receipt window
type ReceiptHandler struct {
	receiptService *service.ReceiptService
}

// NewReceiptHandler creates a new receipt handler
func NewReceiptHandler(receiptService *service.ReceiptService) *ReceiptHandler {
	return &ReceiptHandler{receiptService: receiptService}
}

// List handles GET /receipts
func (h *ReceiptHandler) List(c *gin.Context) {
	var query request.WindowQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.BadRequest(c, "'from' and 'to' query parameters are required (YYYY-MM-DD)")
		return
	}

	from, to, err := parseDateWindow(query.From, query.To)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	sales, refunds, err := h.receiptService.ListReceipts(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, "Receipts retrieved successfully", gin.H{
		"sales":   sales,
		"refunds": refunds,
	})
}
