package request

// AuthTokenRequest exchanges the configured API key for an access token
type AuthTokenRequest struct {
	APIKey     string `json:"api_key" binding:"required"`
	ClientName string `json:"client_name"`
}

// WindowQuery bounds a receipt window by date (YYYY-MM-DD, inclusive)
type WindowQuery struct {
	From string `form:"from" binding:"required"`
	To   string `form:"to" binding:"required"`
}

// ReconciliationQuery filters a reconciliation window
type ReconciliationQuery struct {
	WindowQuery
	ReceiptID string `form:"receipt_id"`
}

// IssueInvoiceRequest triggers invoice issuance for a sale receipt. The
// window must contain the sale and any refunds that reduce it.
type IssueInvoiceRequest struct {
	ReceiptID string `json:"receipt_id" binding:"required"`
	From      string `json:"from" binding:"required"`
	To        string `json:"to" binding:"required"`
}

// IssueCreditNoteRequest triggers credit-note issuance for a refund receipt.
// SaleReceiptID is optional; when omitted it is derived from reconciliation.
type IssueCreditNoteRequest struct {
	RefundReceiptID string `json:"refund_receipt_id" binding:"required"`
	SaleReceiptID   string `json:"sale_receipt_id"`
	From            string `json:"from" binding:"required"`
	To              string `json:"to" binding:"required"`
}
