package loyverse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mlorenzo/facturable-api/pkg/apperror"
)

const defaultPageLimit = 250

// Money is a Loyverse money value. Amounts arrive in currency subunits.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// RawLineItem is a line item exactly as the POS returns it.
type RawLineItem struct {
	ItemName    string  `json:"item_name"`
	VariantName string  `json:"variant_name"`
	Quantity    float64 `json:"quantity"`
	Price       Money   `json:"price"`
}

// RawCustomer is the optional customer block on a receipt.
type RawCustomer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	DNI   string `json:"dni"`
}

// RawReceipt is a receipt exactly as the POS returns it. Decoding into this
// type is the only place loosely-shaped POS JSON is handled; everything past
// the normalizer is canonical.
type RawReceipt struct {
	ID            string        `json:"id"`
	ReceiptNumber string        `json:"receipt_number"`
	ReceiptType   string        `json:"receipt_type"` // "SALE" or "REFUND"
	RefundFor     string        `json:"refund_for,omitempty"`
	ReceiptDate   string        `json:"receipt_date"`
	CreatedAt     string        `json:"created_at"`
	TotalMoney    Money         `json:"total_money"`
	LineItems     []RawLineItem `json:"line_items"`
	Customer      *RawCustomer  `json:"customer,omitempty"`
}

type receiptsPage struct {
	Receipts []RawReceipt `json:"receipts"`
	Cursor   string       `json:"cursor"`
}

// Config holds Loyverse API client configuration
type Config struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	PageLimit int
}

// Client calls the Loyverse receipts API
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new Loyverse API client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.loyverse.com/v1.0"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PageLimit == 0 {
		cfg.PageLimit = defaultPageLimit
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// FetchReceipts returns all receipts created in [from, to], following the
// opaque pagination cursor until the feed signals end of stream by omitting
// it. Partial pages are valid; an empty window returns an empty slice.
func (c *Client) FetchReceipts(ctx context.Context, from, to time.Time) ([]RawReceipt, error) {
	var all []RawReceipt
	cursor := ""

	for {
		page, err := c.fetchPage(ctx, from, to, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Receipts...)

		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, from, to time.Time, cursor string) (*receiptsPage, error) {
	params := url.Values{}
	params.Set("created_at_min", from.UTC().Format(time.RFC3339))
	params.Set("created_at_max", to.UTC().Format(time.RFC3339))
	params.Set("limit", fmt.Sprintf("%d", c.cfg.PageLimit))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/receipts?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperror.NewTransientError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperror.NewTransientError(fmt.Errorf("loyverse returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("loyverse returned %d", resp.StatusCode)
	}

	var page receiptsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding receipts page: %w", err)
	}
	return &page, nil
}
