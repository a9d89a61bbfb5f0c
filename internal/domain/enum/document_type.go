package enum

import (
	"database/sql/driver"
	"encoding/json"
)

// DocumentType represents the fiscal document kind issued for a receipt
type DocumentType int

const (
	DocumentTypeInvoice    DocumentType = 0
	DocumentTypeCreditNote DocumentType = 1
)

// Comprobante codes registered with the fiscal authority for a
// monotributo/Factura C issuer: Factura C = 11, Nota de Crédito C = 13.
const (
	ComprobanteFacturaC     = 11
	ComprobanteNotaCreditoC = 13
)

func (t DocumentType) String() string {
	return [...]string{"Invoice", "CreditNote"}[t]
}

// ComprobanteCode returns the authority's comprobante type code
func (t DocumentType) ComprobanteCode() int {
	switch t {
	case DocumentTypeCreditNote:
		return ComprobanteNotaCreditoC
	default:
		return ComprobanteFacturaC
	}
}

func (t DocumentType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *DocumentType) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		var i int
		if err := json.Unmarshal(data, &i); err != nil {
			return err
		}
		*t = DocumentType(i)
		return nil
	}
	switch str {
	case "CreditNote":
		*t = DocumentTypeCreditNote
	default:
		*t = DocumentTypeInvoice
	}
	return nil
}

func (t DocumentType) Value() (driver.Value, error) {
	return int64(t), nil
}

func (t *DocumentType) Scan(value interface{}) error {
	if value == nil {
		*t = DocumentTypeInvoice
		return nil
	}
	switch v := value.(type) {
	case int64:
		*t = DocumentType(v)
	case int:
		*t = DocumentType(v)
	}
	return nil
}
