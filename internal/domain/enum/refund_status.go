package enum

import "encoding/json"

// RefundStatus classifies how much of a sale has been refunded
type RefundStatus int

const (
	RefundStatusNone    RefundStatus = 0
	RefundStatusPartial RefundStatus = 1
	RefundStatusTotal   RefundStatus = 2
)

func (s RefundStatus) String() string {
	return [...]string{"None", "Partial", "Total"}[s]
}

func (s RefundStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *RefundStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		var i int
		if err := json.Unmarshal(data, &i); err != nil {
			return err
		}
		*s = RefundStatus(i)
		return nil
	}
	switch str {
	case "Partial":
		*s = RefundStatusPartial
	case "Total":
		*s = RefundStatusTotal
	default:
		*s = RefundStatusNone
	}
	return nil
}
