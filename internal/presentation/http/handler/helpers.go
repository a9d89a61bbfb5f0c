package handler

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// parseDateWindow converts inclusive YYYY-MM-DD bounds into a UTC window
// spanning both full days, mirroring how the POS feed filters receipts.
func parseDateWindow(from, to string) (time.Time, time.Time, error) {
	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid 'from' date %q, expected YYYY-MM-DD", from)
	}
	end, err := time.Parse(dateLayout, to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid 'to' date %q, expected YYYY-MM-DD", to)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("'to' date precedes 'from' date")
	}

	endOfDay := end.Add(24*time.Hour - time.Second)
	return start.UTC(), endOfDay.UTC(), nil
}
