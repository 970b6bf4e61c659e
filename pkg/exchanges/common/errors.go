package common

import "fmt"

// OrderError carries the venue's raw status and message when an order is
// rejected or errored. Adapters never retry; callers decide what to do.
type OrderError struct {
	Exchange Exchange
	Status   int    // HTTP status or venue return code
	Message  string // raw venue payload
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("%s order error (status %d): %s", e.Exchange, e.Status, e.Message)
}
