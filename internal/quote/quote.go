// Package quote exposes the narrow read/update view of quotes the payment
// core needs. Quotes are owned elsewhere; this package never creates or
// deletes them.
package quote

import "time"

type Status string

const (
	StatusDraft    Status = "draft"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusPaid     Status = "paid"
	StatusExpired  Status = "expired"
)

// Payable reports whether a payment attempt may reference the quote.
func (s Status) Payable() bool {
	return s == StatusPending || s == StatusApproved
}

type Quote struct {
	ID         string
	Status     Status
	FinalTotal string
	Currency   string
	OwnerID    string // empty for guest quotes
	UpdatedAt  time.Time
}
