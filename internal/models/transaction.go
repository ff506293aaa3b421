package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawRecord is one row as returned by the upstream table store. Keys follow the
// store's column naming (e.g. "spend.amount") and values are untyped.
type RawRecord map[string]any

type Status string

const (
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
	StatusReversed  Status = "reversed"
	StatusDeclined  Status = "declined"
	StatusUnknown   Status = "unknown"
)

// Statuses is the canonical status vocabulary in display order.
var Statuses = []Status{StatusCompleted, StatusPending, StatusReversed, StatusDeclined, StatusUnknown}

// Record is the canonical transaction produced by the normalizer. Calendar
// fields are derived once from AuthorizedAt and are empty when HasTime is false.
type Record struct {
	ID               string
	UserID           string
	UserEmail        string
	Amount           int64
	AmountUSD        decimal.Decimal
	Status           Status
	AuthorizedAt     time.Time
	HasTime          bool
	MerchantName     string
	MerchantCountry  string
	MerchantCategory string
	Type             string

	Date  string
	Hour  int
	Week  string
	Month string
}

// EntityKey identifies the paying user, preferring the user id and falling
// back to the legacy email key.
func (r Record) EntityKey() string {
	if r.UserID != "" {
		return r.UserID
	}
	return r.UserEmail
}
