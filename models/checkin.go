package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Registration is the backing-store row a wire token correlates to.
type Registration struct {
	ID         string          `json:"id"`
	EventID    string          `json:"event_id"`
	Holder     Holder          `json:"participant"`
	PhotoURL   string          `json:"photo_url,omitempty"`
	Fee        decimal.Decimal `json:"fee"`
	Status     string          `json:"status"` // pending, approved, cancelled
	CreatedAt  time.Time       `json:"created_at"`
	ApprovedAt *time.Time      `json:"approved_at,omitempty"`
}

// CheckInRecord is owned by the backing store. At most one active record
// exists per registration; the store is the sole writer.
type CheckInRecord struct {
	RegistrationID string     `json:"registration_id"`
	IsCheckedIn    bool       `json:"is_checked_in"`
	CheckedInAt    *time.Time `json:"checked_in_at,omitempty"`
	CheckedInBy    string     `json:"checked_in_by,omitempty"`
}

type CheckInStatus string

const (
	CheckInConfirmed       CheckInStatus = "confirmed"
	CheckInAlreadyAdmitted CheckInStatus = "already_admitted"
	CheckInRejected        CheckInStatus = "rejected"
)

// CheckInResult is the authoritative reply to an attemptCheckIn proposal.
type CheckInResult struct {
	Status CheckInStatus  `json:"status"`
	Record *CheckInRecord `json:"record,omitempty"`
	Reason string         `json:"reason,omitempty"`
}
