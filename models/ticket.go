package models

import (
	"time"
)

// Holder describes the participant a ticket was issued to. Every field is
// optional on the wire; rendering falls back to "Unknown" for blanks.
type Holder struct {
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	RollNumber string `json:"roll_number,omitempty"`
	Department string `json:"department,omitempty"`
	Year       string `json:"year,omitempty"`
	Class      string `json:"class,omitempty"`
}

func (h Holder) IsEmpty() bool {
	return h.Name == "" && h.Email == "" && h.RollNumber == "" &&
		h.Department == "" && h.Year == "" && h.Class == ""
}

func (h Holder) DisplayName() string {
	if h.Name == "" {
		return "Unknown"
	}
	return h.Name
}

type EventInfo struct {
	ID        string     `json:"id,omitempty"`
	Title     string     `json:"title,omitempty"`
	Location  string     `json:"location,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

func (e EventInfo) IsEmpty() bool {
	return e.ID == "" && e.Title == "" && e.Location == "" && e.StartTime == nil
}

func (e EventInfo) DisplayTitle() string {
	if e.Title == "" {
		return "Unknown event"
	}
	return e.Title
}

// TicketPayload is the dialect-independent form of a ticket. It is a value:
// once encoded to a wire token it is never mutated, re-issuance always
// produces a fresh payload.
type TicketPayload struct {
	Holder         Holder    `json:"participant"`
	Event          EventInfo `json:"event"`
	RegistrationID string    `json:"registration_id"`
	IssuedAt       time.Time `json:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	IsFallback     bool      `json:"is_fallback"`
}

// HasIdentity reports whether the payload recovered at least one holder or
// event field. A payload with neither is treated as unrecognized.
func (p TicketPayload) HasIdentity() bool {
	return !p.Holder.IsEmpty() || !p.Event.IsEmpty()
}

func (p TicketPayload) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}
