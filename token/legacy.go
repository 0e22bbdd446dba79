package token

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"gatepass/internal/status"
	"gatepass/models"
)

// Legacy dialect: the original wire format, a JSON object with embedded
// participant/event sub-objects, base64-encoded into one opaque string.
// Heavier than the compact dialect but preserves full field names; tokens in
// this form stay readable indefinitely.

type legacyHolder struct {
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	RollNumber string `json:"rollNumber,omitempty"`
	Department string `json:"department,omitempty"`
	Year       string `json:"year,omitempty"`
	Class      string `json:"class,omitempty"`
}

type legacyEvent struct {
	ID        string     `json:"id,omitempty"`
	Title     string     `json:"title,omitempty"`
	Location  string     `json:"location,omitempty"`
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}

type legacyTicket struct {
	Participant    *legacyHolder `json:"participant,omitempty"`
	Event          *legacyEvent  `json:"event,omitempty"`
	RegistrationID string        `json:"registrationId,omitempty"`
	IssuedAt       *time.Time    `json:"issuedAt,omitempty"`
	ExpiresAt      *time.Time    `json:"expiresAt,omitempty"`
	IsFallback     bool          `json:"isFallback,omitempty"`
}

// EncodeLegacy serializes a payload into the legacy base64 dialect.
func EncodeLegacy(p models.TicketPayload) (string, error) {
	t := legacyTicket{
		RegistrationID: p.RegistrationID,
		IsFallback:     p.IsFallback,
	}
	if !p.Holder.IsEmpty() {
		t.Participant = &legacyHolder{
			Name:       p.Holder.Name,
			Email:      p.Holder.Email,
			RollNumber: p.Holder.RollNumber,
			Department: p.Holder.Department,
			Year:       p.Holder.Year,
			Class:      p.Holder.Class,
		}
	}
	if !p.Event.IsEmpty() {
		t.Event = &legacyEvent{
			ID:        p.Event.ID,
			Title:     p.Event.Title,
			Location:  p.Event.Location,
			StartTime: p.Event.StartTime,
			EndTime:   p.Event.EndTime,
		}
	}
	if !p.IssuedAt.IsZero() {
		issued := p.IssuedAt
		t.IssuedAt = &issued
	}
	if !p.ExpiresAt.IsZero() {
		expires := p.ExpiresAt
		t.ExpiresAt = &expires
	}

	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeLegacy reverses EncodeLegacy. Malformed base64 or JSON reports
// unrecognized, never panics past the codec boundary.
func DecodeLegacy(raw string) (*models.TicketPayload, error) {
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, status.ErrUnrecognizedToken
	}

	var t legacyTicket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, status.ErrUnrecognizedToken
	}

	var p models.TicketPayload
	p.RegistrationID = t.RegistrationID
	p.IsFallback = t.IsFallback
	if t.Participant != nil {
		p.Holder = models.Holder{
			Name:       t.Participant.Name,
			Email:      t.Participant.Email,
			RollNumber: t.Participant.RollNumber,
			Department: t.Participant.Department,
			Year:       t.Participant.Year,
			Class:      t.Participant.Class,
		}
	}
	if t.Event != nil {
		p.Event = models.EventInfo{
			ID:        t.Event.ID,
			Title:     t.Event.Title,
			Location:  t.Event.Location,
			StartTime: t.Event.StartTime,
			EndTime:   t.Event.EndTime,
		}
	}
	if t.IssuedAt != nil {
		p.IssuedAt = *t.IssuedAt
	}
	if t.ExpiresAt != nil {
		p.ExpiresAt = *t.ExpiresAt
	}

	if !p.HasIdentity() && p.RegistrationID == "" {
		return nil, status.ErrUnrecognizedToken
	}
	return &p, nil
}
