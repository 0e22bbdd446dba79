package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gatepass/internal/services/authority"
	"gatepass/models"
	"gatepass/monitoring"
	"gatepass/token"
	"gatepass/utils"
)

// TokenMinter is the remote half of the issuance protocol.
type TokenMinter interface {
	IssueToken(ctx context.Context, eventID, registrationID string) (*authority.IssueReply, error)
}

// IssuedTicket is what the display surface consumes.
type IssuedTicket struct {
	Token       string
	Payload     models.TicketPayload
	IsCheckedIn bool
	// IsFallback marks a reduced-trust ticket synthesized without the
	// authority; FallbackRef is the human-quotable reference shown in the
	// accompanying warning.
	IsFallback  bool
	FallbackRef string
}

// IssuanceService produces a wire token for a (holder, event, registration)
// triple. The remote authority is the primary path; any remote failure
// drops to local synthesis, so issuance never fails outright while the
// caller knows the holder and the event.
type IssuanceService struct {
	authority   TokenMinter
	fallbackTTL time.Duration
	now         func() time.Time
}

func NewIssuanceService(minter TokenMinter, fallbackTTL time.Duration) *IssuanceService {
	if fallbackTTL <= 0 {
		fallbackTTL = 7 * 24 * time.Hour
	}
	return &IssuanceService{
		authority:   minter,
		fallbackTTL: fallbackTTL,
		now:         time.Now,
	}
}

var errMissingIdentity = errors.New("issuance: neither holder nor event details known locally")

// IssueTicket mints a ticket. holder and event are the locally known
// details of the calling context; they repair authority payloads that come
// back with gaps and they feed fallback synthesis.
func (s *IssuanceService) IssueTicket(ctx context.Context, holder models.Holder, event models.EventInfo, registrationID string) (*IssuedTicket, error) {
	if holder.IsEmpty() && event.IsEmpty() {
		return nil, errMissingIdentity
	}

	reply, err := s.authority.IssueToken(ctx, event.ID, registrationID)
	if err != nil {
		slog.Warn("authority issuance failed, synthesizing fallback ticket",
			"registrationID", registrationID, "error", err)
		return s.issueFallback(holder, event, registrationID)
	}

	return s.acceptServerToken(reply, holder, event, registrationID)
}

// acceptServerToken re-decodes the authority's token locally and repairs it
// when the authority had incomplete context. The display must never show an
// empty participant block while the caller knows who the ticket is for.
func (s *IssuanceService) acceptServerToken(reply *authority.IssueReply, holder models.Holder, event models.EventInfo, registrationID string) (*IssuedTicket, error) {
	parsed, err := token.Parse(reply.Token)
	if err != nil {
		// The authority answered with something no dialect recognizes.
		// Treat it like a failed call rather than handing the display an
		// undecodable ticket.
		slog.Warn("authority returned unparseable token, synthesizing fallback ticket",
			"registrationID", registrationID)
		return s.issueFallback(holder, event, registrationID)
	}

	payload := *parsed.Payload
	enriched := enrichPayload(&payload, holder, event, registrationID)

	tokenText := reply.Token
	if enriched {
		tokenText = token.EncodeCompact(payload)
		monitoring.TrackIssuance("enriched")
	} else {
		monitoring.TrackIssuance("server")
	}

	return &IssuedTicket{
		Token:       tokenText,
		Payload:     payload,
		IsCheckedIn: reply.IsCheckedIn,
	}, nil
}

// enrichPayload fills empty payload fields from the locally known context.
// Locally known values only ever fill gaps; non-empty authority fields win.
func enrichPayload(p *models.TicketPayload, holder models.Holder, event models.EventInfo, registrationID string) bool {
	enriched := false

	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			enriched = true
		}
	}

	fill(&p.Holder.Name, holder.Name)
	fill(&p.Holder.Email, holder.Email)
	fill(&p.Holder.RollNumber, holder.RollNumber)
	fill(&p.Holder.Department, holder.Department)
	fill(&p.Holder.Year, holder.Year)
	fill(&p.Holder.Class, holder.Class)
	fill(&p.Event.ID, event.ID)
	fill(&p.Event.Title, event.Title)
	fill(&p.Event.Location, event.Location)
	fill(&p.RegistrationID, registrationID)
	if p.Event.StartTime == nil && event.StartTime != nil {
		start := *event.StartTime
		p.Event.StartTime = &start
		enriched = true
	}

	return enriched
}

func (s *IssuanceService) issueFallback(holder models.Holder, event models.EventInfo, registrationID string) (*IssuedTicket, error) {
	issuedAt := s.now()
	payload := models.TicketPayload{
		Holder:         holder,
		Event:          event,
		RegistrationID: registrationID,
		IssuedAt:       issuedAt,
		ExpiresAt:      issuedAt.Add(s.fallbackTTL),
		IsFallback:     true,
	}

	encoded, err := token.EncodeLegacy(payload)
	if err != nil {
		return nil, err
	}

	ref, err := utils.GenerateFallbackRef()
	if err != nil {
		ref = ""
	}

	monitoring.TrackIssuance("fallback")
	return &IssuedTicket{
		Token:       encoded,
		Payload:     payload,
		IsFallback:  true,
		FallbackRef: ref,
	}, nil
}
