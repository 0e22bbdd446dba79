package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"gatepass/display"
	"gatepass/internal/status"
	"gatepass/models"
	"gatepass/services"
	"gatepass/token"
)

type TicketHandler struct {
	app           *pocketbase.PocketBase
	registrations *services.RegistrationService
	checkins      *services.CheckInService
}

func NewTicketHandler(app *pocketbase.PocketBase, registrations *services.RegistrationService, checkins *services.CheckInService) *TicketHandler {
	return &TicketHandler{
		app:           app,
		registrations: registrations,
		checkins:      checkins,
	}
}

// IssueTicket mints a compact wire token for an approved registration.
func (h *TicketHandler) IssueTicket(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		EventID        string `json:"eventId"`
		RegistrationID string `json:"registrationId"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	tokenText, payload, err := h.mint(e.Request.Context(), req.RegistrationID, req.EventID)
	if err != nil {
		return apis.NewBadRequestError("Failed to issue ticket", err)
	}

	record, err := h.checkins.Status(e.Request.Context(), payload.RegistrationID)
	isCheckedIn := err == nil && record.IsCheckedIn

	return e.JSON(http.StatusOK, map[string]any{
		"token":       tokenText,
		"isCheckedIn": isCheckedIn,
	})
}

// TicketQR renders the registration's current token as a PNG QR code.
func (h *TicketHandler) TicketQR(e *core.RequestEvent) error {
	tokenText, _, err := h.mint(e.Request.Context(), e.Request.PathValue("registrationId"), "")
	if err != nil {
		return apis.NewNotFoundError("Registration not found", err)
	}

	png, err := display.RenderQR(tokenText)
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "Failed to render QR", err)
	}
	return e.Blob(http.StatusOK, "image/png", png)
}

// TicketPDF exports a printable one-page ticket.
func (h *TicketHandler) TicketPDF(e *core.RequestEvent) error {
	tokenText, payload, err := h.mint(e.Request.Context(), e.Request.PathValue("registrationId"), "")
	if err != nil {
		return apis.NewNotFoundError("Registration not found", err)
	}

	pdf, err := display.ExportPDF(tokenText, *payload)
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "Failed to export ticket", err)
	}
	return e.Blob(http.StatusOK, "application/pdf", pdf)
}

// mint loads the registration and its event and encodes a fresh compact
// token. Every mint produces a fresh payload; tokens are never stored.
func (h *TicketHandler) mint(ctx context.Context, registrationID, eventID string) (string, *models.TicketPayload, error) {
	reg, err := h.registrations.FindByID(ctx, registrationID)
	if err != nil {
		return "", nil, err
	}
	if eventID != "" && eventID != reg.EventID {
		return "", nil, status.ErrWrongEvent
	}

	payload := models.TicketPayload{
		Holder:         reg.Holder,
		RegistrationID: reg.ID,
		IssuedAt:       time.Now().UTC(),
	}

	// Event details are display enrichment; a registration pointing at a
	// missing event row still yields a scannable token.
	if event, err := h.registrations.FindEvent(ctx, reg.EventID); err == nil {
		payload.Event = *event
	} else {
		payload.Event = models.EventInfo{ID: reg.EventID}
	}

	return token.EncodeCompact(payload), &payload, nil
}
