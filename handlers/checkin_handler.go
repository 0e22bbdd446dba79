package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"gatepass/models"
	"gatepass/services"
)

type CheckInHandler struct {
	app           *pocketbase.PocketBase
	checkins      *services.CheckInService
	registrations *services.RegistrationService
}

func NewCheckInHandler(app *pocketbase.PocketBase, checkins *services.CheckInService, registrations *services.RegistrationService) *CheckInHandler {
	return &CheckInHandler{
		app:           app,
		checkins:      checkins,
		registrations: registrations,
	}
}

// AttemptCheckIn is the store side of the reconciliation protocol: it takes
// the raw scanned token, runs the single-use transition and answers with the
// authoritative result. Business rejections come back as 200 with
// valid=false, never as HTTP errors; only infrastructure failures are 5xx.
func (h *CheckInHandler) AttemptCheckIn(e *core.RequestEvent) error {
	var req struct {
		Token    string `json:"token"`
		Operator string `json:"operator"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	operator := req.Operator
	if operator == "" {
		if deviceID, ok := e.Get("device_id").(string); ok {
			operator = deviceID
		}
	}

	result, err := h.checkins.AttemptCheckIn(e.Request.Context(), req.Token, operator)
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "Check-in failed", err)
	}

	reply := map[string]any{
		"valid":            result.Status != models.CheckInRejected,
		"success":          result.Status == models.CheckInConfirmed,
		"alreadyCheckedIn": result.Status == models.CheckInAlreadyAdmitted,
	}
	if result.Reason != "" {
		reply["errorMessage"] = result.Reason
	}
	if result.Record != nil {
		if result.Record.CheckedInAt != nil {
			reply["checkedInAt"] = result.Record.CheckedInAt
		}

		// Canonical details from the store, so the scanner can replace the
		// token's self-reported fields.
		if reg, err := h.registrations.FindByID(e.Request.Context(), result.Record.RegistrationID); err == nil {
			reply["holder"] = reg.Holder
			if event, err := h.registrations.FindEvent(e.Request.Context(), reg.EventID); err == nil {
				reply["event"] = event
			}
		}
	}

	return e.JSON(http.StatusOK, reply)
}

// GetStatus reads the current check-in record without attempting admission.
func (h *CheckInHandler) GetStatus(e *core.RequestEvent) error {
	registrationID := e.Request.PathValue("registrationId")
	if registrationID == "" {
		return apis.NewBadRequestError("Missing registration id", nil)
	}

	record, err := h.checkins.Status(e.Request.Context(), registrationID)
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "Failed to read check-in status", err)
	}
	return e.JSON(http.StatusOK, record)
}
