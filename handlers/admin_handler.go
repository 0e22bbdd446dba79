package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"gatepass/security"
	"gatepass/services"
)

type AdminHandler struct {
	app      *pocketbase.PocketBase
	devices  *security.DeviceAuthenticator
	checkins *services.CheckInService
}

func NewAdminHandler(app *pocketbase.PocketBase, devices *security.DeviceAuthenticator, checkins *services.CheckInService) *AdminHandler {
	return &AdminHandler{
		app:      app,
		devices:  devices,
		checkins: checkins,
	}
}

// ProvisionDevice registers a scanner device and returns its one-time key.
func (h *AdminHandler) ProvisionDevice(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Superuser required", nil)
	}

	var req struct {
		DeviceID string `json:"device_id"`
	}
	if err := e.BindBody(&req); err != nil || req.DeviceID == "" {
		return apis.NewBadRequestError("Invalid request", err)
	}

	key, err := h.devices.Provision(e.Request.Context(), req.DeviceID)
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "Failed to provision device", err)
	}

	return e.JSON(http.StatusOK, map[string]string{
		"device_id":  req.DeviceID,
		"device_key": key,
	})
}

// RevokeDevice invalidates a scanner device's key.
func (h *AdminHandler) RevokeDevice(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Superuser required", nil)
	}

	var req struct {
		DeviceID string `json:"device_id"`
	}
	if err := e.BindBody(&req); err != nil || req.DeviceID == "" {
		return apis.NewBadRequestError("Invalid request", err)
	}

	if err := h.devices.Revoke(e.Request.Context(), req.DeviceID); err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "Failed to revoke device", err)
	}

	return e.JSON(http.StatusOK, map[string]string{
		"device_id": req.DeviceID,
		"status":    "revoked",
	})
}

// GetAdmissionCount reports live admissions for one event's gate dashboard.
func (h *AdminHandler) GetAdmissionCount(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Superuser required", nil)
	}

	eventID := e.Request.PathValue("eventId")
	count, err := h.checkins.AdmissionCount(e.Request.Context(), eventID)
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "Failed to count admissions", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"event_id": eventID,
		"admitted": count,
	})
}
