package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"gatepass/services"
)

type RegistrationHandler struct {
	app           *pocketbase.PocketBase
	registrations *services.RegistrationService
}

func NewRegistrationHandler(app *pocketbase.PocketBase, registrations *services.RegistrationService) *RegistrationHandler {
	return &RegistrationHandler{
		app:           app,
		registrations: registrations,
	}
}

// GetPhoto serves the authoritative profile photo URL for a registration.
// Scanners call this best-effort after a local parse.
func (h *RegistrationHandler) GetPhoto(e *core.RequestEvent) error {
	registrationID := e.Request.PathValue("registrationId")

	photoURL, err := h.registrations.PhotoURL(e.Request.Context(), registrationID)
	if err != nil {
		return apis.NewNotFoundError("Registration not found", err)
	}

	return e.JSON(http.StatusOK, map[string]string{
		"photoUrl": photoURL,
	})
}
