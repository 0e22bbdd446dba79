package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"gatepass/internal/status"
	"gatepass/scan"
	"gatepass/token"
)

// maxImageBytes bounds uploaded scan images (phone camera frames).
const maxImageBytes = 8 << 20

type ScanHandler struct {
	app *pocketbase.PocketBase
}

func NewScanHandler(app *pocketbase.PocketBase) *ScanHandler {
	return &ScanHandler{app: app}
}

// DecodeImage extracts the QR content from an uploaded image and parses it
// into a ticket payload. Used by thin clients that cannot decode QR locally.
func (h *ScanHandler) DecodeImage(e *core.RequestEvent) error {
	file, _, err := e.Request.FormFile("image")
	if err != nil {
		return apis.NewBadRequestError("Missing image upload", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes))
	if err != nil {
		return apis.NewBadRequestError("Failed to read image", err)
	}

	raw, err := scan.FromImage(data)
	if err != nil {
		if errors.Is(err, status.ErrNoCodeFound) {
			return apis.NewNotFoundError("No QR code found in image", nil)
		}
		return apis.NewBadRequestError("Failed to decode image", err)
	}

	parsed, err := token.Parse(raw)
	if err != nil {
		// The QR decoded but its content is not a ticket. Hand the raw text
		// back so the client can still show it to the operator.
		return e.JSON(http.StatusOK, map[string]any{
			"recognized": false,
			"raw":        raw,
		})
	}

	return e.JSON(http.StatusOK, map[string]any{
		"recognized": true,
		"raw":        parsed.Raw,
		"dialect":    parsed.Dialect,
		"payload":    parsed.Payload,
	})
}
