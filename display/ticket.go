package display

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	qrcode "github.com/skip2/go-qrcode"

	"gatepass/models"
)

const qrSize = 256

// RenderQR renders a wire token as a PNG QR image. Medium error correction
// keeps the code scannable on mid-range phone screens without inflating the
// module count.
func RenderQR(tokenText string) ([]byte, error) {
	png, err := qrcode.Encode(tokenText, qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("RenderQR: %w", err)
	}
	return png, nil
}

// Summary is the human-readable rendering of a parsed ticket. Every absent
// field renders as "Unknown" rather than being dropped, so a gatekeeper can
// tell "field not on the token" from a rendering bug.
func Summary(payload models.TicketPayload) []string {
	lines := []string{
		"Participant: " + orUnknown(payload.Holder.DisplayName()),
		"Roll Number: " + orUnknown(payload.Holder.RollNumber),
		"Department:  " + orUnknown(payload.Holder.Department),
		"Event:       " + orUnknown(payload.Event.DisplayTitle()),
		"Venue:       " + orUnknown(payload.Event.Location),
		"Starts:      " + orUnknownTime(payload.Event.StartTime),
	}
	if payload.RegistrationID != "" {
		lines = append(lines, "Registration: "+payload.RegistrationID)
	}
	if payload.IsFallback {
		lines = append(lines, "NOTICE: offline-issued ticket, verify at the desk")
	}
	return lines
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}

func orUnknownTime(t *time.Time) string {
	if t == nil {
		return "Unknown"
	}
	return t.Format("Mon, 02 Jan 2006 15:04 MST")
}

// ExportPDF produces a printable one-page ticket with the QR image and the
// summary block.
func ExportPDF(tokenText string, payload models.TicketPayload) ([]byte, error) {
	png, err := RenderQR(tokenText)
	if err != nil {
		return nil, err
	}

	pdf := fpdf.New("P", "mm", "A5", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, payload.Event.DisplayTitle(), "", 1, "C", false, 0, "")

	pdf.RegisterImageOptionsReader("ticket-qr",
		fpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(png))
	pdf.ImageOptions("ticket-qr", 49, 25, 50, 50, false,
		fpdf.ImageOptions{ImageType: "PNG"}, 0, "")

	pdf.SetY(82)
	pdf.SetFont("Helvetica", "", 11)
	for _, line := range Summary(payload) {
		pdf.CellFormat(0, 7, line, "", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("ExportPDF: %w", err)
	}
	return buf.Bytes(), nil
}
