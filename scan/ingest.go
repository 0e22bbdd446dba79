package scan

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"gatepass/internal/status"
)

// FromImage locates and decodes a QR code in a static image and returns the
// raw embedded text. The text is NOT interpreted here; dialect detection
// happens downstream.
func FromImage(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", status.ErrNoCodeFound
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", status.ErrNoCodeFound
	}

	result, err := qrcode.NewQRCodeReader().Decode(bmp, nil)
	if err != nil {
		return "", status.ErrNoCodeFound
	}

	text := strings.TrimSpace(result.GetText())
	if text == "" {
		return "", status.ErrNoCodeFound
	}
	return text, nil
}

// FromText accepts manually entered or camera-stream text.
func FromText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", status.ErrNoCodeFound
	}
	return text, nil
}
