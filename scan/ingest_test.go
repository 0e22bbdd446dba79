package scan

import (
	"testing"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatepass/internal/status"
)

func TestFromImage(t *testing.T) {
	png, err := qrcode.Encode("N:Asha Rao|T:Hack Night|RID:reg42", qrcode.Medium, 256)
	require.NoError(t, err)

	text, err := FromImage(png)
	require.NoError(t, err)
	assert.Equal(t, "N:Asha Rao|T:Hack Night|RID:reg42", text)
}

func TestFromImage_NoCode(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"not an image", []byte("hello world")},
		{"empty input", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromImage(tt.data)
			assert.ErrorIs(t, err, status.ErrNoCodeFound)
		})
	}
}

func TestFromText(t *testing.T) {
	text, err := FromText("  N:Asha Rao|RID:reg42  ")
	require.NoError(t, err)
	assert.Equal(t, "N:Asha Rao|RID:reg42", text)

	_, err = FromText("   ")
	assert.ErrorIs(t, err, status.ErrNoCodeFound)
}
