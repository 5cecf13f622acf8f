package qrimage

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataURL(t *testing.T) {
	u, err := DataURL("2@abc,def,ghi", 0)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(u, dataPrefix))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(u, dataPrefix))
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, img.Bounds().Dx())
}

func TestDataURLEmpty(t *testing.T) {
	_, err := DataURL("", 100)
	assert.Error(t, err)
}
