// Package qrimage renders pairing codes as PNG data URLs for the dashboard.
package qrimage

import (
	"encoding/base64"
	"errors"

	"github.com/skip2/go-qrcode"
)

const (
	DefaultSize = 320
	dataPrefix  = "data:image/png;base64,"
)

// DataURL encodes payload as a QR code PNG of size x size pixels.
func DataURL(payload string, size int) (string, error) {
	if payload == "" {
		return "", errors.New("qrimage: empty payload")
	}
	if size <= 0 {
		size = DefaultSize
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return "", err
	}
	return dataPrefix + base64.StdEncoding.EncodeToString(png), nil
}
