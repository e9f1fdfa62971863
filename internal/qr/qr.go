// Package qr renders proof request URLs as QR codes for wallet scanning.
package qr

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/skip2/go-qrcode"
)

// DefaultSize is the PNG edge length in pixels.
const DefaultSize = 256

// ErrEmptyContent is returned when there is nothing to encode.
var ErrEmptyContent = errors.New("qr: empty content")

// PNG encodes content as a PNG QR code of size x size pixels.
func PNG(content string, size int) ([]byte, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if size <= 0 {
		size = DefaultSize
	}
	return qrcode.Encode(content, qrcode.Medium, size)
}

// Base64PNG is PNG, base64 (std) encoded for embedding in JSON.
func Base64PNG(content string, size int) (string, error) {
	png, err := PNG(content, size)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
