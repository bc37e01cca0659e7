package disclosure

import (
	"errors"
	"fmt"

	"github.com/skip2/go-qrcode"
)

// QRCodeSize is the width and height of generated codes in pixels.
const QRCodeSize = 256

// AddressQRCode returns a PNG QR code encoding a deposit address.
func AddressQRCode(address string) ([]byte, error) {
	if address == "" {
		return nil, errors.New("disclosure: address is required")
	}
	qr, err := qrcode.New(address, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("disclosure: failed to create QR code: %w", err)
	}
	png, err := qr.PNG(QRCodeSize)
	if err != nil {
		return nil, fmt.Errorf("disclosure: failed to render QR code: %w", err)
	}
	return png, nil
}
