// Package qrpayload encodes attendance sessions into the compact JSON
// payload carried inside the QR image, and decodes scans back without
// touching the database. Decoding is a pure parse so a stale QR can be
// rejected on the client before any submission is attempted; the server
// re-checks expiry authoritatively because the embedded instant is
// client-supplied.
package qrpayload

import (
	"encoding/json"
	"errors"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

// ErrMalformedPayload is returned when scanned data cannot be parsed
// into a session payload.
var ErrMalformedPayload = errors.New("qrpayload: malformed payload")

// Payload is the machine-portable session snapshot embedded in the QR.
// Field names match what the mobile clients already scan.
type Payload struct {
	SessionToken string    `json:"session_token"`
	Subject      string    `json:"subject"`
	ClassName    string    `json:"class"`
	Section      string    `json:"section,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Encode serializes the payload as compact JSON.
func Encode(p Payload) ([]byte, error) {
	if p.SessionToken == "" {
		return nil, errors.New("qrpayload: session token required")
	}
	return json.Marshal(p)
}

// Decode parses scanned QR data. It never consults persistent state; a
// payload without a token or expiry is malformed.
func Decode(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, ErrMalformedPayload
	}
	if p.SessionToken == "" || p.ExpiresAt.IsZero() {
		return Payload{}, ErrMalformedPayload
	}
	return p, nil
}

// Expired reports whether the embedded expiry has passed. Advisory only:
// the registry owns the authoritative check.
func (p Payload) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// PNG renders the payload as a QR code image of size x size pixels.
func PNG(p Payload, size int) ([]byte, error) {
	data, err := Encode(p)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(string(data), qrcode.Low, size)
}
