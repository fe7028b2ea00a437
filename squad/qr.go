package squad

import (
	"fmt"
	"net/url"

	"github.com/skip2/go-qrcode"
)

// squadURLScheme is the deep-link scheme encoded into squad invite QR codes.
const squadURLScheme = "explo"

// SquadInviteURL builds the deep link encoded into invite QR codes.
func SquadInviteURL(joinCode string) string {
	return fmt.Sprintf("%s://squad?code=%s", squadURLScheme, url.QueryEscape(joinCode))
}

// ParseSquadInviteURL extracts the join code from a scanned invite link.
func ParseSquadInviteURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if parsed.Scheme != squadURLScheme {
		return "", fmt.Errorf("unsupported scheme: %s", parsed.Scheme)
	}
	if parsed.Host != "squad" {
		return "", fmt.Errorf("unsupported host: %s", parsed.Host)
	}
	code := parsed.Query().Get("code")
	if code == "" {
		return "", fmt.Errorf("missing join code in URL")
	}
	return code, nil
}

// JoinCodePNG renders the current squad's invite QR code as a PNG of the
// given pixel size.
func (c *Coordinator) JoinCodePNG(size int) ([]byte, error) {
	squad := c.CurrentSquad()
	if squad == nil {
		return nil, ErrNotFound
	}
	return JoinCodePNG(squad.JoinCode, size)
}

// JoinCodePNG renders a squad invite QR code as a PNG of the given pixel
// size.
func JoinCodePNG(joinCode string, size int) ([]byte, error) {
	if joinCode == "" {
		return nil, fmt.Errorf("join code is empty")
	}
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(SquadInviteURL(joinCode), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
