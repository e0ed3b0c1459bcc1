package service

import (
	"encoding/json"
	"regexp"
	"strings"

	apperrors "ticketgate/internal/errors"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{4,128}$`)

// ScannedPayload is what a scanner read from a QR code or badge
type ScannedPayload struct {
	TicketID   string `json:"ticketId"`
	EventID    string `json:"eventId"`
	TicketCode string `json:"ticketCode"`
	Code       string `json:"code"`
}

// ParsePayload accepts either a JSON object or a bare ticket code
func ParsePayload(raw string) (*ScannedPayload, error) {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "{") {
		var p ScannedPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, apperrors.ErrMalformedInput
		}
		if p.TicketCode == "" {
			p.TicketCode = p.Code
		}
		p.Code = ""
		if !codePattern.MatchString(p.TicketCode) {
			return nil, apperrors.ErrMalformedInput
		}
		return &p, nil
	}

	if !codePattern.MatchString(raw) {
		return nil, apperrors.ErrMalformedInput
	}
	return &ScannedPayload{TicketCode: raw}, nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
