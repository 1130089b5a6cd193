package session

import (
	"fmt"
	"strings"
)

// NormalizeChatID maps a raw recipient identifier to the canonical
// addressable form the engine expects. Identifiers already carrying a server
// suffix (e.g. "group123@g.us") pass through unchanged; bare phone numbers
// are reduced to digits and suffixed with "@c.us".
func NormalizeChatID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty recipient", ErrInvalidRecipient)
	}
	if strings.Contains(raw, "@") {
		return raw, nil
	}
	var digits strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')':
			// separators commonly pasted with phone numbers
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, raw)
		}
	}
	if digits.Len() == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, raw)
	}
	return digits.String() + "@c.us", nil
}
