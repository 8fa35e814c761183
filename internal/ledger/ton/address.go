package ton

import (
	"strings"

	"github.com/xssnick/tonutils-go/address"
)

// ParseAddress accepts both user-friendly and raw ("0:<hex>") address forms.
func ParseAddress(s string) (*address.Address, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ":") {
		return address.ParseRawAddr(s)
	}
	return address.ParseAddr(s)
}

// NormalizeAddress returns the raw form used as storage key.
func NormalizeAddress(s string) (string, error) {
	a, err := ParseAddress(s)
	if err != nil {
		return "", err
	}
	return a.StringRaw(), nil
}

// IsAddress reports whether s parses as a TON address.
func IsAddress(s string) bool {
	_, err := ParseAddress(s)
	return err == nil
}

// FriendlyAddress renders a stored address in non-bounceable user-friendly form.
// Unparseable input is returned unchanged.
func FriendlyAddress(s string) string {
	a, err := ParseAddress(s)
	if err != nil {
		return s
	}
	a.SetBounce(false)
	return a.String()
}
