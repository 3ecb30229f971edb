package service

import (
	"strings"
	"unicode"

	"github.com/ttacon/libphonenumber"
)

// DefaultPhoneRegion is used to parse numbers written without a country code.
const DefaultPhoneRegion = "GB"

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// NormalizePhone returns the E.164 form of raw when it parses for region and
// its bare digits otherwise.
func NormalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if num, err := libphonenumber.Parse(raw, region); err == nil && libphonenumber.IsValidNumber(num) {
		return libphonenumber.Format(num, libphonenumber.E164)
	}

	return digits(raw)
}
