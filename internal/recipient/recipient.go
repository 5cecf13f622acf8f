// Package recipient turns free-form recipient text into dialable addresses.
package recipient

import (
	"regexp"
	"strings"
)

// Domain is appended to bare phone numbers before dispatch.
const Domain = "@s.whatsapp.net"

const DefaultCountryCode = "62"

// Address is a digits-only phone number of 6 to 15 digits.
type Address string

var (
	separators = regexp.MustCompile(`[;\r\n]+`)
	valid      = regexp.MustCompile(`^\d{6,15}$`)
)

// Normalize splits raw on semicolons and line breaks and returns the valid,
// deduplicated addresses in first-occurrence order. Non-digits are stripped
// and a leading 0 is replaced by countryCode. Invalid tokens are dropped.
func Normalize(raw, countryCode string) []Address {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	var (
		out  []Address
		seen = map[Address]struct{}{}
	)
	for _, tok := range separators.Split(raw, -1) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		digits := onlyDigits(tok)
		if strings.HasPrefix(digits, "0") {
			digits = countryCode + digits[1:]
		}
		if !valid.MatchString(digits) {
			continue
		}
		a := Address(digits)
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

// Qualify returns the transport address for a, adding Domain when a has no
// domain part yet.
func Qualify(a Address) string {
	s := string(a)
	if strings.Contains(s, "@") {
		return s
	}
	return s + Domain
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
