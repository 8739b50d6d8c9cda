package utils

import (
	"regexp"
	"strings"
)

var phoneNumberPattern = regexp.MustCompile(`^[\d+\-() ]+$`)

// IsPhoneNumber reports whether s looks like a dialable number rather than a
// client identity.
func IsPhoneNumber(s string) bool {
	return phoneNumberPattern.MatchString(s)
}

// SanitizePhoneNumber strips a leading "+".
func SanitizePhoneNumber(n string) string {
	return strings.TrimPrefix(strings.TrimSpace(n), "+")
}

// AddPlusInNumber ensures a leading "+". Empty input stays empty.
func AddPlusInNumber(n string) string {
	n = strings.TrimSpace(n)
	if n == "" || strings.HasPrefix(n, "+") {
		return n
	}
	return "+" + n
}

// ExtractNumberFromClient removes the "client:" prefix used for browser legs.
func ExtractNumberFromClient(n string) string {
	return strings.TrimPrefix(n, "client:")
}

// PhoneVariants returns the distinct search forms of n: as given, without
// "+", and without a leading country code of one to three digits when the
// remainder still looks like a national number.
func PhoneVariants(n string, countryCodes ...string) []string {
	n = strings.TrimSpace(ExtractNumberFromClient(n))
	if n == "" {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	add(n)
	bare := SanitizePhoneNumber(n)
	add(bare)
	if len(countryCodes) == 0 {
		countryCodes = []string{"1", "91", "44"}
	}
	for _, cc := range countryCodes {
		if strings.HasPrefix(bare, cc) && len(bare)-len(cc) >= 7 {
			add(strings.TrimPrefix(bare, cc))
			break
		}
	}
	return out
}
