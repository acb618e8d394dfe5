package router

import (
	"errors"
	"strings"
)

var ErrInvalidNumber = errors.New("invalid phone number")

// ─── Phone Number Normalization ─────────────────────────────
// Strips tel: prefix, formatting characters and extensions so the number can
// be handed to the provider as typed digits with an optional leading +

// Normalize returns the dialable form of raw, e.g. "(555) 123-4567" -> "5551234567"
// and "+1 555.123.4567" -> "+15551234567". Letters or fewer than 3 digits are rejected.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "tel:")
	// Drop extensions: "555-1234 x12", "555-1234;ext=12"
	for _, sep := range []string{";", " x", " ext", "#"} {
		if idx := strings.Index(strings.ToLower(s), sep); idx > 0 {
			s = s[:idx]
		}
	}
	s = strings.TrimSpace(s)

	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')' || r == '/':
		default:
			return "", ErrInvalidNumber
		}
	}
	out := b.String()
	if digits(out) < 3 {
		return "", ErrInvalidNumber
	}
	return out, nil
}

var countryCodes = []string{
	"972", "971", "970", "966", "965", "964", "963", "962", "961",
	"20", "90", "44", "1", "49", "33", "86",
}

// matchesNational reports whether national is intl (E.164 digits without +)
// as dialed from inside its country, with or without the trunk 0.
func matchesNational(intl, national string) bool {
	national = strings.TrimPrefix(national, "0")
	for _, cc := range countryCodes {
		if !strings.HasPrefix(intl, cc) || len(intl) <= len(cc)+3 {
			continue
		}
		if strings.TrimPrefix(intl[len(cc):], "0") == national {
			return true
		}
	}
	return false
}

// Equivalent reports whether a and b dial the same line. Two international
// numbers must match exactly; a national number matches an international one
// only under that number's own country code.
func Equivalent(a, b string) bool {
	na, errA := Normalize(a)
	nb, errB := Normalize(b)
	if errA != nil || errB != nil {
		return false
	}
	intlA, intlB := strings.HasPrefix(na, "+"), strings.HasPrefix(nb, "+")
	da, db := strings.TrimPrefix(na, "+"), strings.TrimPrefix(nb, "+")
	if da == db {
		return true
	}
	switch {
	case intlA && intlB:
		return false
	case intlA:
		return matchesNational(da, db)
	case intlB:
		return matchesNational(db, da)
	}
	return strings.TrimPrefix(da, "0") == strings.TrimPrefix(db, "0") ||
		matchesNational(da, db) || matchesNational(db, da)
}

func digits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
