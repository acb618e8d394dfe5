package utils

import "strings"

// MaskLastName keeps the first letter and stars out the rest
func MaskLastName(lastName string) string {
	r := []rune(lastName)
	if len(r) == 0 {
		return ""
	}
	return string(r[0]) + strings.Repeat("*", len(r)-1)
}

// MaskPhoneNumber hides everything except the last four characters.
// Numbers shorter than four characters are returned as-is.
func MaskPhoneNumber(phone string) string {
	r := []rune(phone)
	if len(r) < 4 {
		return phone
	}
	return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
}
