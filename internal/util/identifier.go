package util

import "strings"

// NormalizeIdentifier strips separators from a government ID number so
// hashing is insensitive to formatting.
func NormalizeIdentifier(identifier string) string {
	s := strings.TrimSpace(identifier)
	for _, sep := range []string{" ", "-", ".", "/"} {
		s = strings.ReplaceAll(s, sep, "")
	}
	return strings.ToUpper(s)
}

// NormalizeEmail lower-cases and trims an address for hashing and comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MaskEmail keeps the first character and the domain: "d*****@example.com".
// Addresses without an @ are masked entirely.
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return strings.Repeat("*", len(email))
	}
	local := email[:at]
	masked := local[:1] + strings.Repeat("*", len(local)-1)
	return masked + email[at:]
}
