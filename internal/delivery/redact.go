package delivery

import "strings"

// NormalizeEmail trims and lower-cases an address so it can be used as a
// tracking key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RedactEmail masks an address for logging, keeping the first character of
// the local part: "john@gmail.com" becomes "j***@gmail.com". Strings without
// an "@" are masked entirely.
func RedactEmail(email string) string {
	if email == "" {
		return ""
	}

	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return "***"
	}
	if local == "" {
		return "***@" + domain
	}
	return local[:1] + "***@" + domain
}
