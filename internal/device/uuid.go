package device

import "strings"

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID 0000xxxx-0000-1000-8000-00805f9b34fb
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID returns the comparison form of a UUID: lowercase hex without
// dashes, braces or 0x prefix. SIG-base UUIDs collapse to their 16-bit short
// form, so "180D" and "0000180d-0000-1000-8000-00805f9b34fb" compare equal.
// Returns "" when the input is not hex.
func NormalizeUUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, "{}")
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return ""
		}
	}

	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// EqualUUID compares two UUIDs after normalization. Invalid UUIDs never match.
func EqualUUID(a, b string) bool {
	na, nb := NormalizeUUID(a), NormalizeUUID(b)
	return na != "" && na == nb
}
