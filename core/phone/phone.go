// Package phone canonicalizes locally written phone numbers into the international form
// used as a messaging address.
package phone

import "strings"

// CountryCode is assumed for numbers written without an international prefix.
const CountryCode = "62"

// Normalize keeps digits and a leading plus sign, then returns the number with its country code and
// without the plus sign. It never fails; plausibility is checked by form validation upstream.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if (r >= '0' && r <= '9') || (r == '+' && b.Len() == 0) {
			b.WriteRune(r)
		}
	}
	num := b.String()

	switch {
	case strings.HasPrefix(num, "+"):
		return num[1:]
	case strings.HasPrefix(num, "0"):
		return CountryCode + num[1:]
	case strings.HasPrefix(num, CountryCode):
		return num
	default:
		return CountryCode + num
	}
}
