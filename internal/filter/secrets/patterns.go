package secrets

import "regexp"

// Pattern defines a secret detection pattern. Verify, when set, must accept a
// match before it counts.
type Pattern struct {
	Name   string
	Regex  *regexp.Regexp
	Verify func(match string) bool
}

// DefaultPatterns returns the built-in patterns for credentials that must not
// leave the gateway inside an SMS body.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:  "Gateway API Key",
			Regex: regexp.MustCompile(`\bsms-[a-z0-9]+-[a-z0-9]{32}\b`),
		},
		{
			Name:  "AWS Access Key",
			Regex: regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
		},
		{
			Name:  "Private Key",
			Regex: regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
		},
		{
			Name:  "Connection String",
			Regex: regexp.MustCompile(`(?:postgres|postgresql|mysql|mongodb|redis|amqp)://[^\s:@/]+:[^\s@/]+@[^\s]+`),
		},
		{
			Name:  "JWT Token",
			Regex: regexp.MustCompile(`eyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`),
		},
		{
			Name:   "Payment Card Number",
			Regex:  regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`),
			Verify: luhnValid,
		},
	}
}

// luhnValid reports whether the digits in s pass the Luhn checksum.
func luhnValid(s string) bool {
	var sum, n int
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
		n++
	}
	return n >= 13 && sum%10 == 0
}
