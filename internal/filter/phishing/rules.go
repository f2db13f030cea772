package phishing

import "regexp"

// Rule defines an SMS phishing heuristic.
type Rule struct {
	Name     string
	Regex    *regexp.Regexp
	Severity float64 // 0.0 to 1.0
	Category string  // "credential_bait", "link", "urgency", "payment"
}

// DefaultRules returns the built-in smishing rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "share_otp",
			Regex:    regexp.MustCompile(`(?i)(share|send|tell|give)\s+(us\s+|me\s+)?(your\s+|the\s+)?(otp|one[-\s]time\s+(pass)?code|verification\s+code|pin)`),
			Severity: 0.95,
			Category: "credential_bait",
		},
		{
			Name:     "verify_account_link",
			Regex:    regexp.MustCompile(`(?i)(verify|confirm|unlock|reactivate)\s+(your\s+)?(account|identity|card|wallet)\b.*https?://`),
			Severity: 0.9,
			Category: "credential_bait",
		},
		{
			Name:     "ip_address_link",
			Regex:    regexp.MustCompile(`(?i)https?://\d{1,3}(\.\d{1,3}){3}`),
			Severity: 0.85,
			Category: "link",
		},
		{
			Name:     "account_suspended",
			Regex:    regexp.MustCompile(`(?i)(account|card|service)\s+(has\s+been\s+|is\s+|will\s+be\s+)?(suspended|blocked|locked|closed|deactivated)`),
			Severity: 0.6,
			Category: "urgency",
		},
		{
			Name:     "gift_or_prize",
			Regex:    regexp.MustCompile(`(?i)(you('ve| have)\s+won|claim\s+your\s+(prize|reward|gift)|free\s+gift\s+card)`),
			Severity: 0.6,
			Category: "payment",
		},
		{
			Name:     "unpaid_fee",
			Regex:    regexp.MustCompile(`(?i)(unpaid|outstanding|pending)\s+(toll|fee|customs|delivery\s+fee|invoice)`),
			Severity: 0.5,
			Category: "payment",
		},
		{
			Name:     "shortened_link",
			Regex:    regexp.MustCompile(`(?i)\b(bit\.ly|tinyurl\.com|t\.co|goo\.gl|is\.gd|cutt\.ly|rb\.gy)/\S+`),
			Severity: 0.4,
			Category: "link",
		},
		{
			Name:     "act_now",
			Regex:    regexp.MustCompile(`(?i)(act\s+now|immediately|within\s+\d+\s+(hours?|minutes?)|final\s+notice)`),
			Severity: 0.3,
			Category: "urgency",
		},
	}
}
