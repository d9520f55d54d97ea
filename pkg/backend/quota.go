package backend

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// OEM quota errors embed the replenishment time in the error message rather than a
// structured field. Observed formats:
//
//	"Out of call volume quota. Quota will be replenished in 01:20:30"
//	"Too many requests. Wait 300 seconds"
//	"Quota limit exceeded. Retry after 5 minutes"
var (
	replenishRE = regexp.MustCompile(`replenished in (\d{1,2}):(\d{2}):(\d{2})`)
	secondsRE   = regexp.MustCompile(`(?i)(?:wait|retry after)\s+(\d+)\s+seconds?`)
	minutesRE   = regexp.MustCompile(`(?i)(?:wait|retry after)\s+(\d+)\s+minutes?`)

	quotaMarkers = []string{
		"quota",
		"too many requests",
		"rate limit",
	}
)

// IsQuotaMessage reports whether an OEM error message describes a quota or
// rate-limit condition rather than a generic failure.
func IsQuotaMessage(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range quotaMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ParseQuotaHint extracts the replenishment delay embedded in an OEM quota message.
// Returns zero if the message carries no recognizable time information.
func ParseQuotaHint(message string) time.Duration {
	if m := replenishRE.FindStringSubmatch(message); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		s, _ := strconv.Atoi(m[3])
		return time.Duration(h)*time.Hour + time.Duration(min)*time.Minute + time.Duration(s)*time.Second
	}
	if m := secondsRE.FindStringSubmatch(message); m != nil {
		s, _ := strconv.Atoi(m[1])
		return time.Duration(s) * time.Second
	}
	if m := minutesRE.FindStringSubmatch(message); m != nil {
		min, _ := strconv.Atoi(m[1])
		return time.Duration(min) * time.Minute
	}
	return 0
}

// QuotaError builds a KindQuota error from an OEM message, extracting the
// replenishment hint when present.
func QuotaError(message string) *Error {
	return &Error{
		Kind:       KindQuota,
		Message:    message,
		RetryAfter: ParseQuotaHint(message),
	}
}
