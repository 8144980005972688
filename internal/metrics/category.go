package metrics

import "strings"

type ErrorCategory string

const (
	CategoryTimeout     ErrorCategory = "timeout"
	CategoryRateLimit   ErrorCategory = "rate_limit"
	CategoryAuth        ErrorCategory = "auth"
	CategoryServerError ErrorCategory = "server_error"
	CategoryNetwork     ErrorCategory = "network"
	CategoryUnknown     ErrorCategory = "unknown"
)

// Categories lists every error category in classification priority order.
var Categories = []ErrorCategory{
	CategoryTimeout,
	CategoryRateLimit,
	CategoryAuth,
	CategoryServerError,
	CategoryNetwork,
	CategoryUnknown,
}

var categoryRules = []struct {
	category ErrorCategory
	needles  []string
}{
	{CategoryTimeout, []string{"abort", "timeout"}},
	{CategoryRateLimit, []string{"rate", "429", "too many"}},
	{CategoryAuth, []string{"auth", "401", "403", "api key"}},
	{CategoryServerError, []string{"500", "502", "503", "504"}},
	{CategoryNetwork, []string{"network", "fetch", "econnrefused"}},
}

// CategorizeError classifies an error by its message. A nil error is unknown.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}
	return CategorizeMessage(err.Error())
}

// CategorizeMessage matches the message case-insensitively against the category rules in
// priority order; the first rule with a matching substring wins.
func CategorizeMessage(message string) ErrorCategory {
	lower := strings.ToLower(message)

	for _, r := range categoryRules {
		for _, needle := range r.needles {
			if strings.Contains(lower, needle) {
				return r.category
			}
		}
	}

	return CategoryUnknown
}
