// Package recovery classifies step failures and selects and executes
// recovery strategies against the browser session.
package recovery

import (
	"strings"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
)

// Indicator phrases checked against the page context. Error-text checks take
// precedence over these.
var (
	captchaPatterns = []string{
		"captcha", "recaptcha", "hcaptcha", "verify you're human", "robot", "security check",
	}
	rateLimitPatterns = []string{
		"rate limit", "too many requests", "slow down", "try again later",
		"temporarily blocked", "unusual activity",
	}
	twoFactorPatterns = []string{
		"two-factor", "2fa", "verification code", "authentication code",
		"sms code", "enter code", "we sent a code",
	}
)

// Classify maps an error (and optional page context text) to a FailureType.
// Deterministic: identical inputs always produce the identical type. Checks
// against the error text run before checks against the page context.
func Classify(err error, pageContext string) domain.FailureType {
	if err == nil {
		return domain.FailureUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline exceeded"):
		return domain.FailureTimeout
	case strings.Contains(msg, "click intercepted"):
		return domain.FailureClickIntercepted
	case strings.Contains(msg, "element not found") || strings.Contains(msg, "no element"):
		return domain.FailureElementNotFound
	case strings.Contains(msg, "session expired"):
		return domain.FailureSessionExpired
	case strings.Contains(msg, "navigation") || strings.Contains(msg, "net::"):
		return domain.FailureNavigation
	case strings.Contains(msg, "stale"):
		return domain.FailureStaleElement
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection"):
		return domain.FailureNetwork
	case strings.Contains(msg, "crash") || strings.Contains(msg, "target closed"):
		return domain.FailurePageCrash
	}

	if pageContext != "" {
		html := strings.ToLower(pageContext)
		switch {
		case containsAny(html, captchaPatterns):
			return domain.FailureCaptcha
		case containsAny(html, rateLimitPatterns):
			return domain.FailureRateLimited
		case containsAny(html, twoFactorPatterns):
			return domain.FailureTwoFactor
		case strings.Contains(html, "login") && strings.Contains(html, "sign in"):
			return domain.FailureLoginRequired
		}
	}

	return domain.FailureUnknown
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
