package recovery

import (
	"fmt"
	"time"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
)

// SelectStrategy picks the recovery strategy for a failure. The table is
// fixed per failure type; waits scale with the attempt number for the types
// that back off. Once attempt_number >= max_attempts the returned strategy
// always requires a human — no failure type retries unboundedly.
func SelectStrategy(fc domain.FailureContext) domain.RecoveryStrategy {
	attempt := fc.AttemptNumber
	if attempt < 1 {
		attempt = 1
	}

	var strategy domain.RecoveryStrategy
	switch fc.FailureType {
	case domain.FailureClickIntercepted:
		strategy = domain.RecoveryStrategy{
			Actions: []domain.RecoveryAction{domain.RecoverCloseOverlay, domain.RecoverRetry},
			Wait:    1500 * time.Millisecond,
			Message: "element blocked by overlay, attempting to close",
		}
	case domain.FailureElementNotFound:
		strategy = domain.RecoveryStrategy{
			Actions: []domain.RecoveryAction{domain.RecoverScrollTo, domain.RecoverRetryWithWait},
			Wait:    2 * time.Second,
			Message: "element not found, scrolling and waiting",
		}
	case domain.FailureTimeout:
		strategy = domain.RecoveryStrategy{
			Actions: []domain.RecoveryAction{domain.RecoverWaitForNetwork, domain.RecoverRetryWithWait},
			Wait:    time.Duration(attempt) * 3 * time.Second,
			Message: fmt.Sprintf("timeout occurred, waiting %ds before retry", attempt*3),
		}
	case domain.FailureNavigation:
		strategy = domain.RecoveryStrategy{
			Actions: []domain.RecoveryAction{domain.RecoverRefreshPage, domain.RecoverRetryWithWait},
			Wait:    2 * time.Second,
			Message: "navigation error, refreshing page",
		}
	case domain.FailureStaleElement:
		strategy = domain.RecoveryStrategy{
			Actions: []domain.RecoveryAction{domain.RecoverRefreshPage, domain.RecoverRetry},
			Wait:    2 * time.Second,
			Message: "stale element, refreshing page",
		}
	case domain.FailureNetwork:
		strategy = domain.RecoveryStrategy{
			Actions: []domain.RecoveryAction{domain.RecoverBackoff, domain.RecoverRetry},
			Wait:    time.Duration(attempt) * 5 * time.Second,
			Message: fmt.Sprintf("network error, backing off for %ds", attempt*5),
		}
	case domain.FailureRateLimited:
		strategy = domain.RecoveryStrategy{
			Actions: []domain.RecoveryAction{domain.RecoverBackoff},
			Wait:    time.Duration(attempt) * time.Minute,
			Message: fmt.Sprintf("rate limited, waiting %ds", attempt*60),
		}
	case domain.FailureSessionExpired:
		strategy = domain.RecoveryStrategy{
			Actions: []domain.RecoveryAction{domain.RecoverClearCookies, domain.RecoverRefreshPage, domain.RecoverRetry},
			Wait:    2 * time.Second,
			Message: "session expired, clearing cookies and retrying",
		}
	case domain.FailureCaptcha:
		strategy = domain.RecoveryStrategy{
			Actions:       []domain.RecoveryAction{domain.RecoverHuman},
			RequiresHuman: true,
			Message:       "CAPTCHA detected, human intervention required",
		}
	case domain.FailureTwoFactor:
		strategy = domain.RecoveryStrategy{
			Actions:       []domain.RecoveryAction{domain.RecoverHuman},
			RequiresHuman: true,
			Message:       "2FA required, waiting for human input",
		}
	case domain.FailureLoginRequired:
		strategy = domain.RecoveryStrategy{
			Actions:       []domain.RecoveryAction{domain.RecoverHuman},
			RequiresHuman: true,
			Message:       "login required, please authenticate",
		}
	case domain.FailurePageCrash:
		strategy = domain.RecoveryStrategy{
			Actions: []domain.RecoveryAction{domain.RecoverAbort},
			Message: "page crashed, aborting task",
		}
	default:
		strategy = domain.RecoveryStrategy{
			Actions: []domain.RecoveryAction{domain.RecoverRetryWithWait},
			Wait:    time.Duration(attempt) * 2 * time.Second,
			Message: "unknown error, generic retry",
		}
	}

	// Retries are bounded: once attempts are exhausted the only remaining
	// path is a human.
	if fc.AttemptNumber >= fc.MaxAttempts && !strategy.RequiresHuman {
		return domain.RecoveryStrategy{
			Actions:       []domain.RecoveryAction{domain.RecoverHuman},
			RequiresHuman: true,
			Message:       fmt.Sprintf("max retries (%d) exceeded, escalating to human", fc.MaxAttempts),
		}
	}
	return strategy
}
