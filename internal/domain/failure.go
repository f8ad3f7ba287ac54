package domain

import "time"

// FailureType is a closed classification of runtime step failures.
type FailureType string

const (
	FailureElementNotFound  FailureType = "element_not_found"
	FailureClickIntercepted FailureType = "click_intercepted"
	FailureTimeout          FailureType = "timeout"
	FailureNavigation       FailureType = "navigation_error"
	FailureStaleElement     FailureType = "stale_element"
	FailureNetwork          FailureType = "network_error"
	FailurePageCrash        FailureType = "page_crash"
	FailureCaptcha          FailureType = "captcha_detected"
	FailureRateLimited      FailureType = "rate_limited"
	FailureTwoFactor        FailureType = "two_factor_required"
	FailureLoginRequired    FailureType = "login_required"
	FailureSessionExpired   FailureType = "session_expired"
	FailureUnknown          FailureType = "unknown"
)

// FailureContext captures one failure occurrence. Created fresh per failure,
// never reused across attempts.
type FailureContext struct {
	FailureType   FailureType `json:"failure_type"`
	ErrorMessage  string      `json:"error_message"`
	Selector      string      `json:"selector,omitempty"`
	URL           string      `json:"url,omitempty"`
	StepName      string      `json:"step_name,omitempty"`
	AttemptNumber int         `json:"attempt_number"`
	MaxAttempts   int         `json:"max_attempts"`
	Timestamp     time.Time   `json:"timestamp"`
}

// RecoveryAction is one step of a recovery strategy.
type RecoveryAction string

const (
	RecoverRetry          RecoveryAction = "retry"
	RecoverRetryWithWait  RecoveryAction = "retry_with_wait"
	RecoverCloseOverlay   RecoveryAction = "close_overlay"
	RecoverScrollTo       RecoveryAction = "scroll_to_element"
	RecoverWaitForNetwork RecoveryAction = "wait_for_network"
	RecoverRefreshPage    RecoveryAction = "refresh_page"
	RecoverClearCookies   RecoveryAction = "clear_cookies"
	RecoverBackoff        RecoveryAction = "exponential_backoff"
	RecoverHuman          RecoveryAction = "human_intervention"
	RecoverAbort          RecoveryAction = "abort_task"
)

// RecoveryStrategy is an ordered action list selected for a failure. It is
// computed from a FailureContext, never stored.
type RecoveryStrategy struct {
	Actions             []RecoveryAction `json:"actions"`
	Wait                time.Duration    `json:"wait"`
	AlternativeSelector string           `json:"alternative_selector,omitempty"`
	Message             string           `json:"message"`
	RequiresHuman       bool             `json:"requires_human"`
}

// RecoveryResult reports the outcome of executing a recovery strategy.
type RecoveryResult struct {
	Success     bool           `json:"success"`
	ActionTaken RecoveryAction `json:"action_taken"`
	Message     string         `json:"message"`
	ShouldRetry bool           `json:"should_retry"`
}
