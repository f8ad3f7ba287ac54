package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/browser"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
	"github.com/shubham-kr2002/AI-JOB-AGENT/pkg/telemetry"
)

// Overlay close-button selectors, tried in order. First visible match wins.
var closeButtonSelectors = []string{
	"button[aria-label*='close' i]",
	"button[aria-label*='dismiss' i]",
	".modal-close",
	".popup-close",
	"button.close",
	"[data-dismiss='modal']",
	".overlay-close",
	"button:has-text('×')",
	"button:has-text('Close')",
	"button:has-text('No thanks')",
	"button:has-text('Not now')",
	"button:has-text('Maybe later')",
	"button:has-text('Skip')",
}

var cookieConsentSelectors = []string{
	"button:has-text('Accept')",
	"button:has-text('Accept all')",
	"button:has-text('Allow')",
	"button:has-text('Got it')",
	"button:has-text('I agree')",
	"[id*='cookie'] button",
	"[class*='cookie'] button",
	"[id*='consent'] button",
	"[class*='consent'] button",
}

var backdropSelectors = []string{".modal-backdrop", ".overlay", "[class*='backdrop']"}

// Agent executes recovery strategies against the browser session.
type Agent struct {
	steps  browser.StepExecutor
	logger *slog.Logger
}

// NewAgent creates a recovery Agent bound to one session.
func NewAgent(steps browser.StepExecutor, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{steps: steps, logger: logger}
}

// ExecuteRecovery runs the strategy's actions in order until one succeeds.
// Individual action failures are swallowed and the next action is tried; if
// every action fails the result reports failure with ShouldRetry=false.
// ExecuteRecovery never returns an error.
func (a *Agent) ExecuteRecovery(ctx context.Context, fc domain.FailureContext, strategy domain.RecoveryStrategy) domain.RecoveryResult {
	telemetry.RecoveryAttempts.WithLabelValues(string(fc.FailureType)).Inc()

	for _, action := range strategy.Actions {
		result := a.executeAction(ctx, action, fc, strategy)
		if result.Success || !result.ShouldRetry {
			// Success, or a terminal action (human/abort) which must not be
			// overridden by later entries.
			return result
		}
	}

	last := domain.RecoverAbort
	if len(strategy.Actions) > 0 {
		last = strategy.Actions[len(strategy.Actions)-1]
	}
	return domain.RecoveryResult{
		Success:     false,
		ActionTaken: last,
		Message:     "all recovery actions failed",
		ShouldRetry: false,
	}
}

func (a *Agent) executeAction(ctx context.Context, action domain.RecoveryAction, fc domain.FailureContext, strategy domain.RecoveryStrategy) domain.RecoveryResult {
	switch action {
	case domain.RecoverRetry:
		return domain.RecoveryResult{Success: true, ActionTaken: action, Message: "ready to retry", ShouldRetry: true}

	case domain.RecoverRetryWithWait:
		a.sleep(ctx, strategy.Wait)
		return domain.RecoveryResult{Success: true, ActionTaken: action, Message: "waited, ready to retry", ShouldRetry: true}

	case domain.RecoverBackoff:
		a.sleep(ctx, strategy.Wait)
		return domain.RecoveryResult{Success: true, ActionTaken: action, Message: "backed off", ShouldRetry: true}

	case domain.RecoverCloseOverlay:
		return a.closeOverlay(ctx)

	case domain.RecoverScrollTo:
		if fc.Selector != "" {
			a.tryStep(ctx, map[string]any{"action": "scroll_to", "selector": fc.Selector})
		}
		return domain.RecoveryResult{Success: true, ActionTaken: action, Message: "scrolled to element", ShouldRetry: true}

	case domain.RecoverWaitForNetwork:
		a.tryStep(ctx, map[string]any{"action": "wait_for_load", "state": "networkidle", "timeout_ms": 10000})
		return domain.RecoveryResult{Success: true, ActionTaken: action, Message: "waited for network idle", ShouldRetry: true}

	case domain.RecoverRefreshPage:
		if !a.tryStep(ctx, map[string]any{"action": "reload", "wait_until": "domcontentloaded"}) {
			return domain.RecoveryResult{Success: false, ActionTaken: action, Message: "page refresh failed", ShouldRetry: true}
		}
		a.sleep(ctx, 2*time.Second)
		return domain.RecoveryResult{Success: true, ActionTaken: action, Message: "page refreshed", ShouldRetry: true}

	case domain.RecoverClearCookies:
		if !a.tryStep(ctx, map[string]any{"action": "clear_cookies"}) {
			return domain.RecoveryResult{Success: false, ActionTaken: action, Message: "clearing cookies failed", ShouldRetry: true}
		}
		return domain.RecoveryResult{Success: true, ActionTaken: action, Message: "cookies cleared", ShouldRetry: true}

	case domain.RecoverHuman:
		return domain.RecoveryResult{Success: false, ActionTaken: action, Message: strategy.Message, ShouldRetry: false}

	case domain.RecoverAbort:
		return domain.RecoveryResult{Success: false, ActionTaken: action, Message: "task aborted", ShouldRetry: false}

	default:
		return domain.RecoveryResult{Success: false, ActionTaken: action, Message: "unknown recovery action", ShouldRetry: true}
	}
}

// closeOverlay walks the selector ladders: close buttons, then cookie
// consent, then an Escape press, then a backdrop click. First success wins.
func (a *Agent) closeOverlay(ctx context.Context) domain.RecoveryResult {
	for _, selector := range closeButtonSelectors {
		if a.tryStep(ctx, map[string]any{"action": "click", "selector": selector, "only_visible": true}) {
			return domain.RecoveryResult{
				Success: true, ActionTaken: domain.RecoverCloseOverlay,
				Message: "closed overlay with selector " + selector, ShouldRetry: true,
			}
		}
	}
	for _, selector := range cookieConsentSelectors {
		if a.tryStep(ctx, map[string]any{"action": "click", "selector": selector, "only_visible": true}) {
			return domain.RecoveryResult{
				Success: true, ActionTaken: domain.RecoverCloseOverlay,
				Message: "accepted cookies with selector " + selector, ShouldRetry: true,
			}
		}
	}
	if a.tryStep(ctx, map[string]any{"action": "press_key", "key": "Escape"}) {
		return domain.RecoveryResult{
			Success: true, ActionTaken: domain.RecoverCloseOverlay,
			Message: "pressed Escape to close overlay", ShouldRetry: true,
		}
	}
	for _, selector := range backdropSelectors {
		if a.tryStep(ctx, map[string]any{"action": "click", "selector": selector, "position": "edge"}) {
			return domain.RecoveryResult{
				Success: true, ActionTaken: domain.RecoverCloseOverlay,
				Message: "clicked backdrop to close", ShouldRetry: true,
			}
		}
	}
	return domain.RecoveryResult{
		Success: false, ActionTaken: domain.RecoverCloseOverlay,
		Message: "could not close overlay", ShouldRetry: true,
	}
}

// tryStep runs one step and reports only whether it succeeded. Transport and
// automation failures are both treated as "did not apply".
func (a *Agent) tryStep(ctx context.Context, step map[string]any) bool {
	res, err := a.steps.ExecuteStep(ctx, step)
	if err != nil {
		a.logger.Debug("recovery step errored",
			slog.Any("step", step["action"]),
			slog.String("error", err.Error()),
		)
		return false
	}
	return res.Success
}

func (a *Agent) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
