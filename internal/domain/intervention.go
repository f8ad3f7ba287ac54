package domain

import "time"

// InterventionType names the human input being requested.
type InterventionType string

const (
	InterventionTwoFactor    InterventionType = "two_factor_auth"
	InterventionCaptcha      InterventionType = "captcha"
	InterventionLogin        InterventionType = "login_required"
	InterventionManualReview InterventionType = "manual_review"
	InterventionConfirmation InterventionType = "field_confirmation"
	InterventionDecision     InterventionType = "error_decision"
	InterventionQuestion     InterventionType = "custom_question"
)

// InterventionStatus is the lifecycle state of a request.
// pending → acknowledged/in_progress → completed | cancelled | timeout.
type InterventionStatus string

const (
	InterventionPending      InterventionStatus = "pending"
	InterventionAcknowledged InterventionStatus = "acknowledged"
	InterventionInProgress   InterventionStatus = "in_progress"
	InterventionCompleted    InterventionStatus = "completed"
	InterventionTimeout      InterventionStatus = "timeout"
	InterventionCancelled    InterventionStatus = "cancelled"
)

// IsTerminal reports whether the status accepts no further transitions.
func (s InterventionStatus) IsTerminal() bool {
	return s == InterventionCompleted || s == InterventionTimeout || s == InterventionCancelled
}

// InterventionPriority orders requests on a dashboard.
type InterventionPriority string

const (
	PriorityCritical InterventionPriority = "critical"
	PriorityHigh     InterventionPriority = "high"
	PriorityNormal   InterventionPriority = "normal"
	PriorityLow      InterventionPriority = "low"
)

// InputField describes one value the human is asked to supply.
type InputField struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
}

// InterventionRequest suspends automated execution pending a human response.
type InterventionRequest struct {
	ID             string               `json:"id"`
	TaskID         string               `json:"task_id"`
	Type           InterventionType     `json:"intervention_type"`
	Title          string               `json:"title"`
	Message        string               `json:"message"`
	Priority       InterventionPriority `json:"priority"`
	Status         InterventionStatus   `json:"status"`
	Context        map[string]any       `json:"context,omitempty"`
	Options        []string             `json:"options,omitempty"`
	InputFields    []InputField         `json:"input_fields,omitempty"`
	Timeout        time.Duration        `json:"timeout_seconds"`
	CreatedAt      time.Time            `json:"created_at"`
	AcknowledgedAt *time.Time           `json:"acknowledged_at,omitempty"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty"`
	Response       map[string]any       `json:"response,omitempty"`
}

// Deadline is the wall-clock instant after which the request is expired.
func (r *InterventionRequest) Deadline() time.Time {
	return r.CreatedAt.Add(r.Timeout)
}

// Expired reports whether a non-terminal request is past its deadline.
func (r *InterventionRequest) Expired(now time.Time) bool {
	if r.Status.IsTerminal() {
		return false
	}
	return now.After(r.Deadline())
}

// DefaultInputFields returns the input fields conventionally requested for an
// intervention type when the caller supplies none.
func DefaultInputFields(t InterventionType) []InputField {
	switch t {
	case InterventionTwoFactor:
		return []InputField{{Name: "code", Type: "text", Label: "Verification Code", Required: true}}
	case InterventionCaptcha:
		return []InputField{{Name: "solved", Type: "boolean", Label: "I solved the CAPTCHA", Required: true}}
	case InterventionLogin:
		return []InputField{{Name: "completed", Type: "boolean", Label: "I completed login", Required: true}}
	default:
		return nil
	}
}
