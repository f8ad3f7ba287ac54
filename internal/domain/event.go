package domain

import "time"

// EventType tags a live-stream envelope.
type EventType string

const (
	EventTaskStarted          EventType = "task_started"
	EventTaskProgress         EventType = "task_progress"
	EventStepStarted          EventType = "task_step_started"
	EventStepCompleted        EventType = "task_step_completed"
	EventStepFailed           EventType = "task_step_failed"
	EventTaskCompleted        EventType = "task_completed"
	EventTaskFailed           EventType = "task_failed"
	EventTaskCancelled        EventType = "task_cancelled"
	EventInterventionRequired EventType = "intervention_required"
	EventInterventionResponse EventType = "intervention_response"
	EventSubscribed           EventType = "subscribed"
	EventPong                 EventType = "pong"
	EventError                EventType = "error"
)

// Event is the JSON envelope delivered to live observers and published on the
// bus. The broadcaster stamps TaskID, Timestamp and Origin; Origin identifies
// the emitting process so a bus listener can skip events it already delivered
// locally.
type Event struct {
	Type      EventType      `json:"type"`
	TaskID    string         `json:"task_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Origin    string         `json:"origin,omitempty"`
	Progress  float64        `json:"progress,omitempty"`
	Message   string         `json:"message,omitempty"`
	StepID    string         `json:"step_id,omitempty"`
	Error     string         `json:"error,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}
