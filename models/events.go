package models

import (
	"time"
)

// EventType identifies an event emitted during a pipeline run
type EventType string

const (
	// Pipeline lifecycle events
	EventPipelineStarted   EventType = "pipeline.started"
	EventPipelineCompleted EventType = "pipeline.completed"
	EventPipelineError     EventType = "pipeline.error"

	// Stage events
	EventStageStarted   EventType = "stage.started"
	EventStageCompleted EventType = "stage.completed"
	EventStageSkipped   EventType = "stage.skipped"
	EventStageError     EventType = "stage.error"

	// Branch events (fan-out children)
	EventBranchStarted   EventType = "branch.started"
	EventBranchCompleted EventType = "branch.completed"
	EventBranchFailed    EventType = "branch.failed"

	// Command events
	EventCommandSubmitted EventType = "command.submitted"
	EventCommandCompleted EventType = "command.completed"
)

// Event is a generic pipeline event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// EventListener receives events from the pipeline
type EventListener interface {
	OnEvent(event Event)
}
