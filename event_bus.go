package biopipe

import (
	"sync"
	"time"

	"github.com/simon020286/biopipe/models"
)

// eventBus manages event distribution to registered listeners (private)
type eventBus struct {
	listeners []models.EventListener
	mutex     sync.RWMutex
	pendingWg sync.WaitGroup // Tracks events being processed
}

// newEventBus creates a new eventBus instance (private)
func newEventBus() *eventBus {
	return &eventBus{
		listeners: make([]models.EventListener, 0),
	}
}

// addListener registers a new listener
func (eb *eventBus) addListener(listener models.EventListener) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	eb.listeners = append(eb.listeners, listener)
}

// Emit sends an event to all registered listeners
func (eb *eventBus) Emit(eventType models.EventType, data map[string]interface{}) {
	eb.mutex.RLock()
	listeners := make([]models.EventListener, len(eb.listeners))
	copy(listeners, eb.listeners)
	eb.mutex.RUnlock()

	event := models.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	// Notify all listeners asynchronously to avoid blocking execution
	for _, listener := range listeners {
		eb.pendingWg.Add(1)
		go func(l models.EventListener) {
			defer eb.pendingWg.Done()
			l.OnEvent(event)
		}(listener)
	}
}

// Wait waits for all pending events to be processed
func (eb *eventBus) Wait() {
	eb.pendingWg.Wait()
}

// EmitPipelineStarted emits a pipeline start event
func (eb *eventBus) EmitPipelineStarted(name string) {
	eb.Emit(models.EventPipelineStarted, map[string]interface{}{
		"pipeline": name,
	})
}

// EmitPipelineCompleted emits a pipeline completion event
func (eb *eventBus) EmitPipelineCompleted(name string, duration time.Duration) {
	eb.Emit(models.EventPipelineCompleted, map[string]interface{}{
		"pipeline": name,
		"duration": duration,
	})
}

// EmitPipelineError emits a pipeline error event
func (eb *eventBus) EmitPipelineError(name string, err error) {
	eb.Emit(models.EventPipelineError, map[string]interface{}{
		"pipeline": name,
		"error":    err.Error(),
	})
}

// EmitStageStarted emits a stage start event
func (eb *eventBus) EmitStageStarted(stage, branch string) {
	eb.Emit(models.EventStageStarted, map[string]interface{}{
		"stage":  stage,
		"branch": branch,
	})
}

// EmitStageCompleted emits a stage completion event
func (eb *eventBus) EmitStageCompleted(stage, branch string, duration time.Duration) {
	eb.Emit(models.EventStageCompleted, map[string]interface{}{
		"stage":    stage,
		"branch":   branch,
		"duration": duration,
	})
}

// EmitStageSkipped emits an event for a stage whose outputs are current
func (eb *eventBus) EmitStageSkipped(stage string, outputs []string) {
	eb.Emit(models.EventStageSkipped, map[string]interface{}{
		"stage":   stage,
		"outputs": outputs,
	})
}

// EmitStageError emits a stage error event
func (eb *eventBus) EmitStageError(stage, branch string, err error) {
	eb.Emit(models.EventStageError, map[string]interface{}{
		"stage":  stage,
		"branch": branch,
		"error":  err.Error(),
	})
}

// EmitBranchStarted emits a branch start event
func (eb *eventBus) EmitBranchStarted(branch string) {
	eb.Emit(models.EventBranchStarted, map[string]interface{}{
		"branch": branch,
	})
}

// EmitBranchCompleted emits a branch completion event
func (eb *eventBus) EmitBranchCompleted(branch string) {
	eb.Emit(models.EventBranchCompleted, map[string]interface{}{
		"branch": branch,
	})
}

// EmitBranchFailed emits a branch failure event
func (eb *eventBus) EmitBranchFailed(branch string, err error) {
	eb.Emit(models.EventBranchFailed, map[string]interface{}{
		"branch": branch,
		"error":  err.Error(),
	})
}

// EmitCommandSubmitted emits a command submission event
func (eb *eventBus) EmitCommandSubmitted(stage, command string) {
	eb.Emit(models.EventCommandSubmitted, map[string]interface{}{
		"stage":   stage,
		"command": command,
	})
}

// EmitCommandCompleted emits a command completion event
func (eb *eventBus) EmitCommandCompleted(stage, command string, exitCode int) {
	eb.Emit(models.EventCommandCompleted, map[string]interface{}{
		"stage":     stage,
		"command":   command,
		"exit_code": exitCode,
	})
}
