package core

import (
	"context"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a job or phase task panics during execution.
//
// Implementations should be thread-safe as they may be called concurrently
// from worker goroutines and from the loop goroutines.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context the task was running with (carries JobInfo or Phase)
	// - source: The pool name or phase name where the panic occurred
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, source string, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs panics through a Logger (standard log package if nil).
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs the panic and its stack trace.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, source string, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	fields := []Field{F("source", source), F("panic", panicInfo), F("stack", string(stackTrace))}
	if info, ok := CurrentJob(ctx); ok {
		fields = append(fields, F("job", info.Name), F("queue_key", info.QueueKey))
	}
	logger.Error("task panicked", fields...)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting scheduler metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast: they are called from the render and
// update loops.
type Metrics interface {
	// RecordTaskDuration records how long a job or phase task took to execute.
	RecordTaskDuration(source string, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(source string, panicInfo any)

	// RecordQueueDepth records the current number of queued items for a source.
	RecordQueueDepth(source string, depth int)

	// RecordTaskRejected records that a submission was rejected (e.g., during shutdown).
	RecordTaskRejected(source string, reason string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(source string, duration time.Duration) {}
func (m *NilMetrics) RecordTaskPanic(source string, panicInfo any)             {}
func (m *NilMetrics) RecordQueueDepth(source string, depth int)                {}
func (m *NilMetrics) RecordTaskRejected(source string, reason string)          {}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected tasks
// =============================================================================

// RejectedTaskHandler is called when a submission is refused. This happens when:
// - The WorkerPool has been stopped
// - A PhaseQueue has been closed after its final drain
// - The submitted task is nil
type RejectedTaskHandler interface {
	HandleRejectedTask(source string, reason string)
}

// DefaultRejectedTaskHandler logs rejected tasks at warn level.
type DefaultRejectedTaskHandler struct {
	Logger Logger
}

// HandleRejectedTask logs the rejected task.
func (h *DefaultRejectedTaskHandler) HandleRejectedTask(source string, reason string) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Warn("task rejected", F("source", source), F("reason", reason))
}

// =============================================================================
// SchedulerConfig: Shared configuration for pool and phase queues
// =============================================================================

// SchedulerConfig holds the collaborators shared by WorkerPool and PhaseQueues.
// All fields are optional; nil fields are replaced by defaults.
type SchedulerConfig struct {
	// Logger receives lifecycle events. Defaults to NoOpLogger.
	Logger Logger

	// PanicHandler is called when a task panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics is called to record execution metrics. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedTaskHandler is called when a task is rejected. Defaults to DefaultRejectedTaskHandler.
	RejectedTaskHandler RejectedTaskHandler

	// HistoryCapacity bounds the WorkerPool job history. Defaults to 100.
	HistoryCapacity int
}

// DefaultSchedulerConfig returns a config with default handlers.
func DefaultSchedulerConfig() *SchedulerConfig {
	return (&SchedulerConfig{}).WithDefaults()
}

// WithDefaults returns a copy of c with every nil collaborator replaced.
// It is safe to call on a nil config.
func (c *SchedulerConfig) WithDefaults() *SchedulerConfig {
	out := &SchedulerConfig{}
	if c != nil {
		*out = *c
	}
	// Panics and rejections still reach the standard logger when no Logger is configured.
	reportLogger := out.Logger
	if out.Logger == nil {
		out.Logger = NewNoOpLogger()
	}
	if out.PanicHandler == nil {
		out.PanicHandler = &DefaultPanicHandler{Logger: reportLogger}
	}
	if out.Metrics == nil {
		out.Metrics = &NilMetrics{}
	}
	if out.RejectedTaskHandler == nil {
		out.RejectedTaskHandler = &DefaultRejectedTaskHandler{Logger: reportLogger}
	}
	if out.HistoryCapacity <= 0 {
		out.HistoryCapacity = defaultJobHistoryCapacity
	}
	return out
}
