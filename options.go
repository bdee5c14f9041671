package frameloop

import "github.com/Swind/go-frameloop/core"

// Option configures an App.
type Option func(*options)

type options struct {
	logger              core.Logger
	metrics             core.Metrics
	panicHandler        core.PanicHandler
	rejectedTaskHandler core.RejectedTaskHandler
	historyCapacity     int
	onUpdate            Hook
	onRender            Hook
}

func (o *options) schedulerConfig() *core.SchedulerConfig {
	cfg := &core.SchedulerConfig{
		Logger:              o.logger,
		PanicHandler:        o.panicHandler,
		Metrics:             o.metrics,
		RejectedTaskHandler: o.rejectedTaskHandler,
		HistoryCapacity:     o.historyCapacity,
	}
	return cfg.WithDefaults()
}

// WithLogger sets the logger used by every scheduler component.
func WithLogger(logger core.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the metrics sink, e.g. the Prometheus exporter.
func WithMetrics(metrics core.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithPanicHandler sets the handler for panicking jobs and phase tasks.
func WithPanicHandler(handler core.PanicHandler) Option {
	return func(o *options) { o.panicHandler = handler }
}

// WithRejectedTaskHandler sets the handler for refused submissions.
func WithRejectedTaskHandler(handler core.RejectedTaskHandler) Option {
	return func(o *options) { o.rejectedTaskHandler = handler }
}

// WithJobHistory sets how many finished jobs the worker pool remembers.
func WithJobHistory(capacity int) Option {
	return func(o *options) { o.historyCapacity = capacity }
}

// WithUpdateHook sets the domain logic run once per update iteration.
func WithUpdateHook(hook Hook) Option {
	return func(o *options) { o.onUpdate = hook }
}

// WithRenderHook sets the drawing logic run once per render iteration.
func WithRenderHook(hook Hook) Option {
	return func(o *options) { o.onRender = hook }
}
