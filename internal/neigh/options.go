package neigh

import (
	"time"

	"go.uber.org/zap"
)

// Option is a function that configures the neighbour cache components.
type Option func(*options)

// WithLog configures a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithMetrics configures metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(o *options) {
		o.Metrics = metrics
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.Now = now
	}
}

type options struct {
	Log     *zap.SugaredLogger
	Metrics *Metrics
	Now     func() time.Time
}

func newOptions(opts ...Option) *options {
	o := &options{
		Log: zap.NewNop().Sugar(),
		Now: time.Now,
	}
	for _, fn := range opts {
		fn(o)
	}

	return o
}
