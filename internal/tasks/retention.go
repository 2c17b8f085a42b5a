package tasks

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Retention periodically evicts terminal records older than a maximum age
type Retention struct {
	registry *Registry
	maxAge   time.Duration
	cron     *cron.Cron
	logger   *zap.Logger
}

// NewRetention schedules eviction with a cron spec such as "@every 1m"
func NewRetention(registry *Registry, maxAge time.Duration, spec string, logger *zap.Logger) (*Retention, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retention{
		registry: registry,
		maxAge:   maxAge,
		cron:     cron.New(),
		logger:   logger.Named("retention"),
	}
	if _, err := r.cron.AddFunc(spec, func() { r.Sweep(time.Now().UTC()) }); err != nil {
		return nil, err
	}
	return r, nil
}

// Sweep evicts records that completed before now minus the maximum age
func (r *Retention) Sweep(now time.Time) int {
	n := r.registry.Evict(now.Add(-r.maxAge))
	if n > 0 {
		r.logger.Info("evicted finished tasks", zap.Int("count", n), zap.Int("remaining", r.registry.Len()))
	}
	return n
}

// Start begins the schedule
func (r *Retention) Start() {
	r.cron.Start()
	r.logger.Info("task retention enabled", zap.Duration("max_age", r.maxAge))
}

// Stop halts the schedule and waits for a running sweep
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}
