package core

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner schedules history maintenance: pruning old records and saving the
// journal to disk.
type Runner struct {
	History   *HistoryManager
	Cron      *cron.Cron
	Schedule  string
	Retention time.Duration
	log       *zap.Logger
}

func NewRunner(hm *HistoryManager, schedule string, retentionDays int, log *zap.Logger) *Runner {
	if schedule == "" {
		schedule = "@every 5m"
	}
	return &Runner{
		History:   hm,
		Cron:      cron.New(),
		Schedule:  schedule,
		Retention: time.Duration(retentionDays) * 24 * time.Hour,
		log:       log,
	}
}

func (r *Runner) Start() error {
	if r.History == nil {
		return nil
	}
	if _, err := r.Cron.AddFunc(r.Schedule, r.Maintain); err != nil {
		return err
	}
	r.log.Info("scheduled history maintenance", zap.String("schedule", r.Schedule))
	r.Cron.Start()
	return nil
}

// Stop waits for a running maintenance job, then saves once more.
func (r *Runner) Stop() {
	<-r.Cron.Stop().Done()
	if r.History == nil {
		return
	}
	if err := r.History.Save(); err != nil {
		r.log.Warn("saving history", zap.Error(err))
	}
}

func (r *Runner) Maintain() {
	if r.Retention > 0 {
		if n := r.History.Prune(time.Now().Add(-r.Retention)); n > 0 {
			r.log.Info("pruned history", zap.Int("removed", n))
		}
	}
	if err := r.History.Save(); err != nil {
		r.log.Warn("saving history", zap.Error(err))
	}
}
