package accrual

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/Dumoney00/dumoney-invesment-sub000/pkg/logger"
)

// Scheduler drives the income sweep on a cron schedule.
type Scheduler struct {
	service *Service
	spec    string
	log     *logger.Logger
	cron    *cron.Cron
}

// NewScheduler creates a scheduler. spec is a standard cron expression;
// empty defaults to an hourly sweep (collection itself is window-gated, so
// sweeping more often than the window is harmless).
func NewScheduler(service *Service, spec string, log *logger.Logger) *Scheduler {
	if spec == "" {
		spec = "@hourly"
	}
	if log == nil {
		log = logger.NewDefault("accrual-scheduler")
	}
	return &Scheduler{service: service, spec: spec, log: log}
}

// Start registers the sweep job and starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.spec, func() {
		credited, err := s.service.CollectAll(ctx)
		if err != nil {
			s.log.WithError(err).Warn("income sweep failed")
			return
		}
		if credited > 0 {
			s.log.Infof("income sweep credited %d accounts", credited)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Infof("accrual scheduler started (%s)", s.spec)
	return nil
}

// Stop halts the cron runner, waiting for a running sweep to finish or the
// context to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
