package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Sweeper is the daily-check entry point the scheduler drives.
type Sweeper interface {
	RunDailySweep(ctx context.Context) error
}

// SweepScheduler runs the daily sweep on the configured cron expression in the
// configured time zone, plus once at process start.
type SweepScheduler struct {
	cronEngine *cron.Cron
	sweeper    Sweeper
	logger     *logrus.Entry
	cronSpec   string
}

func NewSweepScheduler(sweeper Sweeper, cronSpec string, loc *time.Location, logger *logrus.Entry) *SweepScheduler {
	return &SweepScheduler{
		cronEngine: cron.New(cron.WithLocation(loc)),
		sweeper:    sweeper,
		logger:     logger,
		cronSpec:   cronSpec,
	}
}

// Start registers the daily job, fires one startup sweep, and starts the cron
// engine. The startup sweep covers transitions missed while the process was
// down.
func (s *SweepScheduler) Start() error {
	_, err := s.cronEngine.AddFunc(s.cronSpec, func() {
		s.logger.Info("Cron job triggered for daily sweep")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := s.sweeper.RunDailySweep(ctx); err != nil {
			s.logger.WithError(err).Error("Daily sweep failed")
		}
	})
	if err != nil {
		return err
	}

	go func() {
		s.logger.Info("Running startup sweep")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := s.sweeper.RunDailySweep(ctx); err != nil {
			s.logger.WithError(err).Error("Startup sweep failed")
		}
	}()

	s.cronEngine.Start()
	s.logger.WithField("cron_spec", s.cronSpec).Info("Sweep scheduler started")
	return nil
}

func (s *SweepScheduler) Stop() {
	s.logger.Info("Stopping sweep scheduler...")
	ctx := s.cronEngine.Stop() // waits for a running job to finish
	<-ctx.Done()
	s.logger.Info("Sweep scheduler gracefully stopped")
}
