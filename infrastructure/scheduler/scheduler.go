package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const slowJobThreshold = 5 * time.Second

// Scheduler runs the background maintenance jobs of the hub.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger
}

func NewScheduler(logger *zap.Logger) (*Scheduler, error) {
	logger = logger.Named("scheduler")
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(&gocronLogger{logger: logger}),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, logger: logger}, nil
}

// Every schedules job at a fixed interval. A run is skipped while the
// previous one is still going.
func (s *Scheduler) Every(name string, interval time.Duration, job func(ctx context.Context)) error {
	if name == "" {
		return errors.New("empty job name")
	}
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	if job == nil {
		return errors.New("nil job function")
	}

	wrapped := func(ctx context.Context) {
		start := time.Now()
		job(ctx)
		if d := time.Since(start); d > slowJobThreshold {
			s.logger.Warn("slow scheduled job", zap.String("job", name), zap.Duration("duration", d))
		}
	}

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(wrapped),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}
	s.logger.Debug("job scheduled", zap.String("job", name), zap.Duration("interval", interval))
	return nil
}

// Run starts the jobs and blocks until ctx is done, then waits for running
// jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.scheduler.Start()
	<-ctx.Done()

	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}

type gocronLogger struct {
	logger *zap.Logger
}

func (l *gocronLogger) Debug(msg string, args ...any) { l.logger.Sugar().Debugw(msg, args...) }
func (l *gocronLogger) Info(msg string, args ...any)  { l.logger.Sugar().Infow(msg, args...) }
func (l *gocronLogger) Warn(msg string, args ...any)  { l.logger.Sugar().Warnw(msg, args...) }
func (l *gocronLogger) Error(msg string, args ...any) { l.logger.Sugar().Errorw(msg, args...) }
