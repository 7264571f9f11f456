package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/edgard/tgarchive/internal/app/tasks"
	"github.com/edgard/tgarchive/internal/logger"
)

// Scheduler runs the watch mode tasks on their cron schedules.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	schedules map[string]string
	taskMap   map[string]tasks.ScheduledTaskFunc
	mu        sync.Mutex
	running   bool
}

// NewScheduler creates a scheduler. schedules maps task names to cron
// expressions; tasks with an empty schedule are not run.
func NewScheduler(log *slog.Logger, schedules map[string]string, taskMap map[string]tasks.ScheduledTaskFunc) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	s, err := gocron.NewScheduler(gocron.WithLogger(logger.NewGocronLogger(log)))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{
		scheduler: s,
		logger:    log.With("component", "scheduler"),
		schedules: schedules,
		taskMap:   taskMap,
	}, nil
}

// Start registers every scheduled task and starts ticking. Tasks receive
// ctx, so cancelling it interrupts a running sync. A task never overlaps
// with itself; a run that is still going when the next one is due pushes
// that one to the following slot.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	scheduled := 0
	for name, schedule := range s.schedules {
		if schedule == "" {
			s.logger.Info("Skipping unscheduled task", "task_name", name)
			continue
		}
		taskFunc, ok := s.taskMap[name]
		if !ok {
			s.logger.Warn("Scheduled task not found in registry, skipping", "task_name", name)
			continue
		}

		_, err := s.scheduler.NewJob(
			gocron.CronJob(schedule, true),
			gocron.NewTask(
				func(ctx context.Context, name string) {
					s.logger.Info("Running scheduled task", "task_name", name)
					startTime := time.Now()
					if taskErr := taskFunc(ctx); taskErr != nil {
						s.logger.Error("Scheduled task failed", "task_name", name, "error", taskErr)
					}
					s.logger.Info("Finished scheduled task", "task_name", name, "duration", time.Since(startTime))
				},
				ctx,
				name,
			),
			gocron.WithName(name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to schedule task %s (%q): %w", name, schedule, err)
		}
		s.logger.Info("Scheduled task", "task_name", name, "schedule", schedule)
		scheduled++
	}

	s.scheduler.Start()
	s.running = true
	s.logger.Info("Scheduler started", "tasks_scheduled", scheduled)
	return nil
}

// RunNow triggers a task immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	for _, job := range s.scheduler.Jobs() {
		if job.Name() == name {
			return job.RunNow()
		}
	}
	return fmt.Errorf("task %s is not scheduled", name)
}

// Stop shuts the scheduler down, waiting for running jobs to complete.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	err := s.scheduler.Shutdown()
	if err != nil {
		s.logger.Error("Error during scheduler shutdown", "error", err)
	} else {
		s.logger.Info("Scheduler stopped")
	}
	s.running = false
	return err
}
