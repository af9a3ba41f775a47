package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule sweeps every six hours.
const DefaultSchedule = "0 */6 * * *"

// Runner executes sweeps on a cron schedule in server mode.
type Runner struct {
	reaper   *Reaper
	schedule cron.Schedule
	logger   *slog.Logger
}

// NewRunner creates a Runner for the given cron expression
// (standard 5-field syntax). An empty expression uses DefaultSchedule.
func NewRunner(r *Reaper, expr string, logger *slog.Logger) (*Runner, error) {
	if expr == "" {
		expr = DefaultSchedule
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid reaper schedule %q: %w", expr, err)
	}
	return &Runner{
		reaper:   r,
		schedule: sched,
		logger:   logger,
	}, nil
}

// Start begins the sweep loop in a background goroutine and returns a cancel
// function.
func (r *Runner) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		r.logger.Info("reaper runner started",
			slog.Time("next_sweep", r.schedule.Next(time.Now())),
		)
		for {
			next := r.schedule.Next(time.Now())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				r.logger.Info("reaper runner stopped")
				return
			case <-timer.C:
			}

			if _, err := r.reaper.Sweep(ctx); err != nil {
				r.logger.Error("reaper sweep failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}()

	return cancel
}
