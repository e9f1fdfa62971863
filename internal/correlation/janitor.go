package correlation

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron"
	"github.com/rs/zerolog"

	"github.com/tbourn/ndi-proof-backend/internal/clock"
)

// DefaultSchedule runs the sweep hourly.
const DefaultSchedule = "@every 1h"

// Sweeper is the part of Service the janitor drives.
type Sweeper interface {
	Sweep(now time.Time) SweepReport
}

// Janitor periodically evicts expired state from a Sweeper.
type Janitor struct {
	target Sweeper
	clock  clock.Clock
	log    zerolog.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	started bool
}

// NewJanitor prepares a janitor for svc. It does not start it.
func NewJanitor(svc *Service, logger zerolog.Logger) *Janitor {
	return &Janitor{
		target: svc,
		clock:  svc.Clock,
		log:    logger,
		cron:   cron.New(),
	}
}

// Start schedules the sweep. An empty schedule uses DefaultSchedule.
func (j *Janitor) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started {
		return nil
	}
	if err := j.cron.AddFunc(schedule, func() { j.RunOnce() }); err != nil {
		return fmt.Errorf("schedule janitor %q: %w", schedule, err)
	}
	j.cron.Start()
	j.started = true
	j.log.Info().Str("schedule", schedule).Msg("janitor started")
	return nil
}

// Stop halts future sweeps.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.started {
		return
	}
	j.cron.Stop()
	j.started = false
	j.log.Info().Msg("janitor stopped")
}

// RunOnce performs a single sweep. Panics are recovered and logged; the
// sweep never propagates a failure.
func (j *Janitor) RunOnce() (rep SweepReport) {
	defer func() {
		if r := recover(); r != nil {
			j.log.Error().Interface("panic", r).Msg("janitor sweep panicked")
			rep = SweepReport{}
		}
	}()
	rep = j.target.Sweep(j.clock.Now())
	if n := len(rep.Pending) + len(rep.Results) + len(rep.Receipts); n > 0 {
		j.log.Info().
			Int("pending", len(rep.Pending)).
			Int("results", len(rep.Results)).
			Int("receipts", len(rep.Receipts)).
			Msg("janitor evicted expired entries")
	}
	return rep
}
