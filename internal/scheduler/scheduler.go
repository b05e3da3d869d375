package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/RHEW-Laboratory/WU-Scraper/internal/history"
)

// Scheduler drains the job queue periodically and, when configured, queues
// a harvest of the previous day for each tracked station once a day.
type Scheduler struct {
	scheduler *gocron.Scheduler
	queue     *Queue
	interval  time.Duration
	stations  []string
	dailyAt   string

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Scheduler. dailyAt is HH:MM UTC; empty disables the
// daily refresh.
func New(queue *Queue, interval time.Duration, stations []string, dailyAt string) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	// A drain tick never overlaps the previous one, so jobs stay sequential.
	s.SingletonModeAll()

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		queue:     queue,
		interval:  interval,
		stations:  stations,
		dailyAt:   dailyAt,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	interval := s.interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	_, err := s.scheduler.Every(interval).Do(func() {
		if n := s.queue.RunPending(s.ctx); n > 0 {
			log.Printf("scheduler: drained %d job(s)", n)
		}
	})
	if err != nil {
		return err
	}

	if s.dailyAt != "" && len(s.stations) > 0 {
		_, err := s.scheduler.Every(1).Day().At(s.dailyAt).Do(func() {
			s.EnqueueDaily(time.Now().UTC())
		})
		if err != nil {
			return err
		}
		log.Printf("scheduler: daily refresh of %v at %s UTC", s.stations, s.dailyAt)
	} else {
		log.Println("scheduler: no daily stations configured; only submitted jobs will run")
	}

	s.scheduler.StartAsync()
	return nil
}

// EnqueueDaily queues a one-day harvest of the day before now for every
// tracked station.
func (s *Scheduler) EnqueueDaily(now time.Time) {
	day := history.DateOf(now).AddDays(-1)
	for _, station := range s.stations {
		if _, err := s.queue.SubmitHarvest(history.Request{Station: station, Start: day, End: day}); err != nil {
			log.Printf("ERROR: scheduler: daily harvest for %s: %v", station, err)
		}
	}
}

// Stop cancels future jobs and interrupts a running harvest at its next
// window boundary.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
