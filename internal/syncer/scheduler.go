package syncer

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/notisync/notisync/internal/model"
)

const defaultTick = time.Second

// SchedulerConfig configures a Scheduler. Tick is the granularity of
// the inter-pass wait; it exists so tests can run fast and should stay
// at the default otherwise.
type SchedulerConfig struct {
	Activity Activity
	Interval time.Duration
	Tick     time.Duration
	Logger   *log.Logger
}

// Scheduler runs one activity on a fixed interval. The wait between
// passes counts down in ticks so a pause freezes it and a manual
// trigger cuts it short.
type Scheduler struct {
	activity Activity
	interval time.Duration
	tick     time.Duration
	logger   *log.Logger

	kick chan struct{}

	mu        sync.Mutex
	listeners []Listener
	paused    bool
	syncing   bool
}

// NewScheduler creates a Scheduler from cfg.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[scheduler] ", log.LstdFlags)
	}
	return &Scheduler{
		activity: cfg.Activity,
		interval: cfg.Interval,
		tick:     cfg.Tick,
		logger:   cfg.Logger,
		kick:     make(chan struct{}, 1),
	}
}

// AddListener registers a status listener. Must be called before Run.
func (s *Scheduler) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Run executes passes until ctx is cancelled. The first pass starts
// immediately.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Printf("Scheduler for %s started, interval %s", s.activity.Name(), s.interval)

	for {
		s.runPass(ctx)

		if !s.wait(ctx) {
			s.logger.Printf("Scheduler for %s stopped", s.activity.Name())
			return
		}
	}
}

// SyncNow triggers the next pass immediately. It is a no-op while a
// pass is already running.
func (s *Scheduler) SyncNow() {
	s.mu.Lock()
	syncing := s.syncing
	s.mu.Unlock()
	if syncing {
		return
	}

	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Pause freezes the inter-pass countdown. A pass already running is
// not interrupted.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume unfreezes the countdown and triggers a pass right away.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Paused reports whether the countdown is frozen.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Scheduler) runPass(ctx context.Context) {
	s.setSyncing(true)
	s.publish(true, false)

	_, err := s.activity.Sync(ctx)
	if err != nil {
		s.logger.Printf("%s sync failed: %v", s.activity.Name(), err)
	}

	s.setSyncing(false)
	s.publish(false, err != nil)
}

// wait blocks until the next pass is due. It returns false when ctx
// was cancelled. Elapsed ticks only count while not paused; a kick
// ends the wait regardless.
func (s *Scheduler) wait(ctx context.Context) bool {
	remaining := s.interval

	for {
		select {
		case <-ctx.Done():
			return false
		case <-s.kick:
			return true
		case <-time.After(s.tick):
			if s.Paused() {
				continue
			}
			remaining -= s.tick
			if remaining <= 0 {
				return true
			}
		}
	}
}

func (s *Scheduler) setSyncing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncing = v
}

func (s *Scheduler) publish(running, failed bool) {
	status := model.SyncStatus{
		Activity: s.activity.Name(),
		Running:  running,
		Err:      failed,
		LastSync: s.activity.LastSync(),
	}

	s.mu.Lock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l.Notify(status)
	}
}
