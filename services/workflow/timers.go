package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"channel-automation/api/pkg/logging"
)

// TimerScheduler turns timer-trigger plan entries into cron jobs.
type TimerScheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string][]cron.EntryID
	fire    func(context.Context, Event)
	logger  logging.Logger
}

// NewTimerScheduler creates a stopped scheduler using the standard 5-field parser.
func NewTimerScheduler(logger logging.Logger, opts ...cron.Option) *TimerScheduler {
	return &TimerScheduler{
		cron:    cron.New(opts...),
		entries: map[string][]cron.EntryID{},
		logger:  logging.OrNop(logger),
	}
}

func (s *TimerScheduler) bind(fire func(context.Context, Event)) {
	s.mu.Lock()
	s.fire = fire
	s.mu.Unlock()
}

// Start runs the cron loop in its own goroutine.
func (s *TimerScheduler) Start() { s.cron.Start() }

// Stop halts scheduling and returns a context done once running jobs finish.
func (s *TimerScheduler) Stop() context.Context { return s.cron.Stop() }

// Sync replaces the cron jobs registered for workflowID with the timer entries of plan.
func (s *TimerScheduler) Sync(workflowID, streamerID string, plan *ExecutionPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(workflowID)

	var ids []cron.EntryID
	for _, entry := range plan.Entries() {
		if entry.Key.Category != CategoryTimer || entry.Schedule == "" {
			continue
		}
		ev := Event{Category: CategoryTimer, EventID: entry.Key.EventID, StreamerID: streamerID}
		id, err := s.cron.AddFunc(entry.Schedule, func() { s.tick(ev) })
		if err != nil {
			for _, added := range ids {
				s.cron.Remove(added)
			}
			return fmt.Errorf("schedule timer %q: %w", entry.Key.EventID, err)
		}
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		s.entries[workflowID] = ids
		s.logger.WithFields(map[string]any{"workflow_id": workflowID, "timers": len(ids)}).Debug("timers scheduled")
	}
	return nil
}

// Remove unschedules every timer job of workflowID.
func (s *TimerScheduler) Remove(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(workflowID)
}

// Scheduled returns how many timer jobs are registered for workflowID.
func (s *TimerScheduler) Scheduled(workflowID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[workflowID])
}

func (s *TimerScheduler) removeLocked(workflowID string) {
	for _, id := range s.entries[workflowID] {
		s.cron.Remove(id)
	}
	delete(s.entries, workflowID)
}

func (s *TimerScheduler) tick(ev Event) {
	s.mu.Lock()
	fire := s.fire
	s.mu.Unlock()
	if fire == nil {
		return
	}
	ev.Data = map[string]any{"timer_id": ev.EventID, "fired_at": time.Now().UTC().Format(time.RFC3339)}
	fire(context.Background(), ev)
}
