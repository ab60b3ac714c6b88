package workflow

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"channel-automation/api/pkg/logging"
)

// Event is an external platform event delivered by the event source.
type Event struct {
	Category   Category       `json:"category"`
	EventID    string         `json:"event_id"`
	StreamerID string         `json:"streamer_id"`
	Data       map[string]any `json:"event_data,omitempty"`
}

// Key returns the trigger key the event fires.
func (e Event) Key() TriggerKey {
	return TriggerKey{Category: e.Category, EventID: e.EventID}
}

type installedPlan struct {
	workflowID string
	streamerID string
	plan       *ExecutionPlan
}

// Runtime holds the currently trusted plan of every executable workflow and fires
// events against them.
type Runtime struct {
	mu            sync.RWMutex
	plans         map[string]installedPlan
	dispatcher    *Dispatcher
	timers        *TimerScheduler
	maxConcurrent int
	logger        logging.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithTimers keeps the scheduler in sync with installed plans.
func WithTimers(s *TimerScheduler) RuntimeOption {
	return func(r *Runtime) { r.timers = s }
}

// WithMaxConcurrentFirings bounds how many firings of one event run at once.
func WithMaxConcurrentFirings(n int) RuntimeOption {
	return func(r *Runtime) {
		if n > 0 {
			r.maxConcurrent = n
		}
	}
}

// WithRuntimeLogger sets the logger for installs and firings.
func WithRuntimeLogger(l logging.Logger) RuntimeOption {
	return func(r *Runtime) { r.logger = logging.OrNop(l) }
}

// NewRuntime creates an empty Runtime firing through dispatcher.
func NewRuntime(dispatcher *Dispatcher, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		plans:         map[string]installedPlan{},
		dispatcher:    dispatcher,
		maxConcurrent: 8,
		logger:        logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.timers != nil {
		r.timers.bind(r.fireAsync)
	}
	return r
}

// Install makes plan the trusted plan for workflowID, replacing any previous one.
// Firings already in flight keep the plan they started with.
func (r *Runtime) Install(workflowID, streamerID string, plan *ExecutionPlan) error {
	r.mu.Lock()
	r.plans[workflowID] = installedPlan{workflowID: workflowID, streamerID: streamerID, plan: plan}
	r.mu.Unlock()

	r.logger.WithFields(map[string]any{
		"workflow_id": workflowID,
		"streamer_id": streamerID,
		"triggers":    len(plan.Entries()),
	}).Info("plan installed")

	if r.timers != nil {
		return r.timers.Sync(workflowID, streamerID, plan)
	}
	return nil
}

// Remove stops workflowID from reacting to further events.
func (r *Runtime) Remove(workflowID string) {
	r.mu.Lock()
	delete(r.plans, workflowID)
	r.mu.Unlock()
	if r.timers != nil {
		r.timers.Remove(workflowID)
	}
}

// Plan returns the installed plan for workflowID.
func (r *Runtime) Plan(workflowID string) (*ExecutionPlan, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plans[workflowID]
	return p.plan, ok
}

// Fire dispatches ev to every installed plan of the event's streamer that has an
// entry for its trigger key and whose cheer threshold, if any, the event meets. Firings run concurrently and fail independently; the
// returned error joins every firing's dispatch error.
func (r *Runtime) Fire(ctx context.Context, ev Event) ([]*Outcome, error) {
	key := ev.Key()

	r.mu.RLock()
	var matched []installedPlan
	for _, p := range r.plans {
		if p.streamerID != ev.StreamerID {
			continue
		}
		if _, ok := p.plan.Match(key, ev.Data); ok {
			matched = append(matched, p)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].workflowID < matched[j].workflowID })

	outcomes := make([]*Outcome, len(matched))
	errs := make([]error, len(matched))

	var g errgroup.Group
	g.SetLimit(r.maxConcurrent)
	for i, p := range matched {
		g.Go(func() error {
			out, err := r.dispatcher.Dispatch(ctx, p.plan, key, ev.StreamerID, ev.Data)
			if out != nil {
				out.WorkflowID = p.workflowID
			}
			outcomes[i] = out
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	if len(matched) == 0 {
		r.logger.WithFields(map[string]any{"trigger": key.String(), "streamer_id": ev.StreamerID}).
			Debug("event matched no workflow")
	}
	return outcomes, stderrors.Join(errs...)
}

func (r *Runtime) fireAsync(ctx context.Context, ev Event) {
	if _, err := r.Fire(ctx, ev); err != nil {
		r.logger.WithFields(map[string]any{"trigger": ev.Key().String()}).Error("timer firing failed: " + err.Error())
	}
}
