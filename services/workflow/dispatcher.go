package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"channel-automation/api/pkg/logging"
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// DispatchStep records one bridge call of a firing.
type DispatchStep struct {
	Position int            `json:"position"`
	NodeID   string         `json:"nodeId"`
	Action   Category       `json:"action"`
	Status   string         `json:"status"`
	Duration int64          `json:"duration"`
	Result   map[string]any `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Outcome is the result of firing one trigger against one plan.
type Outcome struct {
	DispatchID     string         `json:"dispatchId"`
	WorkflowID     string         `json:"workflowId,omitempty"`
	Trigger        TriggerKey     `json:"trigger"`
	StreamerID     string         `json:"streamerId"`
	Status         string         `json:"status"`
	FailedPosition int            `json:"failedPosition"`
	FailedNodeID   string         `json:"failedNodeId,omitempty"`
	Steps          []DispatchStep `json:"steps"`
	StartTime      string         `json:"startTime"`
	EndTime        string         `json:"endTime"`
	TotalDuration  int64          `json:"totalDuration"`
}

// Dispatcher executes compiled action sequences against the bridge.
type Dispatcher struct {
	bridge      BridgeClient
	callTimeout time.Duration
	logger      logging.Logger
	metrics     *Metrics
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithCallTimeout bounds every bridge call; expiry counts as a call failure.
func WithCallTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) { disp.callTimeout = d }
}

// WithDispatchLogger sets the logger used for firing and failure records.
func WithDispatchLogger(l logging.Logger) DispatcherOption {
	return func(disp *Dispatcher) { disp.logger = logging.OrNop(l) }
}

// WithDispatchMetrics records bridge calls and firings on m.
func WithDispatchMetrics(m *Metrics) DispatcherOption {
	return func(disp *Dispatcher) { disp.metrics = m }
}

// NewDispatcher creates a Dispatcher sending actions through bridge.
func NewDispatcher(bridge BridgeClient, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{bridge: bridge, logger: logging.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch fires key against plan. A key with no entry, or a cheer below the
// entry's bits threshold, is skipped, not an error.
// Actions run strictly in order; the first failure stops the sequence and is
// returned along with an Outcome identifying the failed position.
func (d *Dispatcher) Dispatch(ctx context.Context, plan *ExecutionPlan, key TriggerKey, streamerID string, eventData map[string]any) (*Outcome, error) {
	startTime := time.Now()
	outcome := &Outcome{
		DispatchID:     uuid.NewString(),
		Trigger:        key,
		StreamerID:     streamerID,
		FailedPosition: -1,
		Steps:          []DispatchStep{},
		StartTime:      startTime.UTC().Format(time.RFC3339),
	}
	logger := d.logger.WithFields(map[string]any{
		"dispatch_id": outcome.DispatchID,
		"trigger":     key.String(),
		"streamer_id": streamerID,
	})

	actions, ok := plan.Match(key, eventData)
	if !ok {
		logger.Debug("no workflow wired to trigger")
		outcome.Status = StatusSkipped
		d.finish(outcome, startTime)
		return outcome, nil
	}

	for i, action := range actions {
		if err := ctx.Err(); err != nil {
			return d.fail(outcome, startTime, i, action, err, logger)
		}

		step := DispatchStep{Position: i, NodeID: action.NodeID, Action: action.Action}
		callStart := time.Now()
		resp, err := d.call(ctx, BridgeRequest{
			Action:     action.Action,
			StreamerID: streamerID,
			Metadata:   action.Metadata,
			EventData:  cloneMetadata(eventData),
		})
		elapsed := time.Since(callStart)
		step.Duration = elapsed.Milliseconds()

		if err != nil {
			d.metrics.observeCall(action.Action, StatusFailed, elapsed)
			step.Status = StatusFailed
			step.Error = err.Error()
			outcome.Steps = append(outcome.Steps, step)
			return d.fail(outcome, startTime, i, action, err, logger)
		}

		d.metrics.observeCall(action.Action, StatusCompleted, elapsed)
		step.Status = StatusCompleted
		if resp != nil {
			step.Result = resp.Result
		}
		outcome.Steps = append(outcome.Steps, step)
	}

	outcome.Status = StatusCompleted
	d.finish(outcome, startTime)
	logger.Info("trigger dispatched")
	return outcome, nil
}

func (d *Dispatcher) call(ctx context.Context, req BridgeRequest) (*BridgeResponse, error) {
	if d.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.callTimeout)
		defer cancel()
	}
	return d.bridge.Send(ctx, req)
}

func (d *Dispatcher) fail(outcome *Outcome, startTime time.Time, position int, action Instruction, cause error, logger logging.Logger) (*Outcome, error) {
	outcome.Status = StatusFailed
	outcome.FailedPosition = position
	outcome.FailedNodeID = action.NodeID
	d.finish(outcome, startTime)

	logger.WithFields(map[string]any{
		"action_index": position,
		"node_id":      action.NodeID,
		"action":       string(action.Action),
	}).Warn("bridge call failed: " + cause.Error())

	return outcome, newError(ErrBridgeCallFailed,
		fmt.Sprintf("action %d (%s) failed", position, action.Action),
		cause,
		map[string]any{
			"action_index": position,
			"node_id":      action.NodeID,
			"action":       string(action.Action),
			"trigger":      outcome.Trigger.String(),
		})
}

func (d *Dispatcher) finish(outcome *Outcome, startTime time.Time) {
	endTime := time.Now()
	outcome.EndTime = endTime.UTC().Format(time.RFC3339)
	outcome.TotalDuration = endTime.Sub(startTime).Milliseconds()
	d.metrics.observeFiring(outcome.Status)
}
