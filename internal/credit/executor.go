package credit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lendlink-labs/creditdesk/internal/logging"
	"github.com/lendlink-labs/creditdesk/internal/metrics"
)

// DefaultConfirmTimeout bounds how long a submitted step may sit without an
// application log before the plan fails with a timeout.
const DefaultConfirmTimeout = 45 * time.Second

// StepState is one phase in a step's lifecycle.
type StepState string

// Step lifecycle states. A plan walks each step through Submitting,
// AwaitingConfirmation and Confirmed in order; the terminal plan states are
// Completed and Failed.
const (
	StateSubmitting           StepState = "submitting"
	StateAwaitingConfirmation StepState = "awaiting_confirmation"
	StateConfirmed            StepState = "confirmed"
	StateCompleted            StepState = "completed"
	StateFailed               StepState = "failed"
)

// StepEvent is one progress notification from a plan execution. StepIndex is
// -1 on the terminal Completed event, which covers the plan as a whole.
type StepEvent struct {
	PlanID    string           `json:"planId"`
	StepIndex int              `json:"stepIndex"`
	State     StepState        `json:"state"`
	TxHash    string           `json:"txHash,omitempty"`
	Err       *ClassifiedError `json:"error,omitempty"`
	At        time.Time        `json:"at"`
}

// Result is the final outcome of a plan execution.
type Result struct {
	PlanID    string           `json:"planId"`
	Completed bool             `json:"completed"`
	TxHashes  []string         `json:"txHashes"`
	Err       *ClassifiedError `json:"error,omitempty"`
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Gateway        Gateway
	Audit          AuditSink
	Logger         *logging.Logger
	ConfirmTimeout time.Duration
	// WriteRate and WriteBurst throttle submissions per account. Zero
	// WriteRate disables throttling.
	WriteRate  float64
	WriteBurst int
}

// Executor runs plans step by step: each step is submitted, then confirmed
// against the ledger, before the next step is submitted. There is no
// rollback; confirmed steps stand, and a later re-plan observes their
// effects.
type Executor struct {
	gateway        Gateway
	audit          AuditSink
	log            *logging.Logger
	confirmTimeout time.Duration
	writeRate      rate.Limit
	writeBurst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	now func() time.Time
}

// NewExecutor creates an Executor. Gateway is required; Audit may be nil.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.WriteBurst <= 0 {
		cfg.WriteBurst = 1
	}
	return &Executor{
		gateway:        cfg.Gateway,
		audit:          cfg.Audit,
		log:            cfg.Logger,
		confirmTimeout: cfg.ConfirmTimeout,
		writeRate:      rate.Limit(cfg.WriteRate),
		writeBurst:     cfg.WriteBurst,
		limiters:       make(map[string]*rate.Limiter),
		now:            time.Now,
	}
}

// Execute runs the plan asynchronously and streams StepEvents. The channel
// is closed after the terminal event (Completed, or Failed at some step).
func (e *Executor) Execute(ctx context.Context, plan *Plan) <-chan StepEvent {
	events := make(chan StepEvent, 3*len(plan.Steps)+1)
	go func() {
		defer close(events)
		e.run(ctx, plan, events)
	}()
	return events
}

// ExecuteWait runs the plan to its terminal state and returns the collected
// outcome.
func (e *Executor) ExecuteWait(ctx context.Context, plan *Plan) *Result {
	res := &Result{PlanID: plan.ID}
	for ev := range e.Execute(ctx, plan) {
		switch ev.State {
		case StateConfirmed:
			res.TxHashes = append(res.TxHashes, ev.TxHash)
		case StateCompleted:
			res.Completed = true
		case StateFailed:
			res.Err = ev.Err
		}
	}
	return res
}

func (e *Executor) run(ctx context.Context, plan *Plan, events chan<- StepEvent) {
	for i, step := range plan.Steps {
		if cerr := e.runStep(ctx, plan, i, step, events); cerr != nil {
			events <- StepEvent{PlanID: plan.ID, StepIndex: i, State: StateFailed, Err: cerr, At: e.now()}
			metrics.RecordFailure(string(cerr.Kind), string(cerr.Reason))
			metrics.RecordPlanOutcome(string(plan.Action.Kind), "failed")
			e.log.Warn(ctx, "plan failed", map[string]interface{}{
				"plan_id": plan.ID,
				"step":    i,
				"kind":    string(cerr.Kind),
				"reason":  string(cerr.Reason),
			})
			return
		}
	}
	events <- StepEvent{PlanID: plan.ID, StepIndex: -1, State: StateCompleted, At: e.now()}
	metrics.RecordPlanOutcome(string(plan.Action.Kind), "completed")
	e.log.Info(ctx, "plan completed", map[string]interface{}{
		"plan_id": plan.ID,
		"steps":   len(plan.Steps),
	})
}

func (e *Executor) runStep(ctx context.Context, plan *Plan, i int, step Step, events chan<- StepEvent) *ClassifiedError {
	events <- StepEvent{PlanID: plan.ID, StepIndex: i, State: StateSubmitting, At: e.now()}

	if err := e.throttle(ctx, plan.Account); err != nil {
		return Classify(err).AtStep(i)
	}

	submitted := e.now()
	txHash, err := e.gateway.Submit(ctx, step.Contract, step.Method, step.Params)
	if err != nil {
		cerr := Classify(err).AtStep(i)
		e.record(ctx, plan, i, step, txHash, "rejected", cerr.Error())
		return cerr
	}
	e.record(ctx, plan, i, step, txHash, "submitted", "")
	events <- StepEvent{PlanID: plan.ID, StepIndex: i, State: StateAwaitingConfirmation, TxHash: txHash, At: e.now()}

	cctx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	receipt, err := e.gateway.AwaitConfirmation(cctx, txHash)
	cancel()
	if err != nil {
		cerr := Classify(err).AtStep(i)
		e.record(ctx, plan, i, step, txHash, "unconfirmed", cerr.Error())
		return cerr
	}
	if cerr := ClassifyReceipt(receipt); cerr != nil {
		cerr = cerr.AtStep(i)
		e.record(ctx, plan, i, step, txHash, "reverted", cerr.Error())
		return cerr
	}

	metrics.RecordStepConfirmation(step.Method, e.now().Sub(submitted))
	e.record(ctx, plan, i, step, txHash, "confirmed", "")
	events <- StepEvent{PlanID: plan.ID, StepIndex: i, State: StateConfirmed, TxHash: txHash, At: e.now()}
	e.log.Debug(ctx, "step confirmed", map[string]interface{}{
		"plan_id": plan.ID,
		"step":    i,
		"method":  step.Method,
		"tx":      txHash,
	})
	return nil
}

// throttle blocks until the account's write limiter admits one submission.
func (e *Executor) throttle(ctx context.Context, account string) error {
	if e.writeRate <= 0 {
		return nil
	}
	e.mu.Lock()
	lim, ok := e.limiters[account]
	if !ok {
		lim = rate.NewLimiter(e.writeRate, e.writeBurst)
		e.limiters[account] = lim
	}
	e.mu.Unlock()
	return lim.Wait(ctx)
}

// record writes one audit entry; audit failures are logged and swallowed.
func (e *Executor) record(ctx context.Context, plan *Plan, i int, step Step, txHash, status, errMsg string) {
	if e.audit == nil {
		return
	}
	rec := SubmissionRecord{
		PlanID:    plan.ID,
		StepIndex: i,
		Account:   plan.Account,
		Contract:  step.Contract,
		Method:    step.Method,
		TxHash:    txHash,
		Status:    status,
		Error:     errMsg,
		At:        e.now().UTC(),
	}
	if err := e.audit.RecordSubmission(ctx, rec); err != nil {
		e.log.Warn(ctx, "audit record failed", map[string]interface{}{
			"plan_id": plan.ID,
			"step":    i,
			"error":   err.Error(),
		})
	}
}
