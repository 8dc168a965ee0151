package credit

import (
	"context"
	"time"

	"github.com/lendlink-labs/creditdesk/internal/logging"
)

// Service is the orchestration facade: read, validate, plan, execute. Every
// plan is built against a snapshot taken inside the same call, so confirmed
// effects of earlier plans are always visible to the next one.
type Service struct {
	reader    *Reader
	validator *Validator
	planner   *Planner
	executor  *Executor
	log       *logging.Logger
	now       func() time.Time
}

// NewService wires the orchestration pipeline.
func NewService(reader *Reader, validator *Validator, planner *Planner, executor *Executor, log *logging.Logger) *Service {
	if log == nil {
		log = logging.Nop()
	}
	return &Service{
		reader:    reader,
		validator: validator,
		planner:   planner,
		executor:  executor,
		log:       log,
		now:       time.Now,
	}
}

// Snapshot returns the account's current domain state.
func (s *Service) Snapshot(ctx context.Context, account string) (*Snapshot, error) {
	return s.reader.Snapshot(ctx, account)
}

// ValidateAndPlan takes a fresh snapshot, validates the action against it,
// and on success builds the plan. Exactly one of plan and rejection is
// non-nil unless the read itself failed.
func (s *Service) ValidateAndPlan(ctx context.Context, action Action) (*Plan, *Rejection, error) {
	snap, err := s.reader.Snapshot(ctx, action.Account)
	if err != nil {
		return nil, nil, err
	}

	// The snapshot lists only invoices the account owns; verification
	// targets invoices held by others, so resolve the target by id.
	if action.Kind == ActionVerifyInvoice && action.InvoiceID != nil && snap.InvoiceByID(action.InvoiceID) == nil {
		inv, err := s.reader.Invoice(ctx, action.InvoiceID)
		if err != nil {
			return nil, nil, err
		}
		if inv != nil {
			snap.Invoices = append(snap.Invoices, *inv)
		}
	}

	if rej := s.validator.Validate(action, snap, s.now()); rej != nil {
		s.log.Info(ctx, "action rejected", map[string]interface{}{
			"account": action.Account,
			"action":  string(action.Kind),
			"code":    string(rej.Code),
			"detail":  rej.Detail,
		})
		return nil, rej, nil
	}

	plan, err := s.planner.BuildPlan(action, snap)
	if err != nil {
		return nil, nil, err
	}
	s.log.Info(ctx, "plan built", map[string]interface{}{
		"account": action.Account,
		"action":  string(action.Kind),
		"plan_id": plan.ID,
		"steps":   len(plan.Steps),
	})
	return plan, nil, nil
}

// Execute streams step events for the plan until it completes or fails.
func (s *Service) Execute(ctx context.Context, plan *Plan) <-chan StepEvent {
	return s.executor.Execute(ctx, plan)
}

// Run validates, plans and executes the action in one call. When validation
// rejects, the rejection is returned and nothing is submitted.
func (s *Service) Run(ctx context.Context, action Action) (*Result, *Rejection, error) {
	plan, rej, err := s.ValidateAndPlan(ctx, action)
	if err != nil || rej != nil {
		return nil, rej, err
	}
	return s.executor.ExecuteWait(ctx, plan), nil, nil
}
