package credit

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/lendlink-labs/creditdesk/internal/chain"
)

// Contract method names submitted by plans.
const (
	methodApprove         = "approve"
	methodStake           = "stake"
	methodUnstake         = "unstake"
	methodBorrow          = "borrow"
	methodRepay           = "repay"
	methodDepositTranche  = "depositTranche"
	methodWithdrawTranche = "withdrawTranche"
	methodMintInvoice     = "mintInvoice"
	methodVerifyInvoice   = "verifyInvoice"
)

// Addresses identifies the protocol contracts a planner targets.
type Addresses struct {
	Staking         string
	InvoiceRegistry string
	LendingPool     string
	Token           string
}

// Planner builds the minimal ordered step list for an action. It checks the
// snapshot's live allowance/approval state instead of assuming one: when the
// required permission already exists, the plan is a single step.
type Planner struct {
	addrs Addresses
}

// NewPlanner creates a Planner targeting the given contracts.
func NewPlanner(addrs Addresses) *Planner {
	return &Planner{addrs: addrs}
}

// BuildPlan builds the plan for a validated action against the snapshot.
// Later steps depend on earlier ones being visibly committed, so steps are
// strictly ordered for the executor.
func (p *Planner) BuildPlan(action Action, snap *Snapshot) (*Plan, error) {
	plan := &Plan{
		ID:        uuid.New().String(),
		Action:    action,
		Account:   snap.Account,
		CreatedAt: time.Now().UTC(),
	}

	switch action.Kind {
	case ActionStake:
		p.appendTokenApproval(plan, p.addrs.Staking, snap.Allowances.Staking, action.Amount)
		plan.Steps = append(plan.Steps, Step{
			Contract: p.addrs.Staking,
			Method:   methodStake,
			Params: []chain.ContractParam{
				chain.NewHash160Param(snap.Account),
				chain.NewIntegerParam(action.Amount),
				chain.NewIntegerParam(daysToSeconds(action.DurationDays)),
			},
			Kind:        StepAction,
			Description: action.Describe(),
		})

	case ActionUnstake:
		plan.Steps = append(plan.Steps, Step{
			Contract: p.addrs.Staking,
			Method:   methodUnstake,
			Params: []chain.ContractParam{
				chain.NewHash160Param(snap.Account),
				chain.NewIntegerParam(big.NewInt(int64(action.StakeIndex))),
			},
			Kind:        StepAction,
			Description: action.Describe(),
		})

	case ActionBorrow:
		inv := snap.InvoiceByID(action.InvoiceID)
		if inv == nil {
			return nil, fmt.Errorf("plan borrow: invoice %s not in snapshot", action.InvoiceID)
		}
		if !inv.CollateralApproved {
			plan.Steps = append(plan.Steps, Step{
				Contract: p.addrs.InvoiceRegistry,
				Method:   methodApprove,
				Params: []chain.ContractParam{
					chain.NewIntegerParam(inv.ID),
					chain.NewHash160Param(p.addrs.LendingPool),
				},
				Kind:        StepApprove,
				Description: fmt.Sprintf("approve invoice %s as collateral", inv.ID),
			})
		}
		plan.Steps = append(plan.Steps, Step{
			Contract: p.addrs.LendingPool,
			Method:   methodBorrow,
			Params: []chain.ContractParam{
				chain.NewHash160Param(snap.Account),
				chain.NewIntegerParam(inv.ID),
				chain.NewIntegerParam(action.Amount),
			},
			Kind:        StepAction,
			Description: action.Describe(),
		})

	case ActionRepay:
		loan := snap.LoanByInvoice(action.InvoiceID)
		if loan == nil {
			return nil, fmt.Errorf("plan repay: no loan for invoice %s in snapshot", action.InvoiceID)
		}
		p.appendTokenApproval(plan, p.addrs.LendingPool, snap.Allowances.LendingPool, loan.Outstanding())
		plan.Steps = append(plan.Steps, Step{
			Contract: p.addrs.LendingPool,
			Method:   methodRepay,
			Params: []chain.ContractParam{
				chain.NewHash160Param(snap.Account),
				chain.NewIntegerParam(loan.InvoiceID),
			},
			Kind:        StepAction,
			Description: action.Describe(),
		})

	case ActionDepositTranche:
		p.appendTokenApproval(plan, p.addrs.LendingPool, snap.Allowances.LendingPool, action.Amount)
		plan.Steps = append(plan.Steps, Step{
			Contract: p.addrs.LendingPool,
			Method:   methodDepositTranche,
			Params: []chain.ContractParam{
				chain.NewHash160Param(snap.Account),
				chain.NewIntegerParam(big.NewInt(int64(action.Tranche))),
				chain.NewIntegerParam(action.Amount),
				chain.NewIntegerParam(daysToSeconds(action.LockupDays)),
			},
			Kind:        StepAction,
			Description: action.Describe(),
		})

	case ActionWithdrawTranche:
		plan.Steps = append(plan.Steps, Step{
			Contract: p.addrs.LendingPool,
			Method:   methodWithdrawTranche,
			Params: []chain.ContractParam{
				chain.NewHash160Param(snap.Account),
				chain.NewIntegerParam(big.NewInt(int64(action.DepositIndex))),
				chain.NewIntegerParam(action.Amount),
			},
			Kind:        StepAction,
			Description: action.Describe(),
		})

	case ActionMintInvoice:
		plan.Steps = append(plan.Steps, Step{
			Contract: p.addrs.InvoiceRegistry,
			Method:   methodMintInvoice,
			Params: []chain.ContractParam{
				chain.NewHash160Param(snap.Account),
				chain.NewIntegerParam(action.FaceAmount),
				chain.NewIntegerParam(big.NewInt(action.DueDate.Unix())),
				chain.NewStringParam(action.DocRef),
			},
			Kind:        StepAction,
			Description: action.Describe(),
		})

	case ActionVerifyInvoice:
		plan.Steps = append(plan.Steps, Step{
			Contract: p.addrs.InvoiceRegistry,
			Method:   methodVerifyInvoice,
			Params: []chain.ContractParam{
				chain.NewIntegerParam(action.InvoiceID),
			},
			Kind:        StepAction,
			Description: action.Describe(),
		})

	default:
		return nil, fmt.Errorf("plan: unsupported action %q", action.Kind)
	}

	return plan, nil
}

// appendTokenApproval prepends a settlement-token approval step when the
// current allowance for spender does not cover required.
func (p *Planner) appendTokenApproval(plan *Plan, spender string, allowance, required *big.Int) {
	if allowance != nil && required != nil && allowance.Cmp(required) >= 0 {
		return
	}
	plan.Steps = append(plan.Steps, Step{
		Contract: p.addrs.Token,
		Method:   methodApprove,
		Params: []chain.ContractParam{
			chain.NewHash160Param(plan.Account),
			chain.NewHash160Param(spender),
			chain.NewIntegerParam(required),
		},
		Kind:        StepApprove,
		Description: fmt.Sprintf("approve %s for %s", required, spender),
	})
}

func daysToSeconds(days int) *big.Int {
	return big.NewInt(int64(days) * 24 * 60 * 60)
}
