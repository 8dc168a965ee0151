package credit

import (
	"math/big"
	"time"
)

// Validator decides, from a domain snapshot alone, whether an intended write
// is expected to succeed. Pure: no I/O, fully testable against fixtures.
type Validator struct {
	tables Tables
}

// NewValidator creates a Validator over the given tables.
func NewValidator(tables Tables) *Validator {
	return &Validator{tables: tables}
}

// Validate returns nil when the action's preconditions hold, or the first
// failed precondition as a Rejection. Insufficient allowance or collateral
// approval is not a rejection; the planner adds an approval step for it.
func (v *Validator) Validate(action Action, snap *Snapshot, now time.Time) *Rejection {
	switch action.Kind {
	case ActionBorrow:
		return v.validateBorrow(action, snap, now)
	case ActionUnstake:
		return v.validateUnstake(action, snap, now)
	case ActionStake:
		return v.validateStake(action, snap)
	case ActionRepay:
		return v.validateRepay(action, snap)
	case ActionDepositTranche:
		return v.validateDepositTranche(action, snap)
	case ActionWithdrawTranche:
		return v.validateWithdrawTranche(action, snap, now)
	case ActionMintInvoice:
		return v.validateMint(action, now)
	case ActionVerifyInvoice:
		return v.validateVerify(action, snap)
	default:
		return rejectf(RejectInvalidAmount, "unsupported action %q", action.Kind)
	}
}

// Capacity returns the borrowable amount for the tier against the invoice.
func (v *Validator) Capacity(tier Tier, inv *Invoice) *big.Int {
	return CapacityFor(v.tables, tier, inv)
}

// validateBorrow checks the borrow preconditions in order; first failure wins.
func (v *Validator) validateBorrow(action Action, snap *Snapshot, now time.Time) *Rejection {
	if action.Amount == nil || action.Amount.Sign() <= 0 {
		return rejectf(RejectInvalidAmount, "borrow amount must be positive, got %s", action.Amount)
	}

	// 1. Invoice exists and the caller owns it.
	inv := snap.InvoiceByID(action.InvoiceID)
	if inv == nil {
		return rejectf(RejectInvoiceNotFound, "invoice %s not found for account %s", action.InvoiceID, snap.Account)
	}
	if inv.Owner != snap.Account {
		return rejectf(RejectNotOwner, "invoice %s is owned by %s, not %s", inv.ID, inv.Owner, snap.Account)
	}
	if inv.Burned {
		return rejectf(RejectInvoiceBurned, "invoice %s is burned", inv.ID)
	}

	// 2. Verified and not past due.
	if !inv.Verified {
		return rejectf(RejectNotVerified, "invoice %s has not been verified", inv.ID)
	}
	if inv.Expired(now) {
		return rejectf(RejectExpired, "invoice %s was due %s", inv.ID, inv.DueDate.Format(time.RFC3339))
	}

	// 3. Not already backing an active loan.
	if loan := snap.LoanByInvoice(inv.ID); inv.Collateralized || (loan != nil && loan.Active()) {
		return rejectf(RejectAlreadyCollateralized, "invoice %s already collateralizes an active loan", inv.ID)
	}

	// 4. Amount within the tier's capacity.
	capacity := v.Capacity(snap.Tier, inv)
	if action.Amount.Cmp(capacity) > 0 {
		return rejectf(RejectExceedsCapacity,
			"requested %s exceeds capacity %s (tier %s, face %s)",
			action.Amount, capacity, snap.Tier, inv.FaceAmount)
	}

	// 5. Pool has the liquidity to fund it.
	if snap.PoolLiquidity.Cmp(action.Amount) < 0 {
		return rejectf(RejectInsufficientLiquidity,
			"pool liquidity %s is below requested %s", snap.PoolLiquidity, action.Amount)
	}

	// 6. Collateral approval is the planner's concern, not a rejection.
	return nil
}

func (v *Validator) validateUnstake(action Action, snap *Snapshot, now time.Time) *Rejection {
	if action.StakeIndex < 0 || action.StakeIndex >= len(snap.Stakes) {
		return rejectf(RejectStakeNotFound, "account %s has no stake at index %d", snap.Account, action.StakeIndex)
	}
	stake := snap.Stakes[action.StakeIndex]
	if !stake.Matured(now) {
		remaining := stake.MaturesAt().Sub(now)
		rej := rejectf(RejectNotMatured,
			"stake %d matures %s, %s remaining",
			action.StakeIndex, stake.MaturesAt().Format(time.RFC3339), remaining.Round(time.Hour))
		rej.Remaining = remaining
		return rej
	}
	return nil
}

func (v *Validator) validateStake(action Action, snap *Snapshot) *Rejection {
	if action.Amount == nil || action.Amount.Sign() <= 0 {
		return rejectf(RejectInvalidAmount, "stake amount must be positive, got %s", action.Amount)
	}
	if !v.knownDuration(action.DurationDays) {
		return rejectf(RejectInvalidDuration, "no staking term for %d days", action.DurationDays)
	}
	if snap.Balance.Cmp(action.Amount) < 0 {
		return rejectf(RejectInsufficientBalance,
			"balance %s is below stake amount %s", snap.Balance, action.Amount)
	}
	return nil
}

func (v *Validator) validateRepay(action Action, snap *Snapshot) *Rejection {
	loan := snap.LoanByInvoice(action.InvoiceID)
	if loan == nil || !loan.Active() {
		return rejectf(RejectNoActiveLoan, "no active loan backed by invoice %s", action.InvoiceID)
	}
	outstanding := loan.Outstanding()
	if snap.Balance.Cmp(outstanding) < 0 {
		return rejectf(RejectInsufficientBalance,
			"balance %s is below outstanding %s (principal %s + interest %s)",
			snap.Balance, outstanding, loan.Principal, loan.AccruedInterest)
	}
	return nil
}

func (v *Validator) validateDepositTranche(action Action, snap *Snapshot) *Rejection {
	if action.Amount == nil || action.Amount.Sign() <= 0 {
		return rejectf(RejectInvalidAmount, "deposit amount must be positive, got %s", action.Amount)
	}
	if action.Tranche != TrancheJunior && action.Tranche != TrancheSenior {
		return rejectf(RejectInvalidAmount, "unknown tranche %d", action.Tranche)
	}
	if action.Tranche == TrancheSenior && action.LockupDays <= 0 {
		return rejectf(RejectInvalidDuration, "senior deposits need a positive lockup, got %d days", action.LockupDays)
	}
	if snap.Balance.Cmp(action.Amount) < 0 {
		return rejectf(RejectInsufficientBalance,
			"balance %s is below deposit amount %s", snap.Balance, action.Amount)
	}
	return nil
}

// validateWithdrawTranche applies the tranche-specific withdrawal rule: the
// per-deposit withdrawable balance is the single source of truth.
func (v *Validator) validateWithdrawTranche(action Action, snap *Snapshot, now time.Time) *Rejection {
	if action.DepositIndex < 0 || action.DepositIndex >= len(snap.Deposits) {
		return rejectf(RejectDepositNotFound, "account %s has no deposit at index %d", snap.Account, action.DepositIndex)
	}
	if action.Amount == nil || action.Amount.Sign() <= 0 {
		return rejectf(RejectInvalidAmount, "withdrawal amount must be positive, got %s", action.Amount)
	}
	dep := snap.Deposits[action.DepositIndex]
	if !dep.Unlocked(now) {
		remaining := dep.UnlocksAt().Sub(now)
		rej := rejectf(RejectStillLocked,
			"senior deposit %d unlocks %s, %s remaining",
			action.DepositIndex, dep.UnlocksAt().Format(time.RFC3339), remaining.Round(time.Hour))
		rej.Remaining = remaining
		return rej
	}
	withdrawable := dep.Withdrawable(now)
	if action.Amount.Cmp(withdrawable) > 0 {
		return rejectf(RejectExceedsWithdrawable,
			"requested %s exceeds withdrawable %s on deposit %d",
			action.Amount, withdrawable, action.DepositIndex)
	}
	return nil
}

func (v *Validator) validateMint(action Action, now time.Time) *Rejection {
	if action.FaceAmount == nil || action.FaceAmount.Sign() <= 0 {
		return rejectf(RejectInvalidAmount, "face amount must be positive, got %s", action.FaceAmount)
	}
	if !action.DueDate.After(now) {
		return rejectf(RejectExpired, "due date %s is not in the future", action.DueDate.Format(time.RFC3339))
	}
	return nil
}

func (v *Validator) validateVerify(action Action, snap *Snapshot) *Rejection {
	inv := snap.InvoiceByID(action.InvoiceID)
	if inv == nil {
		return rejectf(RejectInvoiceNotFound, "invoice %s not found", action.InvoiceID)
	}
	if inv.Burned {
		return rejectf(RejectInvoiceBurned, "invoice %s is burned", inv.ID)
	}
	if inv.Verified {
		return rejectf(RejectAlreadyVerified, "invoice %s is already verified", inv.ID)
	}
	return nil
}

func (v *Validator) knownDuration(days int) bool {
	want := time.Duration(days) * 24 * time.Hour
	for _, r := range v.tables.Rates {
		if r.Duration == want {
			return true
		}
	}
	return false
}
