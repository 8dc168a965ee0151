// Package credit is the transaction-orchestration and domain-computation core
// of creditdesk: it derives lending-domain state from ledger reads, validates
// intended operations against that state, plans ordered multi-step
// submissions, and executes them with confirmation tracking.
package credit

import (
	"context"
	"math/big"
	"time"

	"github.com/lendlink-labs/creditdesk/internal/chain"
)

// =============================================================================
// Collateral Tiers
// =============================================================================

// Tier is a collateral tier derived from total staked principal.
type Tier int

// Collateral tiers, lowest first.
const (
	TierNone Tier = iota
	TierBronze
	TierSilver
	TierGold
	TierDiamond
)

var tierNames = map[Tier]string{
	TierNone:    "none",
	TierBronze:  "bronze",
	TierSilver:  "silver",
	TierGold:    "gold",
	TierDiamond: "diamond",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "none"
}

// TierFromName maps a configuration tier name to its Tier.
func TierFromName(name string) (Tier, bool) {
	for t, n := range tierNames {
		if n == name {
			return t, true
		}
	}
	return TierNone, false
}

// =============================================================================
// Domain Entities
// =============================================================================

// Stake is a staking position with its derived rate terms. Index is the
// position's slot in the on-chain list and doubles as the unstake argument.
type Stake struct {
	Index         int           `json:"index"`
	Principal     *big.Int      `json:"principal"`
	StartTime     time.Time     `json:"startTime"`
	Duration      time.Duration `json:"duration"`
	APYBps        int           `json:"apyBps"`
	MultiplierBps int           `json:"multiplierBps"`
}

// MaturesAt returns the time the stake can first be unwound.
func (s Stake) MaturesAt() time.Time {
	return s.StartTime.Add(s.Duration)
}

// Matured reports whether the stake can be unwound at now.
func (s Stake) Matured(now time.Time) bool {
	return !now.Before(s.MaturesAt())
}

// Invoice is a tokenized invoice.
type Invoice struct {
	ID             *big.Int  `json:"id"`
	Supplier       string    `json:"supplier"`
	Owner          string    `json:"owner"`
	FaceAmount     *big.Int  `json:"faceAmount"`
	DueDate        time.Time `json:"dueDate"`
	Verified       bool      `json:"verified"`
	DocRef         string    `json:"docRef,omitempty"`
	Burned         bool      `json:"burned"`
	Collateralized bool      `json:"collateralized"`
	// CollateralApproved reports whether the lending pool already holds
	// transfer permission for this invoice.
	CollateralApproved bool `json:"collateralApproved"`
}

// Expired reports whether the invoice is past its due date at now.
func (i *Invoice) Expired(now time.Time) bool {
	return now.After(i.DueDate)
}

// Loan is a loan backed by a single invoice.
type Loan struct {
	InvoiceID       *big.Int  `json:"invoiceId"`
	Borrower        string    `json:"borrower"`
	Principal       *big.Int  `json:"principal"`
	DueDate         time.Time `json:"dueDate"`
	AccruedInterest *big.Int  `json:"accruedInterest"`
	Repaid          bool      `json:"repaid"`
	Liquidated      bool      `json:"liquidated"`
}

// Active reports whether the loan is neither repaid nor liquidated.
func (l *Loan) Active() bool {
	return !l.Repaid && !l.Liquidated
}

// Outstanding returns principal plus accrued interest.
func (l *Loan) Outstanding() *big.Int {
	return new(big.Int).Add(l.Principal, l.AccruedInterest)
}

// Tranche is a risk class of pool deposits.
type Tranche uint8

// Tranches. Junior absorbs losses first and is always withdrawable; Senior
// is loss-protected while time-locked.
const (
	TrancheJunior Tranche = Tranche(chain.TrancheJunior)
	TrancheSenior Tranche = Tranche(chain.TrancheSenior)
)

func (t Tranche) String() string {
	if t == TrancheSenior {
		return "senior"
	}
	return "junior"
}

// Deposit is an LP deposit in one tranche. Index is the position's slot in
// the on-chain list and doubles as the withdraw argument.
type Deposit struct {
	Index           int           `json:"index"`
	Tranche         Tranche       `json:"tranche"`
	Principal       *big.Int      `json:"principal"`
	DepositTime     time.Time     `json:"depositTime"`
	LockupDuration  time.Duration `json:"lockupDuration"`
	Withdrawn       *big.Int      `json:"withdrawn"`
	AccruedInterest *big.Int      `json:"accruedInterest"`
}

// UnlocksAt returns when a senior deposit's lock elapses. Junior deposits
// are never locked.
func (d *Deposit) UnlocksAt() time.Time {
	return d.DepositTime.Add(d.LockupDuration)
}

// Unlocked reports whether the deposit's principal is withdrawable at now.
func (d *Deposit) Unlocked(now time.Time) bool {
	if d.Tranche == TrancheJunior {
		return true
	}
	return !now.Before(d.UnlocksAt())
}

// Remaining returns principal minus the already-withdrawn amount.
func (d *Deposit) Remaining() *big.Int {
	return new(big.Int).Sub(d.Principal, d.Withdrawn)
}

// Withdrawable returns the amount withdrawable at now: the remaining
// principal, or zero while a senior lock is in force.
func (d *Deposit) Withdrawable(now time.Time) *big.Int {
	if !d.Unlocked(now) {
		return big.NewInt(0)
	}
	return d.Remaining()
}

// TrancheBreakdown aggregates an account's deposits by tranche, each reduced
// by its own withdrawn amount.
type TrancheBreakdown struct {
	Junior       *big.Int `json:"junior"`
	Senior       *big.Int `json:"senior"`
	SeniorLocked *big.Int `json:"seniorLocked"`
	// Available is the total withdrawable now: junior plus unlocked senior.
	Available *big.Int `json:"available"`
}

// Allowances holds the settlement-token allowances the account has granted
// to the protocol contracts.
type Allowances struct {
	LendingPool *big.Int `json:"lendingPool"`
	Staking     *big.Int `json:"staking"`
}

// Snapshot is the account's full domain state at one instant, rebuilt from
// fresh ledger reads on every call and never cached across plans.
type Snapshot struct {
	Account     string     `json:"account"`
	TakenAt     time.Time  `json:"takenAt"`
	Tier        Tier       `json:"-"`
	TierName    string     `json:"tier"`
	TotalStaked *big.Int   `json:"totalStaked"`
	Stakes      []Stake    `json:"stakes"`
	Invoices    []Invoice  `json:"invoices"`
	Loans       []Loan     `json:"loans"`
	Deposits    []Deposit  `json:"deposits"`
	Balance     *big.Int   `json:"balance"`
	Allowances  Allowances `json:"allowances"`

	PoolLiquidity *big.Int         `json:"poolLiquidity"`
	TotalBorrowed *big.Int         `json:"totalBorrowed"`
	SafeCeiling   *big.Int         `json:"safeCeiling"`
	Utilization   float64          `json:"utilization"`
	Tranches      TrancheBreakdown `json:"tranches"`
}

// InvoiceByID returns the snapshot's invoice with the given id, or nil.
func (s *Snapshot) InvoiceByID(id *big.Int) *Invoice {
	if id == nil {
		return nil
	}
	for i := range s.Invoices {
		if s.Invoices[i].ID.Cmp(id) == 0 {
			return &s.Invoices[i]
		}
	}
	return nil
}

// LoanByInvoice returns the snapshot's loan backed by the given invoice, or nil.
func (s *Snapshot) LoanByInvoice(id *big.Int) *Loan {
	if id == nil {
		return nil
	}
	for i := range s.Loans {
		if s.Loans[i].InvoiceID.Cmp(id) == 0 {
			return &s.Loans[i]
		}
	}
	return nil
}

// =============================================================================
// Plans
// =============================================================================

// StepKind distinguishes permission grants from primary actions.
type StepKind string

// Step kinds.
const (
	StepApprove StepKind = "approve"
	StepAction  StepKind = "action"
)

// Step is one ledger write in a plan: the target contract, the method, and
// its payload. Every step must confirm before the next is submitted.
type Step struct {
	Contract    string                `json:"contract"`
	Method      string                `json:"method"`
	Params      []chain.ContractParam `json:"params"`
	Kind        StepKind              `json:"kind"`
	Description string                `json:"description"`
}

// Plan is an ordered sequence of dependent steps for one user action.
// Process-local: executed once, never persisted, never resumed.
type Plan struct {
	ID        string    `json:"id"`
	Action    Action    `json:"action"`
	Account   string    `json:"account"`
	Steps     []Step    `json:"steps"`
	CreatedAt time.Time `json:"createdAt"`
}

// =============================================================================
// Gateway Boundaries
// =============================================================================

// StakingSource reads the staking contract.
type StakingSource interface {
	GetStakes(ctx context.Context, account string) ([]chain.Stake, error)
}

// InvoiceSource reads the invoice registry contract.
type InvoiceSource interface {
	GetInvoice(ctx context.Context, id *big.Int) (*chain.Invoice, error)
	GetInvoiceIDs(ctx context.Context, owner string) ([]*big.Int, error)
	IsApproved(ctx context.Context, id *big.Int, spender string) (bool, error)
	TotalSupply(ctx context.Context) (*big.Int, error)
}

// PoolSource reads the lending pool contract.
type PoolSource interface {
	GetLoan(ctx context.Context, invoiceID *big.Int) (*chain.Loan, error)
	GetActiveLoanIDs(ctx context.Context, borrower string) ([]*big.Int, error)
	PoolLiquidity(ctx context.Context) (*big.Int, error)
	TotalBorrowed(ctx context.Context) (*big.Int, error)
	SafeLendingCeiling(ctx context.Context) (*big.Int, error)
	GetTrancheDeposits(ctx context.Context, account string) ([]chain.TrancheDeposit, error)
}

// TokenSource reads the settlement token contract.
type TokenSource interface {
	Allowance(ctx context.Context, owner, spender string) (*big.Int, error)
	BalanceOf(ctx context.Context, account string) (*big.Int, error)
}

// Gateway submits signed writes and waits for their durable outcome.
type Gateway interface {
	Submit(ctx context.Context, contract, method string, params []chain.ContractParam) (string, error)
	AwaitConfirmation(ctx context.Context, txHash string) (*chain.Receipt, error)
}

// AuditSink records submissions for diagnostics. Implementations must be
// safe to skip: executor correctness never depends on them.
type AuditSink interface {
	RecordSubmission(ctx context.Context, rec SubmissionRecord) error
}

// SubmissionRecord is one audit entry for a submitted (or rejected) step.
type SubmissionRecord struct {
	PlanID    string
	StepIndex int
	Account   string
	Contract  string
	Method    string
	TxHash    string
	Status    string
	Error     string
	At        time.Time
}
