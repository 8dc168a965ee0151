package chain

import (
	"context"
	"fmt"
	"math/big"
)

// =============================================================================
// Lending Pool Contract Interface
// =============================================================================

// Tranche identifiers (matching the lending pool contract).
const (
	TrancheJunior uint8 = 0
	TrancheSenior uint8 = 1
)

// Loan is a loan record as stored on-chain, keyed by the backing invoice id.
type Loan struct {
	InvoiceID       *big.Int
	Borrower        string
	Principal       *big.Int
	DueDate         uint64
	AccruedInterest *big.Int
	Repaid          bool
	Liquidated      bool
}

// Active reports whether the loan is neither repaid nor liquidated.
func (l *Loan) Active() bool {
	return !l.Repaid && !l.Liquidated
}

// TrancheDeposit is an LP deposit record as stored on-chain.
type TrancheDeposit struct {
	Tranche         uint8
	Principal       *big.Int
	DepositTime     uint64
	LockupDuration  uint64
	Withdrawn       *big.Int
	AccruedInterest *big.Int
}

// LendingPool provides read access to the lending pool contract.
type LendingPool struct {
	client       *Client
	contractHash string
}

// NewLendingPool creates a lending pool interface.
func NewLendingPool(client *Client, contractHash string) *LendingPool {
	return &LendingPool{
		client:       client,
		contractHash: contractHash,
	}
}

// GetLoan returns the loan backed by the given invoice, or ErrNotFound when
// no loan was ever taken against it.
func (p *LendingPool) GetLoan(ctx context.Context, invoiceID *big.Int) (*Loan, error) {
	item, err := firstStackItem(ctx, p.client, p.contractHash, "getLoan", []ContractParam{NewIntegerParam(invoiceID)})
	if err != nil {
		return nil, err
	}
	if item.Type == "Null" {
		return nil, ErrNotFound
	}
	return ParseLoan(item)
}

// GetActiveLoanIDs returns the invoice ids backing the borrower's active loans.
func (p *LendingPool) GetActiveLoanIDs(ctx context.Context, borrower string) ([]*big.Int, error) {
	return InvokeArray(ctx, p.client, p.contractHash, "getActiveLoans", ParseInteger, NewHash160Param(borrower))
}

// PoolLiquidity returns the undeployed deposit balance available to lend.
func (p *LendingPool) PoolLiquidity(ctx context.Context) (*big.Int, error) {
	return InvokeInteger(ctx, p.client, p.contractHash, "poolLiquidity")
}

// TotalBorrowed returns the aggregate outstanding principal.
func (p *LendingPool) TotalBorrowed(ctx context.Context) (*big.Int, error) {
	return InvokeInteger(ctx, p.client, p.contractHash, "totalBorrowed")
}

// SafeLendingCeiling returns the advisory system-wide lending ceiling. The
// value is not enforced here; the contract enforces its own limits.
func (p *LendingPool) SafeLendingCeiling(ctx context.Context) (*big.Int, error) {
	return InvokeInteger(ctx, p.client, p.contractHash, "safeLendingCeiling")
}

// GetTrancheDeposits returns all LP deposits held by account, oldest first.
// Position order is stable and doubles as the withdraw index.
func (p *LendingPool) GetTrancheDeposits(ctx context.Context, account string) ([]TrancheDeposit, error) {
	return InvokeArray(ctx, p.client, p.contractHash, "getTrancheDeposits", ParseTrancheDeposit, NewHash160Param(account))
}

// ParseLoan decodes a loan record:
// [invoiceId, borrower, principal, dueDate, accruedInterest, repaid, liquidated].
func ParseLoan(item StackItem) (*Loan, error) {
	items, err := ParseArray(item)
	if err != nil {
		return nil, err
	}
	if len(items) < 7 {
		return nil, fmt.Errorf("expected at least 7 items, got %d", len(items))
	}

	invoiceID, err := ParseInteger(items[0])
	if err != nil {
		return nil, fmt.Errorf("parse invoiceId: %w", err)
	}
	borrower, err := ParseHash160(items[1])
	if err != nil {
		return nil, fmt.Errorf("parse borrower: %w", err)
	}
	principal, err := ParseInteger(items[2])
	if err != nil {
		return nil, fmt.Errorf("parse principal: %w", err)
	}
	dueDate, err := ParseInteger(items[3])
	if err != nil {
		return nil, fmt.Errorf("parse dueDate: %w", err)
	}
	interest, err := ParseInteger(items[4])
	if err != nil {
		return nil, fmt.Errorf("parse accruedInterest: %w", err)
	}
	repaid, err := ParseBoolean(items[5])
	if err != nil {
		return nil, fmt.Errorf("parse repaid: %w", err)
	}
	liquidated, err := ParseBoolean(items[6])
	if err != nil {
		return nil, fmt.Errorf("parse liquidated: %w", err)
	}

	return &Loan{
		InvoiceID:       invoiceID,
		Borrower:        borrower,
		Principal:       principal,
		DueDate:         dueDate.Uint64(),
		AccruedInterest: interest,
		Repaid:          repaid,
		Liquidated:      liquidated,
	}, nil
}

// ParseTrancheDeposit decodes a deposit record:
// [tranche, principal, depositTime, lockupDuration, withdrawn, accruedInterest].
func ParseTrancheDeposit(item StackItem) (TrancheDeposit, error) {
	items, err := ParseArray(item)
	if err != nil {
		return TrancheDeposit{}, err
	}
	if len(items) < 6 {
		return TrancheDeposit{}, fmt.Errorf("expected at least 6 items, got %d", len(items))
	}

	tranche, err := ParseInteger(items[0])
	if err != nil {
		return TrancheDeposit{}, fmt.Errorf("parse tranche: %w", err)
	}
	principal, err := ParseInteger(items[1])
	if err != nil {
		return TrancheDeposit{}, fmt.Errorf("parse principal: %w", err)
	}
	depositTime, err := ParseInteger(items[2])
	if err != nil {
		return TrancheDeposit{}, fmt.Errorf("parse depositTime: %w", err)
	}
	lockup, err := ParseInteger(items[3])
	if err != nil {
		return TrancheDeposit{}, fmt.Errorf("parse lockupDuration: %w", err)
	}
	withdrawn, err := ParseInteger(items[4])
	if err != nil {
		return TrancheDeposit{}, fmt.Errorf("parse withdrawn: %w", err)
	}
	interest, err := ParseInteger(items[5])
	if err != nil {
		return TrancheDeposit{}, fmt.Errorf("parse accruedInterest: %w", err)
	}

	return TrancheDeposit{
		Tranche:         uint8(tranche.Int64()),
		Principal:       principal,
		DepositTime:     depositTime.Uint64(),
		LockupDuration:  lockup.Uint64(),
		Withdrawn:       withdrawn,
		AccruedInterest: interest,
	}, nil
}
