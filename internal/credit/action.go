package credit

import (
	"fmt"
	"math/big"
	"time"
)

// ActionKind names a user-level domain action.
type ActionKind string

// Supported actions.
const (
	ActionStake           ActionKind = "stake"
	ActionUnstake         ActionKind = "unstake"
	ActionBorrow          ActionKind = "borrow"
	ActionRepay           ActionKind = "repay"
	ActionDepositTranche  ActionKind = "deposit_tranche"
	ActionWithdrawTranche ActionKind = "withdraw_tranche"
	ActionMintInvoice     ActionKind = "mint_invoice"
	ActionVerifyInvoice   ActionKind = "verify_invoice"
)

// Action is a requested domain operation. Only the fields relevant to Kind
// are consulted.
type Action struct {
	Kind    ActionKind `json:"kind"`
	Account string     `json:"account"`

	// Amount: stake principal, borrow principal, tranche deposit or
	// withdrawal amount.
	Amount *big.Int `json:"amount,omitempty"`

	// InvoiceID: borrow, repay, verify.
	InvoiceID *big.Int `json:"invoiceId,omitempty"`

	// StakeIndex: unstake. DepositIndex: withdraw_tranche.
	StakeIndex   int `json:"stakeIndex,omitempty"`
	DepositIndex int `json:"depositIndex,omitempty"`

	// DurationDays: stake. LockupDays: senior tranche deposits.
	DurationDays int `json:"durationDays,omitempty"`
	LockupDays   int `json:"lockupDays,omitempty"`

	// Tranche: deposit_tranche.
	Tranche Tranche `json:"tranche,omitempty"`

	// Mint fields.
	FaceAmount *big.Int  `json:"faceAmount,omitempty"`
	DueDate    time.Time `json:"dueDate,omitempty"`
	DocRef     string    `json:"docRef,omitempty"`
}

// Describe returns a short human description of the action.
func (a Action) Describe() string {
	switch a.Kind {
	case ActionStake:
		return fmt.Sprintf("stake %s for %d days", a.Amount, a.DurationDays)
	case ActionUnstake:
		return fmt.Sprintf("unstake position %d", a.StakeIndex)
	case ActionBorrow:
		return fmt.Sprintf("borrow %s against invoice %s", a.Amount, a.InvoiceID)
	case ActionRepay:
		return fmt.Sprintf("repay loan on invoice %s", a.InvoiceID)
	case ActionDepositTranche:
		return fmt.Sprintf("deposit %s into %s tranche", a.Amount, a.Tranche)
	case ActionWithdrawTranche:
		return fmt.Sprintf("withdraw %s from deposit %d", a.Amount, a.DepositIndex)
	case ActionMintInvoice:
		return fmt.Sprintf("mint invoice for %s", a.FaceAmount)
	case ActionVerifyInvoice:
		return fmt.Sprintf("verify invoice %s", a.InvoiceID)
	default:
		return string(a.Kind)
	}
}
