package credit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lendlink-labs/creditdesk/internal/chain"
)

// ErrReadUnavailable marks a ledger read that failed for transport reasons.
// It is distinct from a legitimate empty or zero domain result; retrying is
// safe and idempotent.
var ErrReadUnavailable = errors.New("ledger read unavailable")

// =============================================================================
// Error Taxonomy
// =============================================================================

// Kind is the closed set of failure kinds surfaced to callers.
type Kind string

// Failure kinds.
const (
	KindReadUnavailable    Kind = "ReadUnavailable"
	KindValidationRejected Kind = "ValidationRejected"
	KindUserDeclined       Kind = "UserDeclined"
	KindTimeout            Kind = "Timeout"
	KindOperationReverted  Kind = "OperationReverted"
	KindOperationFailed    Kind = "OperationFailed"
)

// RevertReason refines KindOperationReverted when a known protocol rejection
// code matches.
type RevertReason string

// Known protocol rejection codes, plus the generic catch-all.
const (
	RevertInsufficientLiquidity RevertReason = "InsufficientLiquidity"
	RevertInvalidAmount         RevertReason = "InvalidAmount"
	RevertNotOwner              RevertReason = "NotOwner"
	RevertAlreadyExists         RevertReason = "AlreadyExists"
	RevertExpired               RevertReason = "Expired"
	RevertNotVerified           RevertReason = "NotVerified"
	RevertAlreadyCollateralized RevertReason = "AlreadyCollateralized"
	RevertNotMatured            RevertReason = "NotMatured"
	RevertStillLocked           RevertReason = "StillLocked"
	RevertGeneric               RevertReason = "Reverted"
)

// ClassifiedError is a failure normalized into the taxonomy. Message always
// preserves the raw failure text for diagnostics.
type ClassifiedError struct {
	Kind      Kind         `json:"kind"`
	StepIndex int          `json:"stepIndex"`
	Reason    RevertReason `json:"reason,omitempty"`
	Message   string       `json:"message"`
}

func (e *ClassifiedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// AtStep returns a copy of the error bound to a step index.
func (e *ClassifiedError) AtStep(i int) *ClassifiedError {
	out := *e
	out.StepIndex = i
	return &out
}

// =============================================================================
// Classifier
// =============================================================================

// revertPatterns maps known failure signatures to reason codes. First match
// wins; patterns are matched case-insensitively against the node exception.
var revertPatterns = []struct {
	reason  RevertReason
	needles []string
}{
	{RevertInsufficientLiquidity, []string{"insufficient liquidity", "insufficient pool"}},
	{RevertAlreadyCollateralized, []string{"already collateralized", "invoice in use"}},
	{RevertStillLocked, []string{"still locked", "lockup not elapsed"}},
	{RevertNotMatured, []string{"not matured", "before maturity"}},
	{RevertNotVerified, []string{"not verified", "unverified"}},
	{RevertAlreadyExists, []string{"already exists", "duplicate"}},
	{RevertNotOwner, []string{"not owner", "not the owner", "caller is not"}},
	{RevertExpired, []string{"expired", "past due"}},
	{RevertInvalidAmount, []string{"invalid amount", "amount must", "exceeds"}},
}

// ReasonFromException pattern-matches a node exception string to a known
// protocol rejection code, or RevertGeneric.
func ReasonFromException(exception string) RevertReason {
	msg := strings.ToLower(exception)
	for _, p := range revertPatterns {
		for _, needle := range p.needles {
			if strings.Contains(msg, needle) {
				return p.reason
			}
		}
	}
	return RevertGeneric
}

// Classify maps any gateway failure to the taxonomy. It is total: unknown
// shapes become KindOperationFailed with the raw message preserved, and a
// nil error classifies to nil.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, chain.ErrSignerDeclined):
		return &ClassifiedError{Kind: KindUserDeclined, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &ClassifiedError{Kind: KindTimeout, Message: err.Error()}
	case errors.Is(err, ErrReadUnavailable):
		return &ClassifiedError{Kind: KindReadUnavailable, Message: err.Error()}
	}

	var fault *chain.FaultError
	if errors.As(err, &fault) {
		return &ClassifiedError{
			Kind:    KindOperationReverted,
			Reason:  ReasonFromException(fault.Exception),
			Message: err.Error(),
		}
	}

	return &ClassifiedError{Kind: KindOperationFailed, Message: err.Error()}
}

// ClassifyReceipt maps a confirmed-but-reverted execution to the taxonomy.
// A successful receipt classifies to nil.
func ClassifyReceipt(r *chain.Receipt) *ClassifiedError {
	if r == nil || !r.Reverted() {
		return nil
	}
	return &ClassifiedError{
		Kind:    KindOperationReverted,
		Reason:  ReasonFromException(r.Exception),
		Message: fmt.Sprintf("tx %s reverted: %s", r.TxHash, r.Exception),
	}
}

// =============================================================================
// Validation Rejections
// =============================================================================

// RejectCode identifies which precondition failed.
type RejectCode string

// Rejection codes.
const (
	RejectInvoiceNotFound       RejectCode = "invoice_not_found"
	RejectNotOwner              RejectCode = "not_owner"
	RejectNotVerified           RejectCode = "not_verified"
	RejectExpired               RejectCode = "expired"
	RejectAlreadyCollateralized RejectCode = "already_collateralized"
	RejectExceedsCapacity       RejectCode = "exceeds_capacity"
	RejectInsufficientLiquidity RejectCode = "insufficient_liquidity"
	RejectStakeNotFound         RejectCode = "stake_not_found"
	RejectNotMatured            RejectCode = "not_matured"
	RejectDepositNotFound       RejectCode = "deposit_not_found"
	RejectStillLocked           RejectCode = "still_locked"
	RejectExceedsWithdrawable   RejectCode = "exceeds_withdrawable"
	RejectInvalidAmount         RejectCode = "invalid_amount"
	RejectInvalidDuration       RejectCode = "invalid_duration"
	RejectInsufficientBalance   RejectCode = "insufficient_balance"
	RejectNoActiveLoan          RejectCode = "no_active_loan"
	RejectAlreadyVerified       RejectCode = "already_verified"
	RejectAlreadyExists         RejectCode = "already_exists"
	RejectInvoiceBurned         RejectCode = "invoice_burned"
)

// Rejection is a failed precondition: pure data, never used as an exception.
// Detail names the unmet condition with the numeric values involved.
type Rejection struct {
	Code   RejectCode `json:"code"`
	Detail string     `json:"detail"`
	// Remaining is set for time-gated rejections (maturity, lockups).
	Remaining time.Duration `json:"remaining,omitempty"`
}

func rejectf(code RejectCode, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Detail: fmt.Sprintf(format, args...)}
}
