package chain

import (
	"context"
	"fmt"
	"math/big"
)

// =============================================================================
// Invoice Registry Contract Interface
// =============================================================================

// Invoice is an invoice token record as stored on-chain. DueDate is unix
// seconds.
type Invoice struct {
	ID             *big.Int
	Supplier       string
	Owner          string
	FaceAmount     *big.Int
	DueDate        uint64
	Verified       bool
	DocRef         string
	Burned         bool
	Collateralized bool
}

// InvoiceRegistry provides read access to the invoice registry contract.
type InvoiceRegistry struct {
	client       *Client
	contractHash string
}

// NewInvoiceRegistry creates an invoice registry interface.
func NewInvoiceRegistry(client *Client, contractHash string) *InvoiceRegistry {
	return &InvoiceRegistry{
		client:       client,
		contractHash: contractHash,
	}
}

// GetInvoice returns the invoice with the given id, or ErrNotFound.
func (r *InvoiceRegistry) GetInvoice(ctx context.Context, id *big.Int) (*Invoice, error) {
	item, err := firstStackItem(ctx, r.client, r.contractHash, "getInvoice", []ContractParam{NewIntegerParam(id)})
	if err != nil {
		return nil, err
	}
	if item.Type == "Null" {
		return nil, ErrNotFound
	}
	return ParseInvoice(item)
}

// GetInvoiceIDs returns the ids of all invoices currently owned by owner.
// Older registry deployments do not expose this index; callers detect that
// with IsMethodNotFound and fall back to scanning.
func (r *InvoiceRegistry) GetInvoiceIDs(ctx context.Context, owner string) ([]*big.Int, error) {
	return InvokeArray(ctx, r.client, r.contractHash, "getInvoicesByOwner", ParseInteger, NewHash160Param(owner))
}

// IsApproved reports whether spender holds transfer permission for the
// invoice with the given id.
func (r *InvoiceRegistry) IsApproved(ctx context.Context, id *big.Int, spender string) (bool, error) {
	return InvokeBool(ctx, r.client, r.contractHash, "isApproved", NewIntegerParam(id), NewHash160Param(spender))
}

// TotalSupply returns the number of invoices ever minted.
func (r *InvoiceRegistry) TotalSupply(ctx context.Context) (*big.Int, error) {
	return InvokeInteger(ctx, r.client, r.contractHash, "totalSupply")
}

// ParseInvoice decodes an invoice record:
// [id, supplier, owner, faceAmount, dueDate, verified, docRef, burned, collateralized].
func ParseInvoice(item StackItem) (*Invoice, error) {
	items, err := ParseArray(item)
	if err != nil {
		return nil, err
	}
	if len(items) < 9 {
		return nil, fmt.Errorf("expected at least 9 items, got %d", len(items))
	}

	id, err := ParseInteger(items[0])
	if err != nil {
		return nil, fmt.Errorf("parse id: %w", err)
	}
	supplier, err := ParseHash160(items[1])
	if err != nil {
		return nil, fmt.Errorf("parse supplier: %w", err)
	}
	owner, err := ParseHash160(items[2])
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	faceAmount, err := ParseInteger(items[3])
	if err != nil {
		return nil, fmt.Errorf("parse faceAmount: %w", err)
	}
	dueDate, err := ParseInteger(items[4])
	if err != nil {
		return nil, fmt.Errorf("parse dueDate: %w", err)
	}
	verified, err := ParseBoolean(items[5])
	if err != nil {
		return nil, fmt.Errorf("parse verified: %w", err)
	}
	// docRef can be null for invoices minted without a document
	docRef, _ := ParseString(items[6])
	burned, err := ParseBoolean(items[7])
	if err != nil {
		return nil, fmt.Errorf("parse burned: %w", err)
	}
	collateralized, err := ParseBoolean(items[8])
	if err != nil {
		return nil, fmt.Errorf("parse collateralized: %w", err)
	}

	return &Invoice{
		ID:             id,
		Supplier:       supplier,
		Owner:          owner,
		FaceAmount:     faceAmount,
		DueDate:        dueDate.Uint64(),
		Verified:       verified,
		DocRef:         docRef,
		Burned:         burned,
		Collateralized: collateralized,
	}, nil
}
