package chain

import (
	"context"
	"math/big"
)

// =============================================================================
// Settlement Token Contract Interface
// =============================================================================

// Token provides read access to the settlement token contract.
type Token struct {
	client       *Client
	contractHash string
}

// NewToken creates a token contract interface.
func NewToken(client *Client, contractHash string) *Token {
	return &Token{
		client:       client,
		contractHash: contractHash,
	}
}

// BalanceOf returns the token balance of account.
func (t *Token) BalanceOf(ctx context.Context, account string) (*big.Int, error) {
	return InvokeInteger(ctx, t.client, t.contractHash, "balanceOf", NewHash160Param(account))
}

// Allowance returns how much spender may transfer on owner's behalf.
func (t *Token) Allowance(ctx context.Context, owner, spender string) (*big.Int, error) {
	return InvokeInteger(ctx, t.client, t.contractHash, "allowance", NewHash160Param(owner), NewHash160Param(spender))
}

// Decimals returns the token's decimal places.
func (t *Token) Decimals(ctx context.Context) (*big.Int, error) {
	return InvokeInteger(ctx, t.client, t.contractHash, "decimals")
}

// Symbol returns the token symbol.
func (t *Token) Symbol(ctx context.Context) (string, error) {
	return InvokeString(ctx, t.client, t.contractHash, "symbol")
}
