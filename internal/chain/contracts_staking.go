package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
)

// ErrNotFound means the contract holds no entity for the queried key. It is a
// legitimate empty result, distinct from transport failure.
var ErrNotFound = errors.New("not found")

// =============================================================================
// Staking Contract Interface
// =============================================================================

// Stake is a staking position record as stored on-chain. Times are unix
// seconds; Duration is the lock length in seconds.
type Stake struct {
	Principal *big.Int
	StartTime uint64
	Duration  uint64
}

// StakingContract provides read access to the staking contract.
type StakingContract struct {
	client       *Client
	contractHash string
}

// NewStakingContract creates a staking contract interface.
func NewStakingContract(client *Client, contractHash string) *StakingContract {
	return &StakingContract{
		client:       client,
		contractHash: contractHash,
	}
}

// GetStakes returns all staking positions held by account, oldest first.
// Position order is stable and doubles as the unstake index.
func (s *StakingContract) GetStakes(ctx context.Context, account string) ([]Stake, error) {
	return InvokeArray(ctx, s.client, s.contractHash, "getStakes", ParseStake, NewHash160Param(account))
}

// GetStakeCount returns the number of positions held by account.
func (s *StakingContract) GetStakeCount(ctx context.Context, account string) (*big.Int, error) {
	return InvokeInteger(ctx, s.client, s.contractHash, "getStakeCount", NewHash160Param(account))
}

// ParseStake decodes a stake record: [principal, startTime, duration].
func ParseStake(item StackItem) (Stake, error) {
	items, err := ParseArray(item)
	if err != nil {
		return Stake{}, err
	}
	if len(items) < 3 {
		return Stake{}, fmt.Errorf("expected at least 3 items, got %d", len(items))
	}

	principal, err := ParseInteger(items[0])
	if err != nil {
		return Stake{}, fmt.Errorf("parse principal: %w", err)
	}
	startTime, err := ParseInteger(items[1])
	if err != nil {
		return Stake{}, fmt.Errorf("parse startTime: %w", err)
	}
	duration, err := ParseInteger(items[2])
	if err != nil {
		return Stake{}, fmt.Errorf("parse duration: %w", err)
	}

	return Stake{
		Principal: principal,
		StartTime: startTime.Uint64(),
		Duration:  duration.Uint64(),
	}, nil
}
