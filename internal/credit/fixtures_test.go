package credit_test

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/lendlink-labs/creditdesk/internal/chain"
	"github.com/lendlink-labs/creditdesk/internal/credit"
)

const (
	acct         = "0x14131211100f0e0d0c0b0a090807060504030201"
	otherAcct    = "0x24131211100f0e0d0c0b0a090807060504030202"
	poolHash     = "0xaaaa000000000000000000000000000000000001"
	stakingHash  = "0xaaaa000000000000000000000000000000000002"
	registryHash = "0xaaaa000000000000000000000000000000000003"
	tokenHash    = "0xaaaa000000000000000000000000000000000004"
)

var testNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func testTables() credit.Tables {
	return credit.Tables{
		Tiers: []credit.TierStep{
			{Tier: credit.TierBronze, MinStaked: big.NewInt(1_000)},
			{Tier: credit.TierSilver, MinStaked: big.NewInt(5_000)},
			{Tier: credit.TierGold, MinStaked: big.NewInt(20_000)},
			{Tier: credit.TierDiamond, MinStaked: big.NewInt(100_000)},
		},
		LTVBps: map[credit.Tier]int{
			credit.TierBronze:  6000,
			credit.TierSilver:  7000,
			credit.TierGold:    8000,
			credit.TierDiamond: 9000,
		},
		Rates: []credit.Rate{
			{Duration: 90 * 24 * time.Hour, APYBps: 800, MultiplierBps: 10000},
			{Duration: 180 * 24 * time.Hour, APYBps: 1200, MultiplierBps: 15000},
			{Duration: 365 * 24 * time.Hour, APYBps: 1800, MultiplierBps: 20000},
		},
	}
}

// verifiedInvoice is a borrowable fixture: verified, unburned, due in the
// future, not yet approved as collateral.
func verifiedInvoice(id int64, face int64) credit.Invoice {
	return credit.Invoice{
		ID:         big.NewInt(id),
		Supplier:   otherAcct,
		Owner:      acct,
		FaceAmount: big.NewInt(face),
		DueDate:    testNow.Add(60 * 24 * time.Hour),
		Verified:   true,
	}
}

// bronzeSnapshot is the baseline fixture: bronze tier, one verified invoice
// with face 100000, ample pool liquidity, zero allowances.
func bronzeSnapshot() *credit.Snapshot {
	return &credit.Snapshot{
		Account:     acct,
		TakenAt:     testNow,
		Tier:        credit.TierBronze,
		TierName:    "bronze",
		TotalStaked: big.NewInt(2_000),
		Stakes: []credit.Stake{
			{
				Index:     0,
				Principal: big.NewInt(2_000),
				StartTime: testNow.Add(-100 * 24 * time.Hour),
				Duration:  90 * 24 * time.Hour,
			},
		},
		Invoices:      []credit.Invoice{verifiedInvoice(3, 100_000)},
		Balance:       big.NewInt(500_000),
		PoolLiquidity: big.NewInt(750_000),
		TotalBorrowed: big.NewInt(250_000),
		SafeCeiling:   big.NewInt(900_000),
		Allowances: credit.Allowances{
			LendingPool: big.NewInt(0),
			Staking:     big.NewInt(0),
		},
	}
}

// =============================================================================
// Fake Ledger Sources
// =============================================================================

type fakeStaking struct {
	stakes []chain.Stake
	err    error
}

func (f *fakeStaking) GetStakes(ctx context.Context, account string) ([]chain.Stake, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stakes, nil
}

type fakeInvoices struct {
	invoices  map[int64]*chain.Invoice
	approved  map[int64]bool
	noIndex   bool // owner index method missing on the deployed contract
	idsErr    error
	detailErr map[int64]error // per-invoice GetInvoice failures
}

func (f *fakeInvoices) GetInvoice(ctx context.Context, id *big.Int) (*chain.Invoice, error) {
	if err := f.detailErr[id.Int64()]; err != nil {
		return nil, err
	}
	inv, ok := f.invoices[id.Int64()]
	if !ok {
		return nil, chain.ErrNotFound
	}
	return inv, nil
}

func (f *fakeInvoices) GetInvoiceIDs(ctx context.Context, owner string) ([]*big.Int, error) {
	if f.noIndex {
		return nil, &chain.FaultError{Method: "getInvoicesByOwner", Exception: "method not found"}
	}
	if f.idsErr != nil {
		return nil, f.idsErr
	}
	var ids []int64
	for id, inv := range f.invoices {
		if inv.Owner == owner {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*big.Int, len(ids))
	for i, id := range ids {
		out[i] = big.NewInt(id)
	}
	return out, nil
}

func (f *fakeInvoices) IsApproved(ctx context.Context, id *big.Int, spender string) (bool, error) {
	return f.approved[id.Int64()], nil
}

func (f *fakeInvoices) TotalSupply(ctx context.Context) (*big.Int, error) {
	return big.NewInt(int64(len(f.invoices))), nil
}

type fakePool struct {
	loans     map[int64]*chain.Loan
	activeIDs []*big.Int
	liquidity *big.Int
	borrowed  *big.Int
	ceiling   *big.Int
	deposits  []chain.TrancheDeposit
	err       error
	loanErr   map[int64]error // per-loan GetLoan failures
}

func (f *fakePool) GetLoan(ctx context.Context, invoiceID *big.Int) (*chain.Loan, error) {
	if err := f.loanErr[invoiceID.Int64()]; err != nil {
		return nil, err
	}
	loan, ok := f.loans[invoiceID.Int64()]
	if !ok {
		return nil, chain.ErrNotFound
	}
	return loan, nil
}

func (f *fakePool) GetActiveLoanIDs(ctx context.Context, borrower string) ([]*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.activeIDs, nil
}

func (f *fakePool) PoolLiquidity(ctx context.Context) (*big.Int, error) {
	return f.liquidity, nil
}

func (f *fakePool) TotalBorrowed(ctx context.Context) (*big.Int, error) {
	return f.borrowed, nil
}

func (f *fakePool) SafeLendingCeiling(ctx context.Context) (*big.Int, error) {
	return f.ceiling, nil
}

func (f *fakePool) GetTrancheDeposits(ctx context.Context, account string) ([]chain.TrancheDeposit, error) {
	return f.deposits, nil
}

type fakeToken struct {
	balance    *big.Int
	allowances map[string]*big.Int // spender -> amount
}

func (f *fakeToken) BalanceOf(ctx context.Context, account string) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeToken) Allowance(ctx context.Context, owner, spender string) (*big.Int, error) {
	if a, ok := f.allowances[spender]; ok {
		return a, nil
	}
	return big.NewInt(0), nil
}

// =============================================================================
// Fake Gateway / Audit
// =============================================================================

// stepOutcome scripts one submit/confirm round in the fake gateway.
type stepOutcome struct {
	submitErr  error
	confirmErr error
	receipt    *chain.Receipt
}

// fakeGateway records the interleaving of submissions and confirmations so
// tests can assert each step confirms before the next submits.
type fakeGateway struct {
	mu      sync.Mutex
	script  []stepOutcome
	trace   []string // "submit:<method>" / "await:<tx>"
	methods []string
	next    int
}

func (g *fakeGateway) Submit(ctx context.Context, contract, method string, params []chain.ContractParam) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.trace = append(g.trace, "submit:"+method)
	g.methods = append(g.methods, method)
	out := g.outcome()
	if out.submitErr != nil {
		g.next++
		return "", out.submitErr
	}
	return fmt.Sprintf("0xtx%d", g.next), nil
}

func (g *fakeGateway) AwaitConfirmation(ctx context.Context, txHash string) (*chain.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.trace = append(g.trace, "await:"+txHash)
	out := g.outcome()
	g.next++
	if out.confirmErr != nil {
		return nil, out.confirmErr
	}
	if out.receipt != nil {
		r := *out.receipt
		r.TxHash = txHash
		return &r, nil
	}
	return &chain.Receipt{TxHash: txHash, VMState: chain.VMStateHalt}, nil
}

func (g *fakeGateway) outcome() stepOutcome {
	if g.next < len(g.script) {
		return g.script[g.next]
	}
	return stepOutcome{}
}

type fakeAudit struct {
	mu      sync.Mutex
	records []credit.SubmissionRecord
	err     error
}

func (a *fakeAudit) RecordSubmission(ctx context.Context, rec credit.SubmissionRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.records = append(a.records, rec)
	return nil
}
