package credit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/lendlink-labs/creditdesk/internal/chain"
	"github.com/lendlink-labs/creditdesk/internal/config"
	"github.com/lendlink-labs/creditdesk/internal/logging"
)

// =============================================================================
// Rate / Tier Tables
// =============================================================================

// TierStep maps a minimum total staked amount to a tier.
type TierStep struct {
	Tier      Tier
	MinStaked *big.Int
}

// Rate is the APY and point multiplier for one stake duration.
type Rate struct {
	Duration      time.Duration
	APYBps        int
	MultiplierBps int
}

// Tables is the immutable tier/LTV/rate configuration injected into the
// reader and planner. Built once at startup (or from fixtures in tests).
type Tables struct {
	Tiers  []TierStep
	LTVBps map[Tier]int
	Rates  []Rate
}

// TablesFromConfig converts the loaded configuration into domain tables.
func TablesFromConfig(cfg *config.Config) (Tables, error) {
	t := Tables{LTVBps: make(map[Tier]int)}
	for _, step := range cfg.Tiers {
		tier, ok := TierFromName(step.Tier)
		if !ok {
			return Tables{}, fmt.Errorf("unknown tier name %q", step.Tier)
		}
		t.Tiers = append(t.Tiers, TierStep{Tier: tier, MinStaked: big.NewInt(step.MinStaked)})
	}
	sort.Slice(t.Tiers, func(i, j int) bool {
		return t.Tiers[i].MinStaked.Cmp(t.Tiers[j].MinStaked) < 0
	})
	for name, bps := range cfg.LTVBps {
		tier, ok := TierFromName(name)
		if !ok {
			return Tables{}, fmt.Errorf("unknown tier name %q in ltv table", name)
		}
		t.LTVBps[tier] = bps
	}
	for _, r := range cfg.Rates {
		t.Rates = append(t.Rates, Rate{
			Duration:      time.Duration(r.DurationDays) * 24 * time.Hour,
			APYBps:        r.APYBps,
			MultiplierBps: r.MultiplierBps,
		})
	}
	sort.Slice(t.Rates, func(i, j int) bool { return t.Rates[i].Duration < t.Rates[j].Duration })
	return t, nil
}

// RateFor returns the rate terms for a stake duration: the longest configured
// duration not exceeding it, or zero terms for durations below the shortest.
func (t Tables) RateFor(duration time.Duration) Rate {
	var best Rate
	for _, r := range t.Rates {
		if r.Duration <= duration {
			best = r
		}
	}
	return best
}

// =============================================================================
// Domain State Reader
// =============================================================================

// ReaderConfig wires a Reader.
type ReaderConfig struct {
	Staking  StakingSource
	Invoices InvoiceSource
	Pool     PoolSource
	Token    TokenSource

	// PoolHash and StakingHash identify the allowance spenders.
	PoolHash    string
	StakingHash string

	Tables     Tables
	ScanWindow int
	Logger     *logging.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Reader derives typed domain state from ledger reads. All reads are fresh;
// nothing is cached between calls.
type Reader struct {
	staking  StakingSource
	invoices InvoiceSource
	pool     PoolSource
	token    TokenSource

	poolHash    string
	stakingHash string

	tables     Tables
	scanWindow int
	log        *logging.Logger
	now        func() time.Time
}

// NewReader creates a Reader.
func NewReader(cfg ReaderConfig) *Reader {
	if cfg.ScanWindow <= 0 {
		cfg.ScanWindow = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reader{
		staking:     cfg.Staking,
		invoices:    cfg.Invoices,
		pool:        cfg.Pool,
		token:       cfg.Token,
		poolHash:    cfg.PoolHash,
		stakingHash: cfg.StakingHash,
		tables:      cfg.Tables,
		scanWindow:  cfg.ScanWindow,
		log:         cfg.Logger,
		now:         cfg.Now,
	}
}

// TierOf returns the collateral tier for a total staked amount.
func (r *Reader) TierOf(totalStaked *big.Int) Tier {
	tier := TierNone
	for _, step := range r.tables.Tiers {
		if totalStaked.Cmp(step.MinStaked) >= 0 {
			tier = step.Tier
		}
	}
	return tier
}

// CapacityFor returns the amount the tier allows to be borrowed against the
// invoice: faceAmount * ltv. Zero for TierNone, unverified or burned
// invoices; never negative, never an error.
func CapacityFor(tables Tables, tier Tier, inv *Invoice) *big.Int {
	if inv == nil || tier == TierNone || !inv.Verified || inv.Burned {
		return big.NewInt(0)
	}
	bps, ok := tables.LTVBps[tier]
	if !ok || bps <= 0 {
		return big.NewInt(0)
	}
	capacity := new(big.Int).Mul(inv.FaceAmount, big.NewInt(int64(bps)))
	return capacity.Div(capacity, big.NewInt(10000))
}

// Capacity returns the borrowing capacity per the reader's tables.
func (r *Reader) Capacity(tier Tier, inv *Invoice) *big.Int {
	return CapacityFor(r.tables, tier, inv)
}

// SafeCeiling fetches the advisory system-wide lending ceiling, fresh.
func (r *Reader) SafeCeiling(ctx context.Context) (*big.Int, error) {
	v, err := r.pool.SafeLendingCeiling(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: safe ceiling: %v", ErrReadUnavailable, err)
	}
	return v, nil
}

// Snapshot rebuilds the account's full domain state from fresh reads.
// Failures of individual invoice/loan detail reads are logged and the item
// omitted; failures of top-level reads surface as ErrReadUnavailable.
func (r *Reader) Snapshot(ctx context.Context, account string) (*Snapshot, error) {
	now := r.now()
	snap := &Snapshot{
		Account: account,
		TakenAt: now,
	}

	rawStakes, err := r.staking.GetStakes(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("%w: stakes for %s: %v", ErrReadUnavailable, account, err)
	}
	snap.TotalStaked = big.NewInt(0)
	for i, rs := range rawStakes {
		rate := r.tables.RateFor(time.Duration(rs.Duration) * time.Second)
		snap.Stakes = append(snap.Stakes, Stake{
			Index:         i,
			Principal:     rs.Principal,
			StartTime:     time.Unix(int64(rs.StartTime), 0).UTC(),
			Duration:      time.Duration(rs.Duration) * time.Second,
			APYBps:        rate.APYBps,
			MultiplierBps: rate.MultiplierBps,
		})
		snap.TotalStaked.Add(snap.TotalStaked, rs.Principal)
	}
	snap.Tier = r.TierOf(snap.TotalStaked)
	snap.TierName = snap.Tier.String()

	invoices, err := r.invoicesFor(ctx, account)
	if err != nil {
		return nil, err
	}
	snap.Invoices = invoices

	loans, err := r.loansFor(ctx, account)
	if err != nil {
		return nil, err
	}
	snap.Loans = loans

	rawDeposits, err := r.pool.GetTrancheDeposits(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("%w: deposits for %s: %v", ErrReadUnavailable, account, err)
	}
	for i, rd := range rawDeposits {
		snap.Deposits = append(snap.Deposits, Deposit{
			Index:           i,
			Tranche:         Tranche(rd.Tranche),
			Principal:       rd.Principal,
			DepositTime:     time.Unix(int64(rd.DepositTime), 0).UTC(),
			LockupDuration:  time.Duration(rd.LockupDuration) * time.Second,
			Withdrawn:       rd.Withdrawn,
			AccruedInterest: rd.AccruedInterest,
		})
	}
	snap.Tranches = r.TrancheBreakdown(snap.Deposits, now)

	if snap.PoolLiquidity, err = r.pool.PoolLiquidity(ctx); err != nil {
		return nil, fmt.Errorf("%w: pool liquidity: %v", ErrReadUnavailable, err)
	}
	if snap.TotalBorrowed, err = r.pool.TotalBorrowed(ctx); err != nil {
		return nil, fmt.Errorf("%w: total borrowed: %v", ErrReadUnavailable, err)
	}
	if snap.SafeCeiling, err = r.SafeCeiling(ctx); err != nil {
		return nil, err
	}
	snap.Utilization = Utilization(snap.TotalBorrowed, snap.PoolLiquidity)

	if snap.Balance, err = r.token.BalanceOf(ctx, account); err != nil {
		return nil, fmt.Errorf("%w: token balance: %v", ErrReadUnavailable, err)
	}
	if snap.Allowances.LendingPool, err = r.token.Allowance(ctx, account, r.poolHash); err != nil {
		return nil, fmt.Errorf("%w: pool allowance: %v", ErrReadUnavailable, err)
	}
	if snap.Allowances.Staking, err = r.token.Allowance(ctx, account, r.stakingHash); err != nil {
		return nil, fmt.Errorf("%w: staking allowance: %v", ErrReadUnavailable, err)
	}

	return snap, nil
}

// Utilization returns borrowed / (borrowed + liquidity), the share of total
// pool capacity currently deployed. Display and validation only.
func Utilization(borrowed, liquidity *big.Int) float64 {
	total := new(big.Int).Add(borrowed, liquidity)
	if total.Sign() <= 0 {
		return 0
	}
	b, _ := new(big.Float).SetInt(borrowed).Float64()
	t, _ := new(big.Float).SetInt(total).Float64()
	return b / t
}

// TrancheBreakdown aggregates deposits by tranche, each reduced by its own
// withdrawn amount.
func (r *Reader) TrancheBreakdown(deposits []Deposit, now time.Time) TrancheBreakdown {
	out := TrancheBreakdown{
		Junior:       big.NewInt(0),
		Senior:       big.NewInt(0),
		SeniorLocked: big.NewInt(0),
		Available:    big.NewInt(0),
	}
	for i := range deposits {
		d := &deposits[i]
		remaining := d.Remaining()
		switch d.Tranche {
		case TrancheSenior:
			out.Senior.Add(out.Senior, remaining)
			if !d.Unlocked(now) {
				out.SeniorLocked.Add(out.SeniorLocked, remaining)
			} else {
				out.Available.Add(out.Available, remaining)
			}
		default:
			out.Junior.Add(out.Junior, remaining)
			out.Available.Add(out.Available, remaining)
		}
	}
	return out
}

// Invoice fetches one invoice by id regardless of owner, for operations that
// target invoices the acting account does not hold (verification). Returns
// (nil, nil) when the registry has no such invoice.
func (r *Reader) Invoice(ctx context.Context, id *big.Int) (*Invoice, error) {
	inv, err := r.invoiceDetail(ctx, id)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: invoice %s: %v", ErrReadUnavailable, id, err)
	}
	return inv, nil
}

// invoicesFor lists the account's invoices via the registry owner index,
// falling back to a bounded id scan when the index method is unavailable.
func (r *Reader) invoicesFor(ctx context.Context, account string) ([]Invoice, error) {
	ids, err := r.invoices.GetInvoiceIDs(ctx, account)
	if err != nil {
		if !chain.IsMethodNotFound(err) {
			return nil, fmt.Errorf("%w: invoice ids for %s: %v", ErrReadUnavailable, account, err)
		}
		r.log.Warn(ctx, "Owner index unavailable, scanning invoice ids", map[string]interface{}{
			"account": account,
			"window":  r.scanWindow,
		})
		return r.scanInvoices(ctx, account)
	}

	out := make([]Invoice, 0, len(ids))
	for _, id := range ids {
		inv, err := r.invoiceDetail(ctx, id)
		if err != nil {
			r.log.Warn(ctx, "Skipping invoice with failed detail read", map[string]interface{}{
				"invoice": id.String(),
				"error":   err.Error(),
			})
			continue
		}
		out = append(out, *inv)
	}
	return out, nil
}

// scanInvoices probes invoice ids 1..scanWindow, keeping those owned by the
// account. Degraded mode only; the window bound is never exceeded.
func (r *Reader) scanInvoices(ctx context.Context, account string) ([]Invoice, error) {
	var out []Invoice
	for id := int64(1); id <= int64(r.scanWindow); id++ {
		inv, err := r.invoiceDetail(ctx, big.NewInt(id))
		if err != nil {
			if errors.Is(err, chain.ErrNotFound) {
				continue
			}
			r.log.Debug(ctx, "Scan probe failed", map[string]interface{}{
				"invoice": id,
				"error":   err.Error(),
			})
			continue
		}
		if inv.Owner == account {
			out = append(out, *inv)
		}
	}
	return out, nil
}

// invoiceDetail fetches one invoice and its collateral-approval state.
func (r *Reader) invoiceDetail(ctx context.Context, id *big.Int) (*Invoice, error) {
	raw, err := r.invoices.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	approved, err := r.invoices.IsApproved(ctx, id, r.poolHash)
	if err != nil {
		r.log.Debug(ctx, "Approval read failed, assuming not approved", map[string]interface{}{
			"invoice": id.String(),
			"error":   err.Error(),
		})
		approved = false
	}
	return &Invoice{
		ID:                 raw.ID,
		Supplier:           raw.Supplier,
		Owner:              raw.Owner,
		FaceAmount:         raw.FaceAmount,
		DueDate:            time.Unix(int64(raw.DueDate), 0).UTC(),
		Verified:           raw.Verified,
		DocRef:             raw.DocRef,
		Burned:             raw.Burned,
		Collateralized:     raw.Collateralized,
		CollateralApproved: approved,
	}, nil
}

// loansFor fetches the account's active loans, tolerating per-loan failures:
// a failed detail read is logged and the loan omitted, the rest are kept.
func (r *Reader) loansFor(ctx context.Context, account string) ([]Loan, error) {
	ids, err := r.pool.GetActiveLoanIDs(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("%w: active loans for %s: %v", ErrReadUnavailable, account, err)
	}

	out := make([]Loan, 0, len(ids))
	for _, id := range ids {
		raw, err := r.pool.GetLoan(ctx, id)
		if err != nil {
			r.log.Warn(ctx, "Skipping loan with failed detail read", map[string]interface{}{
				"invoice": id.String(),
				"error":   err.Error(),
			})
			continue
		}
		out = append(out, Loan{
			InvoiceID:       raw.InvoiceID,
			Borrower:        raw.Borrower,
			Principal:       raw.Principal,
			DueDate:         time.Unix(int64(raw.DueDate), 0).UTC(),
			AccruedInterest: raw.AccruedInterest,
			Repaid:          raw.Repaid,
			Liquidated:      raw.Liquidated,
		})
	}
	return out, nil
}
