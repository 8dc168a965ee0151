package httpapi_test

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lendlink-labs/creditdesk/applications/httpapi"
	"github.com/lendlink-labs/creditdesk/internal/chain"
	"github.com/lendlink-labs/creditdesk/internal/credit"
)

const (
	testAcct     = "0x14131211100f0e0d0c0b0a090807060504030201"
	testPool     = "0xaaaa000000000000000000000000000000000001"
	testStaking  = "0xaaaa000000000000000000000000000000000002"
	testRegistry = "0xaaaa000000000000000000000000000000000003"
	testToken    = "0xaaaa000000000000000000000000000000000004"
)

// fakeLedger implements every read source over fixture data.
type fakeLedger struct {
	invoice  *chain.Invoice
	approved bool
}

func (f *fakeLedger) GetStakes(ctx context.Context, account string) ([]chain.Stake, error) {
	return []chain.Stake{{Principal: big.NewInt(25_000), StartTime: uint64(time.Now().Add(-100 * 24 * time.Hour).Unix()), Duration: 90 * 24 * 3600}}, nil
}

func (f *fakeLedger) GetInvoice(ctx context.Context, id *big.Int) (*chain.Invoice, error) {
	if f.invoice != nil && f.invoice.ID.Cmp(id) == 0 {
		return f.invoice, nil
	}
	return nil, chain.ErrNotFound
}

func (f *fakeLedger) GetInvoiceIDs(ctx context.Context, owner string) ([]*big.Int, error) {
	if f.invoice == nil || f.invoice.Owner != owner {
		return nil, nil
	}
	return []*big.Int{f.invoice.ID}, nil
}

func (f *fakeLedger) IsApproved(ctx context.Context, id *big.Int, spender string) (bool, error) {
	return f.approved, nil
}

func (f *fakeLedger) TotalSupply(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (f *fakeLedger) GetLoan(ctx context.Context, invoiceID *big.Int) (*chain.Loan, error) {
	return nil, chain.ErrNotFound
}

func (f *fakeLedger) GetActiveLoanIDs(ctx context.Context, borrower string) ([]*big.Int, error) {
	return nil, nil
}

func (f *fakeLedger) PoolLiquidity(ctx context.Context) (*big.Int, error) {
	return big.NewInt(750_000), nil
}

func (f *fakeLedger) TotalBorrowed(ctx context.Context) (*big.Int, error) {
	return big.NewInt(250_000), nil
}

func (f *fakeLedger) SafeLendingCeiling(ctx context.Context) (*big.Int, error) {
	return big.NewInt(900_000), nil
}

func (f *fakeLedger) GetTrancheDeposits(ctx context.Context, account string) ([]chain.TrancheDeposit, error) {
	return nil, nil
}

func (f *fakeLedger) BalanceOf(ctx context.Context, account string) (*big.Int, error) {
	return big.NewInt(500_000), nil
}

func (f *fakeLedger) Allowance(ctx context.Context, owner, spender string) (*big.Int, error) {
	return big.NewInt(0), nil
}

// fakeGateway confirms every submission instantly.
type fakeGateway struct{ submissions int }

func (g *fakeGateway) Submit(ctx context.Context, contract, method string, params []chain.ContractParam) (string, error) {
	g.submissions++
	return fmt.Sprintf("0xtx%d", g.submissions), nil
}

func (g *fakeGateway) AwaitConfirmation(ctx context.Context, txHash string) (*chain.Receipt, error) {
	return &chain.Receipt{TxHash: txHash, VMState: chain.VMStateHalt}, nil
}

func testTables() credit.Tables {
	return credit.Tables{
		Tiers: []credit.TierStep{
			{Tier: credit.TierBronze, MinStaked: big.NewInt(1_000)},
			{Tier: credit.TierGold, MinStaked: big.NewInt(20_000)},
		},
		LTVBps: map[credit.Tier]int{
			credit.TierBronze: 6000,
			credit.TierGold:   8000,
		},
		Rates: []credit.Rate{
			{Duration: 90 * 24 * time.Hour, APYBps: 800, MultiplierBps: 10000},
		},
	}
}

func newTestServer(t *testing.T, ledger *fakeLedger) *httptest.Server {
	t.Helper()
	tables := testTables()
	reader := credit.NewReader(credit.ReaderConfig{
		Staking:     ledger,
		Invoices:    ledger,
		Pool:        ledger,
		Token:       ledger,
		PoolHash:    testPool,
		StakingHash: testStaking,
		Tables:      tables,
	})
	executor := credit.NewExecutor(credit.ExecutorConfig{
		Gateway:        &fakeGateway{},
		ConfirmTimeout: time.Second,
	})
	svc := credit.NewService(reader, credit.NewValidator(tables), credit.NewPlanner(credit.Addresses{
		Staking:         testStaking,
		InvoiceRegistry: testRegistry,
		LendingPool:     testPool,
		Token:           testToken,
	}), executor, nil)

	server := httptest.NewServer(httpapi.NewServer(svc, nil, nil).Handler())
	t.Cleanup(server.Close)
	return server
}

func borrowableInvoice() *chain.Invoice {
	return &chain.Invoice{
		ID:         big.NewInt(3),
		Supplier:   testAcct,
		Owner:      testAcct,
		FaceAmount: big.NewInt(100_000),
		DueDate:    uint64(time.Now().Add(60 * 24 * time.Hour).Unix()),
		Verified:   true,
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestHealth(t *testing.T) {
	server := newTestServer(t, &fakeLedger{})

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if gjson.Get(body, "status").String() != "ok" {
		t.Errorf("body = %s", body)
	}
}

func TestGetSnapshot(t *testing.T) {
	server := newTestServer(t, &fakeLedger{invoice: borrowableInvoice()})

	resp, err := http.Get(server.URL + "/api/v1/accounts/" + testAcct + "/snapshot")
	if err != nil {
		t.Fatalf("GET snapshot error = %v", err)
	}
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	if got := gjson.Get(body, "tier").String(); got != "gold" {
		t.Errorf("tier = %q, want gold", got)
	}
	if got := gjson.Get(body, "totalStaked").String(); got != "25000" {
		t.Errorf("totalStaked = %s", got)
	}
	if got := gjson.Get(body, "invoices.#").Int(); got != 1 {
		t.Errorf("invoice count = %d, want 1", got)
	}
	if got := gjson.Get(body, "invoices.0.faceAmount").String(); got != "100000" {
		t.Errorf("faceAmount = %s", got)
	}
}

func TestPostPlan_TwoSteps(t *testing.T) {
	server := newTestServer(t, &fakeLedger{invoice: borrowableInvoice()})

	payload := fmt.Sprintf(`{"kind":"borrow","account":%q,"amount":50000,"invoiceId":3}`, testAcct)
	resp, err := http.Post(server.URL+"/api/v1/plans", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /plans error = %v", err)
	}
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	if got := gjson.Get(body, "plan.steps.#").Int(); got != 2 {
		t.Fatalf("steps = %d, want 2; body = %s", got, body)
	}
	if got := gjson.Get(body, "plan.steps.0.kind").String(); got != "approve" {
		t.Errorf("first step kind = %q", got)
	}
	if got := gjson.Get(body, "plan.steps.1.method").String(); got != "borrow" {
		t.Errorf("second step method = %q", got)
	}
}

func TestPostPlan_Rejection(t *testing.T) {
	inv := borrowableInvoice()
	inv.Verified = false
	server := newTestServer(t, &fakeLedger{invoice: inv})

	payload := fmt.Sprintf(`{"kind":"borrow","account":%q,"amount":50000,"invoiceId":3}`, testAcct)
	resp, err := http.Post(server.URL+"/api/v1/plans", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /plans error = %v", err)
	}
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422; body = %s", resp.StatusCode, body)
	}
	if got := gjson.Get(body, "rejection.code").String(); got != "not_verified" {
		t.Errorf("rejection code = %q, body = %s", got, body)
	}
}

func TestPostPlan_BadRequest(t *testing.T) {
	server := newTestServer(t, &fakeLedger{})

	resp, err := http.Post(server.URL+"/api/v1/plans", "application/json", strings.NewReader(`{"kind":"borrow"}`))
	if err != nil {
		t.Fatalf("POST /plans error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPostExecute_StreamsEvents(t *testing.T) {
	server := newTestServer(t, &fakeLedger{invoice: borrowableInvoice()})

	payload := fmt.Sprintf(`{"kind":"borrow","account":%q,"amount":50000,"invoiceId":3}`, testAcct)
	resp, err := http.Post(server.URL+"/api/v1/plans/execute", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /plans/execute error = %v", err)
	}
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("content type = %s", ct)
	}

	lines := strings.Split(strings.TrimSpace(body), "\n")
	// Plan header plus 3 events per step plus the terminal event.
	if len(lines) != 8 {
		t.Fatalf("got %d lines, want 8: %s", len(lines), body)
	}
	if gjson.Get(lines[0], "plan.id").String() == "" {
		t.Errorf("first line should carry the plan: %s", lines[0])
	}
	last := lines[len(lines)-1]
	if got := gjson.Get(last, "state").String(); got != "completed" {
		t.Errorf("terminal state = %q", got)
	}
	if got := gjson.Get(last, "stepIndex").Int(); got != -1 {
		t.Errorf("terminal stepIndex = %d, want -1", got)
	}
}

func TestAuditEndpoint_NotConfigured(t *testing.T) {
	server := newTestServer(t, &fakeLedger{})

	resp, err := http.Get(server.URL + "/api/v1/accounts/" + testAcct + "/audit")
	if err != nil {
		t.Fatalf("GET audit error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t, &fakeLedger{})

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "creditdesk_") {
		t.Error("metrics output should contain creditdesk collectors")
	}
}
