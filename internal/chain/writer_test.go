package chain_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lendlink-labs/creditdesk/internal/chain"
)

// 32-byte key used only in tests.
const testPrivateKey = "7d128a6d096f0c14c3a25a2b0c41cf79661bfcb4a8cc95aaaea28bde4d732344"

func TestAccountFromPrivateKey(t *testing.T) {
	account, err := chain.AccountFromPrivateKey(testPrivateKey)
	if err != nil {
		t.Fatalf("AccountFromPrivateKey() error = %v", err)
	}
	if account.Address == "" {
		t.Error("address should not be empty")
	}
}

func TestAccountFromPrivateKey_Invalid(t *testing.T) {
	if _, err := chain.AccountFromPrivateKey("not-hex"); err == nil {
		t.Error("AccountFromPrivateKey() should reject invalid hex")
	}
}

func TestWriterSubmit_SimulationFault(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Write(makeRPCResponse(chain.InvokeResult{
			State:     "FAULT",
			Exception: "insufficient liquidity",
		}))
	}
	client := newTestClient(t, handler)
	writer, err := chain.NewWriter(client, testPrivateKey, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}

	_, err = writer.Submit(context.Background(), "0x1234", "borrow", nil)
	var fault *chain.FaultError
	if !errors.As(err, &fault) {
		t.Fatalf("Submit() error = %v, want FaultError", err)
	}
	if fault.Exception != "insufficient liquidity" {
		t.Errorf("exception = %q", fault.Exception)
	}
}

func TestWriterSubmit_NoTransactionReturned(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Write(makeRPCResponse(haltResult(boolItem(true))))
	}
	client := newTestClient(t, handler)
	writer, err := chain.NewWriter(client, testPrivateKey, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}

	if _, err := writer.Submit(context.Background(), "0x1234", "stake", nil); err == nil {
		t.Error("Submit() should fail when the node returns no transaction")
	}
}

func TestWaitForApplicationLog_RetriesUnknownTransaction(t *testing.T) {
	var calls atomic.Int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Write(makeRPCError(-100, "Unknown transaction"))
			return
		}
		w.Write(makeRPCResponse(chain.ApplicationLog{
			TxID: "0xabc",
			Executions: []chain.Execution{
				{Trigger: "Application", VMState: "HALT", GasConsumed: "997"},
			},
		}))
	}
	client := newTestClient(t, handler)

	log, err := client.WaitForApplicationLog(context.Background(), "0xabc", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForApplicationLog() error = %v", err)
	}
	if log.Executions[0].VMState != "HALT" {
		t.Errorf("vmstate = %s, want HALT", log.Executions[0].VMState)
	}
	if calls.Load() < 3 {
		t.Errorf("expected at least 3 polls, got %d", calls.Load())
	}
}

func TestWaitForApplicationLog_ContextDeadline(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Write(makeRPCError(-100, "Unknown transaction"))
	}
	client := newTestClient(t, handler)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.WaitForApplicationLog(ctx, "0xabc", 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded", err)
	}
}

func TestWaitForApplicationLog_NonTransientError(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Write(makeRPCError(-32602, "Invalid params"))
	}
	client := newTestClient(t, handler)

	_, err := client.WaitForApplicationLog(context.Background(), "0xabc", 5*time.Millisecond)
	var rpcErr *chain.RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error = %v, want RPCError", err)
	}
}

func TestAwaitConfirmation_RevertedReceipt(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Write(makeRPCResponse(chain.ApplicationLog{
			TxID: "0xdef",
			Executions: []chain.Execution{
				{Trigger: "Application", VMState: "FAULT", Exception: "loan not matured"},
			},
		}))
	}
	client := newTestClient(t, handler)
	writer, err := chain.NewWriter(client, testPrivateKey, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}

	receipt, err := writer.AwaitConfirmation(context.Background(), "0xdef")
	if err != nil {
		t.Fatalf("AwaitConfirmation() error = %v", err)
	}
	if !receipt.Reverted() {
		t.Error("receipt should report reverted")
	}
	if receipt.Exception != "loan not matured" {
		t.Errorf("exception = %q", receipt.Exception)
	}
}

func TestSendRawTransaction(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		var req chain.RPCRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Method != "sendrawtransaction" {
			t.Errorf("method = %s, want sendrawtransaction", req.Method)
		}
		w.Write(makeRPCResponse(map[string]string{"hash": "0xfeed"}))
	}
	client := newTestClient(t, handler)

	hash, err := client.SendRawTransaction(context.Background(), "AAA=")
	if err != nil {
		t.Fatalf("SendRawTransaction() error = %v", err)
	}
	if hash != "0xfeed" {
		t.Errorf("hash = %s, want 0xfeed", hash)
	}
}
