package chain_test

import (
	"encoding/json"
	"testing"

	"github.com/lendlink-labs/creditdesk/internal/chain"
)

func intItem(v string) chain.StackItem {
	return chain.StackItem{Type: "Integer", Value: json.RawMessage(`"` + v + `"`)}
}

func boolItem(v bool) chain.StackItem {
	if v {
		return chain.StackItem{Type: "Boolean", Value: json.RawMessage(`true`)}
	}
	return chain.StackItem{Type: "Boolean", Value: json.RawMessage(`false`)}
}

func byteStringItem(hexValue string) chain.StackItem {
	return chain.StackItem{Type: "ByteString", Value: json.RawMessage(`"` + hexValue + `"`)}
}

func nullItem() chain.StackItem {
	return chain.StackItem{Type: "Null", Value: json.RawMessage(`null`)}
}

func arrayItem(t *testing.T, items ...chain.StackItem) chain.StackItem {
	t.Helper()
	raw, err := json.Marshal(items)
	if err != nil {
		t.Fatalf("marshal array items: %v", err)
	}
	return chain.StackItem{Type: "Array", Value: raw}
}

func TestParseInteger(t *testing.T) {
	n, err := chain.ParseInteger(intItem("12345"))
	if err != nil {
		t.Fatalf("ParseInteger() error = %v", err)
	}
	if n.Int64() != 12345 {
		t.Errorf("got %s, want 12345", n)
	}
}

func TestParseInteger_WrongType(t *testing.T) {
	if _, err := chain.ParseInteger(boolItem(true)); err == nil {
		t.Error("ParseInteger() should reject a Boolean item")
	}
}

func TestParseInteger_Negative(t *testing.T) {
	n, err := chain.ParseInteger(intItem("-42"))
	if err != nil {
		t.Fatalf("ParseInteger() error = %v", err)
	}
	if n.Int64() != -42 {
		t.Errorf("got %s, want -42", n)
	}
}

func TestParseBoolean(t *testing.T) {
	v, err := chain.ParseBoolean(boolItem(true))
	if err != nil {
		t.Fatalf("ParseBoolean() error = %v", err)
	}
	if !v {
		t.Error("got false, want true")
	}
}

func TestParseString(t *testing.T) {
	// "INV-2024" in hex
	s, err := chain.ParseString(byteStringItem("494e562d32303234"))
	if err != nil {
		t.Fatalf("ParseString() error = %v", err)
	}
	if s != "INV-2024" {
		t.Errorf("got %q, want %q", s, "INV-2024")
	}
}

func TestParseString_Null(t *testing.T) {
	s, err := chain.ParseString(nullItem())
	if err != nil {
		t.Fatalf("ParseString() error = %v", err)
	}
	if s != "" {
		t.Errorf("got %q, want empty", s)
	}
}

func TestParseHash160_ReversesByteOrder(t *testing.T) {
	got, err := chain.ParseHash160(byteStringItem("0102030405060708090a0b0c0d0e0f1011121314"))
	if err != nil {
		t.Fatalf("ParseHash160() error = %v", err)
	}
	want := "0x14131211100f0e0d0c0b0a090807060504030201"
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestParseArray_WrongType(t *testing.T) {
	if _, err := chain.ParseArray(intItem("1")); err == nil {
		t.Error("ParseArray() should reject an Integer item")
	}
}

func TestParseStake(t *testing.T) {
	item := arrayItem(t, intItem("5000"), intItem("1700000000"), intItem("7776000"))
	stake, err := chain.ParseStake(item)
	if err != nil {
		t.Fatalf("ParseStake() error = %v", err)
	}
	if stake.Principal.Int64() != 5000 {
		t.Errorf("principal = %s, want 5000", stake.Principal)
	}
	if stake.StartTime != 1700000000 {
		t.Errorf("startTime = %d, want 1700000000", stake.StartTime)
	}
	if stake.Duration != 7776000 {
		t.Errorf("duration = %d, want 7776000", stake.Duration)
	}
}

func TestParseStake_TooShort(t *testing.T) {
	if _, err := chain.ParseStake(arrayItem(t, intItem("5000"))); err == nil {
		t.Error("ParseStake() should reject a truncated record")
	}
}

func TestParseInvoice(t *testing.T) {
	item := arrayItem(t,
		intItem("7"),
		byteStringItem("0102030405060708090a0b0c0d0e0f1011121314"),
		byteStringItem("14131211100f0e0d0c0b0a090807060504030201"),
		intItem("100000"),
		intItem("1760000000"),
		boolItem(true),
		nullItem(),
		boolItem(false),
		boolItem(false),
	)
	inv, err := chain.ParseInvoice(item)
	if err != nil {
		t.Fatalf("ParseInvoice() error = %v", err)
	}
	if inv.ID.Int64() != 7 {
		t.Errorf("id = %s, want 7", inv.ID)
	}
	if inv.FaceAmount.Int64() != 100000 {
		t.Errorf("faceAmount = %s, want 100000", inv.FaceAmount)
	}
	if !inv.Verified {
		t.Error("verified should be true")
	}
	if inv.DocRef != "" {
		t.Errorf("docRef = %q, want empty for null", inv.DocRef)
	}
	if inv.Burned || inv.Collateralized {
		t.Error("burned and collateralized should be false")
	}
}

func TestParseLoan(t *testing.T) {
	item := arrayItem(t,
		intItem("7"),
		byteStringItem("0102030405060708090a0b0c0d0e0f1011121314"),
		intItem("60000"),
		intItem("1760000000"),
		intItem("1200"),
		boolItem(false),
		boolItem(false),
	)
	loan, err := chain.ParseLoan(item)
	if err != nil {
		t.Fatalf("ParseLoan() error = %v", err)
	}
	if loan.Principal.Int64() != 60000 {
		t.Errorf("principal = %s, want 60000", loan.Principal)
	}
	if loan.AccruedInterest.Int64() != 1200 {
		t.Errorf("accruedInterest = %s, want 1200", loan.AccruedInterest)
	}
	if !loan.Active() {
		t.Error("loan should be active")
	}
}

func TestParseTrancheDeposit(t *testing.T) {
	item := arrayItem(t,
		intItem("1"),
		intItem("25000"),
		intItem("1700000000"),
		intItem("2592000"),
		intItem("5000"),
		intItem("300"),
	)
	dep, err := chain.ParseTrancheDeposit(item)
	if err != nil {
		t.Fatalf("ParseTrancheDeposit() error = %v", err)
	}
	if dep.Tranche != chain.TrancheSenior {
		t.Errorf("tranche = %d, want senior", dep.Tranche)
	}
	if dep.Withdrawn.Int64() != 5000 {
		t.Errorf("withdrawn = %s, want 5000", dep.Withdrawn)
	}
}
