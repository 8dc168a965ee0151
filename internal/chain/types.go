package chain

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// =============================================================================
// JSON-RPC Envelope
// =============================================================================

// RPCRequest is a JSON-RPC 2.0 request.
type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// =============================================================================
// Invocation Results
// =============================================================================

// InvokeResult is the result of an invokefunction call. When signers are
// supplied the node also returns the serialized unsigned transaction in Tx.
type InvokeResult struct {
	Script      string      `json:"script"`
	State       string      `json:"state"`
	GasConsumed string      `json:"gasconsumed"`
	Exception   string      `json:"exception,omitempty"`
	Stack       []StackItem `json:"stack"`
	Tx          string      `json:"tx,omitempty"`
}

// StackItem is a VM stack item. Value stays raw until a parser claims it.
type StackItem struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// ApplicationLog is the execution record of a confirmed transaction.
type ApplicationLog struct {
	TxID       string      `json:"txid"`
	Executions []Execution `json:"executions"`
}

// Execution is one execution within an application log.
type Execution struct {
	Trigger       string         `json:"trigger"`
	VMState       string         `json:"vmstate"`
	GasConsumed   string         `json:"gasconsumed"`
	Exception     string         `json:"exception,omitempty"`
	Stack         []StackItem    `json:"stack"`
	Notifications []Notification `json:"notifications"`
}

// Notification is a contract event emitted during execution.
type Notification struct {
	Contract  string    `json:"contract"`
	EventName string    `json:"eventname"`
	State     StackItem `json:"state"`
}

// VM states reported by the node.
const (
	VMStateHalt  = "HALT"
	VMStateFault = "FAULT"
)

// Receipt is the durably-known outcome of a submitted transaction.
type Receipt struct {
	TxHash      string
	VMState     string
	Exception   string
	GasConsumed string
}

// Reverted reports whether the confirmed execution faulted.
func (r *Receipt) Reverted() bool {
	return r.VMState != VMStateHalt
}

// =============================================================================
// Contract Parameters
// =============================================================================

// ContractParam is a typed invocation argument in node wire format.
type ContractParam struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// NewIntegerParam creates an Integer parameter.
func NewIntegerParam(v *big.Int) ContractParam {
	return ContractParam{Type: "Integer", Value: v.String()}
}

// NewStringParam creates a String parameter.
func NewStringParam(v string) ContractParam {
	return ContractParam{Type: "String", Value: v}
}

// NewBoolParam creates a Boolean parameter.
func NewBoolParam(v bool) ContractParam {
	return ContractParam{Type: "Boolean", Value: v}
}

// NewByteArrayParam creates a ByteArray parameter (hex-encoded).
func NewByteArrayParam(v []byte) ContractParam {
	return ContractParam{Type: "ByteArray", Value: fmt.Sprintf("%x", v)}
}

// NewHash160Param creates a Hash160 parameter from a 0x-prefixed script hash.
func NewHash160Param(v string) ContractParam {
	return ContractParam{Type: "Hash160", Value: v}
}

// NewArrayParam creates an Array parameter.
func NewArrayParam(items []ContractParam) ContractParam {
	return ContractParam{Type: "Array", Value: items}
}

// Signer scopes a transaction signature.
type Signer struct {
	Account string `json:"account"`
	Scopes  string `json:"scopes"`
}
