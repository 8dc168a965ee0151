package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// DefaultPollInterval is the default cadence for application-log polling.
const DefaultPollInterval = 2 * time.Second

// FaultError is a read or execution that the VM rejected (FAULT state). The
// node's exception string carries the protocol's revert reason.
type FaultError struct {
	Method    string
	Exception string
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s faulted: %s", e.Method, e.Exception)
}

// IsMethodNotFound reports whether err means the contract does not expose the
// invoked method. Used to select the degraded lookup strategy.
func IsMethodNotFound(err error) bool {
	var fe *FaultError
	if !errors.As(err, &fe) {
		return false
	}
	msg := strings.ToLower(fe.Exception)
	return strings.Contains(msg, "method not found") ||
		strings.Contains(msg, "doesn't exist") ||
		strings.Contains(msg, "does not exist")
}

// InvokeFunction invokes a contract method read-only.
func (c *Client) InvokeFunction(ctx context.Context, scriptHash, method string, params []ContractParam) (*InvokeResult, error) {
	if params == nil {
		params = []ContractParam{}
	}

	result, err := c.Call(ctx, "invokefunction", []any{scriptHash, method, params})
	if err != nil {
		return nil, err
	}

	var invokeResult InvokeResult
	if err := json.Unmarshal(result, &invokeResult); err != nil {
		return nil, fmt.Errorf("unmarshal invoke result: %w", err)
	}
	return &invokeResult, nil
}

// InvokeFunctionWithSigners invokes with signers attached so the node builds
// the corresponding unsigned transaction.
func (c *Client) InvokeFunctionWithSigners(ctx context.Context, scriptHash, method string, params []ContractParam, signers []Signer) (*InvokeResult, error) {
	if params == nil {
		params = []ContractParam{}
	}

	result, err := c.Call(ctx, "invokefunction", []any{scriptHash, method, params, signers})
	if err != nil {
		return nil, err
	}

	var invokeResult InvokeResult
	if err := json.Unmarshal(result, &invokeResult); err != nil {
		return nil, fmt.Errorf("unmarshal invoke result: %w", err)
	}
	return &invokeResult, nil
}

// SendRawTransaction broadcasts a signed transaction and returns its hash.
func (c *Client) SendRawTransaction(ctx context.Context, txB64 string) (string, error) {
	result, err := c.Call(ctx, "sendrawtransaction", []any{txB64})
	if err != nil {
		return "", err
	}

	var response struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(result, &response); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	return response.Hash, nil
}

// WaitForApplicationLog polls for a transaction's application log until it is
// available or ctx is done. A still-unknown transaction is transient and
// retried; any other node error aborts the wait.
func (c *Client) WaitForApplicationLog(ctx context.Context, txHash string, pollInterval time.Duration) (*ApplicationLog, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			log, err := c.GetApplicationLog(ctx, txHash)
			if err != nil {
				if isNotFoundError(err) {
					continue
				}
				return nil, err
			}
			return log, nil
		}
	}
}

// =============================================================================
// Typed Read Helpers
// =============================================================================

// firstStackItem runs a read-only invocation and returns its first stack item.
func firstStackItem(ctx context.Context, c *Client, scriptHash, method string, params []ContractParam) (StackItem, error) {
	res, err := c.InvokeFunction(ctx, scriptHash, method, params)
	if err != nil {
		return StackItem{}, err
	}
	if res.State != VMStateHalt {
		return StackItem{}, &FaultError{Method: method, Exception: res.Exception}
	}
	if len(res.Stack) == 0 {
		return StackItem{}, fmt.Errorf("%s returned empty stack", method)
	}
	return res.Stack[0], nil
}

// InvokeStruct invokes a read-only method and decodes the first stack item
// through parse.
func InvokeStruct[T any](ctx context.Context, c *Client, scriptHash, method string, parse func(StackItem) (T, error), params ...ContractParam) (T, error) {
	var zero T
	item, err := firstStackItem(ctx, c, scriptHash, method, params)
	if err != nil {
		return zero, err
	}
	return parse(item)
}

// InvokeInteger invokes a read-only method returning an integer.
func InvokeInteger(ctx context.Context, c *Client, scriptHash, method string, params ...ContractParam) (*big.Int, error) {
	return InvokeStruct(ctx, c, scriptHash, method, ParseInteger, params...)
}

// InvokeBool invokes a read-only method returning a boolean.
func InvokeBool(ctx context.Context, c *Client, scriptHash, method string, params ...ContractParam) (bool, error) {
	return InvokeStruct(ctx, c, scriptHash, method, ParseBoolean, params...)
}

// InvokeString invokes a read-only method returning a string.
func InvokeString(ctx context.Context, c *Client, scriptHash, method string, params ...ContractParam) (string, error) {
	return InvokeStruct(ctx, c, scriptHash, method, ParseString, params...)
}

// InvokeArray invokes a read-only method returning an array of items, each
// decoded through parse. A Null result decodes to an empty slice.
func InvokeArray[T any](ctx context.Context, c *Client, scriptHash, method string, parse func(StackItem) (T, error), params ...ContractParam) ([]T, error) {
	item, err := firstStackItem(ctx, c, scriptHash, method, params)
	if err != nil {
		return nil, err
	}
	if item.Type == "Null" {
		return nil, nil
	}
	items, err := ParseArray(item)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	for i, it := range items {
		v, err := parse(it)
		if err != nil {
			return nil, fmt.Errorf("%s item %d: %w", method, i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
