package chain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
)

// =============================================================================
// Stack Item Parsers
// =============================================================================

// ParseArray extracts the child items of an Array or Struct stack item.
func ParseArray(item StackItem) ([]StackItem, error) {
	if item.Type != "Array" && item.Type != "Struct" {
		return nil, fmt.Errorf("expected Array or Struct, got %s", item.Type)
	}

	var items []StackItem
	if err := json.Unmarshal(item.Value, &items); err != nil {
		return nil, fmt.Errorf("unmarshal array: %w", err)
	}
	return items, nil
}

// ParseInteger parses an Integer stack item.
func ParseInteger(item StackItem) (*big.Int, error) {
	if item.Type != "Integer" {
		return nil, fmt.Errorf("unexpected type: %s", item.Type)
	}
	var value string
	if err := json.Unmarshal(item.Value, &value); err != nil {
		return nil, err
	}
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer value %q", value)
	}
	return n, nil
}

// ParseBoolean parses a Boolean stack item.
func ParseBoolean(item StackItem) (bool, error) {
	if item.Type != "Boolean" {
		return false, fmt.Errorf("unexpected type: %s", item.Type)
	}
	var value bool
	if err := json.Unmarshal(item.Value, &value); err != nil {
		return false, err
	}
	return value, nil
}

// ParseByteArray parses a ByteString or Buffer stack item. Null parses to nil.
func ParseByteArray(item StackItem) ([]byte, error) {
	if item.Type == "ByteString" || item.Type == "Buffer" {
		var value string
		if err := json.Unmarshal(item.Value, &value); err != nil {
			return nil, err
		}
		return hex.DecodeString(value)
	}
	if item.Type == "Null" {
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected type: %s", item.Type)
}

// ParseString parses a ByteString or Buffer stack item as UTF-8 text. Null
// parses to the empty string.
func ParseString(item StackItem) (string, error) {
	if item.Type == "Null" {
		return "", nil
	}
	b, err := ParseByteArray(item)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseHash160 parses a script hash item into 0x-prefixed big-endian form.
func ParseHash160(item StackItem) (string, error) {
	if item.Type != "ByteString" && item.Type != "Buffer" {
		return "", fmt.Errorf("unexpected type: %s", item.Type)
	}
	var value string
	if err := json.Unmarshal(item.Value, &value); err != nil {
		return "", err
	}
	raw, err := hex.DecodeString(value)
	if err != nil {
		return "", err
	}
	// Node returns little-endian bytes; reverse for display form.
	reversed := make([]byte, len(raw))
	for i, b := range raw {
		reversed[len(raw)-1-i] = b
	}
	return "0x" + hex.EncodeToString(reversed), nil
}
