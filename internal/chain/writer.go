package chain

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/config/netmode"
	"github.com/nspcc-dev/neo-go/pkg/core/transaction"
	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/wallet"
)

// ErrSignerDeclined means the signing step refused the transaction before
// anything was broadcast. No ledger side effect exists when it is returned.
var ErrSignerDeclined = errors.New("signer declined the transaction")

// AccountFromPrivateKey builds a signing account from a hex-encoded private
// key (no 0x prefix).
func AccountFromPrivateKey(privateKeyHex string) (*wallet.Account, error) {
	priv, err := keys.NewPrivateKeyFromHex(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return wallet.NewAccountFromPrivateKey(priv), nil
}

// Writer submits signed contract invocations and waits for their outcome.
// One Writer serves many plans; the node's per-account sequencing orders
// concurrent submissions.
type Writer struct {
	client       *Client
	account      *wallet.Account
	pollInterval time.Duration
}

// NewWriter creates a Writer signing with the given private key.
func NewWriter(client *Client, privateKeyHex string, pollInterval time.Duration) (*Writer, error) {
	account, err := AccountFromPrivateKey(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Writer{
		client:       client,
		account:      account,
		pollInterval: pollInterval,
	}, nil
}

// Address returns the signing account's address.
func (w *Writer) Address() string {
	return w.account.Address
}

// ScriptHash returns the signing account's script hash in 0x big-endian form.
func (w *Writer) ScriptHash() string {
	return "0x" + w.account.ScriptHash().StringBE()
}

// Submit builds, signs and broadcasts an invocation of contract.method.
// The returned transaction hash is the only synchronous guarantee; the
// operation's eventual success is settled by AwaitConfirmation.
func (w *Writer) Submit(ctx context.Context, contract, method string, params []ContractParam) (string, error) {
	signers := []Signer{{Account: w.ScriptHash(), Scopes: "CalledByEntry"}}

	res, err := w.client.InvokeFunctionWithSigners(ctx, contract, method, params, signers)
	if err != nil {
		return "", fmt.Errorf("simulate %s: %w", method, err)
	}
	// A simulation fault means the submission is doomed; surface the
	// protocol exception instead of spending gas on it.
	if res.State != VMStateHalt {
		return "", &FaultError{Method: method, Exception: res.Exception}
	}
	if res.Tx == "" {
		return "", fmt.Errorf("node returned no transaction for %s", method)
	}

	raw, err := base64.StdEncoding.DecodeString(res.Tx)
	if err != nil {
		return "", fmt.Errorf("decode unsigned tx: %w", err)
	}
	tx, err := transaction.NewTransactionFromBytes(raw)
	if err != nil {
		return "", fmt.Errorf("parse unsigned tx: %w", err)
	}

	if err := w.account.SignTx(netmode.Magic(w.client.NetworkID()), tx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignerDeclined, err)
	}

	txB64 := base64.StdEncoding.EncodeToString(tx.Bytes())
	hash, err := w.client.SendRawTransaction(ctx, txB64)
	if err != nil {
		return "", fmt.Errorf("broadcast %s: %w", method, err)
	}
	return hash, nil
}

// AwaitConfirmation blocks until the transaction's outcome is durably known
// or ctx expires. A ctx deadline cancels the wait, not the transaction.
func (w *Writer) AwaitConfirmation(ctx context.Context, txHash string) (*Receipt, error) {
	log, err := w.client.WaitForApplicationLog(ctx, txHash, w.pollInterval)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{TxHash: txHash}
	if len(log.Executions) > 0 {
		exec := log.Executions[0]
		receipt.VMState = exec.VMState
		receipt.Exception = exec.Exception
		receipt.GasConsumed = exec.GasConsumed
	}
	return receipt, nil
}
