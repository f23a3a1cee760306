// Package chain provides blockchain transaction verification and broadcast
// for payment settlement.
package chain

import (
	"context"
	"errors"
)

var (
	// ErrProviderUnavailable is returned when the chain RPC call itself
	// failed (timeout, outage). Transient: safe to retry on the next poll,
	// never advances the settlement state machine.
	ErrProviderUnavailable = errors.New("chain provider unavailable")

	// ErrUnsupportedProvider is returned for providers this verifier cannot
	// settle.
	ErrUnsupportedProvider = errors.New("unsupported payment provider")

	// ErrInvalidTransaction is returned when a submitted transaction cannot
	// be decoded at all.
	ErrInvalidTransaction = errors.New("invalid transaction payload")
)

// VerificationResult is the ephemeral outcome of a chain lookup. It is never
// persisted; it only decides the next state transition.
type VerificationResult struct {
	Found         bool
	Succeeded     bool
	Confirmations uint64

	// Split-transfer detail. Amounts are raw on-chain units.
	MintMatch          bool
	PayerMatch         bool
	BirdLegMatch       bool
	PlatformLegMatch   bool
	BirdAmountSeen     uint64
	PlatformAmountSeen uint64

	// Reason is a specific, loggable explanation for any unmet condition.
	Reason string
}

// SplitExpectation describes the two transfer legs a support transaction must
// carry. Amounts are minor units of the intent currency; the verifier converts
// them to raw on-chain units at full integer precision.
//
// PayerWallet is optional. When set, it must be a transaction signer and own
// both legs; when empty, the verifier binds to the transaction's fee payer.
type SplitExpectation struct {
	Provider       string
	Currency       string
	PayerWallet    string
	BirdWallet     string
	BirdAmount     int64
	PlatformWallet string
	PlatformAmount int64
}

// Verifier reports whether a transaction exists on chain, succeeded, how many
// confirmations it has, and (for split payments) whether the expected
// transfers are present with exact amounts and the expected signer.
//
// A verification failure for a given transaction hash is permanent: the hash
// is burned and a new transaction must be created to retry.
type Verifier interface {
	// VerifyTransaction locates the transaction on the provider's network.
	VerifyTransaction(ctx context.Context, txHash, provider string) (*VerificationResult, error)

	// VerifySplitTransfer additionally confirms the two expected transfer
	// legs, the asset mint, and the transaction signer.
	VerifySplitTransfer(ctx context.Context, txHash string, expect SplitExpectation) (*VerificationResult, error)
}

// Broadcaster submits signed transactions to the chain.
type Broadcaster interface {
	// Signature derives the transaction signature from a signed transaction
	// without broadcasting it.
	Signature(signedTx string) (string, error)

	// Broadcast sends the signed transaction to the network and returns its
	// signature. Broadcasting an already-landed transaction is harmless: the
	// signature dedupes it on chain.
	Broadcast(ctx context.Context, signedTx string) (string, error)
}
