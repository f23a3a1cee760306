// Package chain provides the Solana implementation of the verifier and
// broadcaster.
package chain

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// FinalizedConfirmations is the confirmation count reported for rooted
// transactions, which the RPC no longer counts individually.
const FinalizedConfirmations = 32

// SPL token instruction discriminators.
const (
	tokenInstructionTransfer        = 3
	tokenInstructionTransferChecked = 12
)

// systemInstructionTransfer is the system program transfer index.
const systemInstructionTransfer = 2

// RPCClient is the subset of the Solana RPC client the verifier needs.
// *rpc.Client satisfies it; tests substitute a mock.
type RPCClient interface {
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
}

// SolanaConfig holds the chain parameters of the verifier.
type SolanaConfig struct {
	USDCMint string // mint address of the USDC token
}

// SolanaVerifier verifies and broadcasts transactions against a Solana RPC
// node. It implements both Verifier and Broadcaster.
type SolanaVerifier struct {
	client RPCClient
	cfg    SolanaConfig
	logger *slog.Logger
}

// NewSolanaVerifier creates a new SolanaVerifier.
func NewSolanaVerifier(client RPCClient, cfg SolanaConfig, logger *slog.Logger) *SolanaVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SolanaVerifier{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// NewSolanaRPC creates the production RPC client for the given endpoint.
func NewSolanaRPC(endpoint string) RPCClient {
	return rpc.New(endpoint)
}

// VerifyTransaction locates the transaction and reports its status and
// confirmation count.
func (v *SolanaVerifier) VerifyTransaction(ctx context.Context, txHash, provider string) (*VerificationResult, error) {
	if provider != "solana-usdc" && provider != "solana-sol" {
		return nil, ErrUnsupportedProvider
	}

	sig, err := solana.SignatureFromBase58(txHash)
	if err != nil {
		return &VerificationResult{Reason: "malformed transaction signature"}, nil
	}

	statuses, err := v.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		v.logger.WarnContext(ctx, "signature status lookup failed", "tx_hash", txHash, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return &VerificationResult{Reason: "transaction not found on chain"}, nil
	}

	status := statuses.Value[0]
	result := &VerificationResult{
		Found:         true,
		Succeeded:     status.Err == nil,
		Confirmations: confirmationCount(status),
	}
	if status.Err != nil {
		result.Reason = fmt.Sprintf("transaction failed on chain: %v", status.Err)
	}
	return result, nil
}

// VerifySplitTransfer locates the transaction and independently confirms both
// expected transfer legs, the asset mint, and the signer. Any unmet condition
// yields Succeeded=false with a specific reason; partial matches never pass.
func (v *SolanaVerifier) VerifySplitTransfer(ctx context.Context, txHash string, expect SplitExpectation) (*VerificationResult, error) {
	base, err := v.VerifyTransaction(ctx, txHash, expect.Provider)
	if err != nil {
		return nil, err
	}
	if !base.Found || !base.Succeeded {
		return base, nil
	}

	sig, _ := solana.SignatureFromBase58(txHash)
	maxVersion := uint64(0)
	out, err := v.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return &VerificationResult{Reason: "transaction not found on chain"}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if out == nil || out.Transaction == nil {
		return &VerificationResult{Reason: "transaction not found on chain"}, nil
	}
	if out.Meta != nil && out.Meta.Err != nil {
		base.Succeeded = false
		base.Reason = fmt.Sprintf("transaction failed on chain: %v", out.Meta.Err)
		return base, nil
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		base.Succeeded = false
		base.Reason = "transaction could not be decoded"
		return base, nil
	}

	return v.matchSplit(base, tx, expect)
}

// matchSplit checks the decoded transaction against the split expectation.
func (v *SolanaVerifier) matchSplit(base *VerificationResult, tx *solana.Transaction, expect SplitExpectation) (*VerificationResult, error) {
	result := *base
	result.Succeeded = false

	var payer solana.PublicKey
	if expect.PayerWallet == "" {
		// No pinned payer: bind to the fee payer, the first required signer.
		// Both legs must still be owned by that one signer below.
		if len(tx.Message.AccountKeys) == 0 {
			result.Reason = "transaction carries no account keys"
			return &result, nil
		}
		payer = tx.Message.AccountKeys[0]
	} else {
		var err error
		payer, err = solana.PublicKeyFromBase58(expect.PayerWallet)
		if err != nil {
			result.Reason = "malformed payer wallet"
			return &result, nil
		}
		if !tx.Message.IsSigner(payer) {
			result.Reason = "payer is not a transaction signer"
			return &result, nil
		}
	}
	result.PayerMatch = true

	decimals, err := TokenDecimalsFor(expect.Provider)
	if err != nil {
		return nil, err
	}
	birdRaw, err := RawUnits(expect.BirdAmount, decimals)
	if err != nil {
		return nil, err
	}
	platformRaw, err := RawUnits(expect.PlatformAmount, decimals)
	if err != nil {
		return nil, err
	}

	legs, mintOK, reason := v.collectTransferLegs(tx, expect, payer)
	if reason != "" {
		result.Reason = reason
		return &result, nil
	}
	result.MintMatch = mintOK

	// The transaction must carry exactly the two expected legs.
	if len(legs) != 2 {
		result.Reason = fmt.Sprintf("expected 2 transfer instructions, found %d", len(legs))
		return &result, nil
	}

	birdDest, err := v.destinationFor(expect.Provider, expect.BirdWallet)
	if err != nil {
		result.Reason = "malformed bird wallet"
		return &result, nil
	}
	platformDest, err := v.destinationFor(expect.Provider, expect.PlatformWallet)
	if err != nil {
		result.Reason = "malformed platform wallet"
		return &result, nil
	}

	for _, leg := range legs {
		switch {
		case leg.destination.Equals(birdDest):
			result.BirdAmountSeen = leg.amount
			result.BirdLegMatch = leg.amount == birdRaw
		case leg.destination.Equals(platformDest):
			result.PlatformAmountSeen = leg.amount
			result.PlatformLegMatch = leg.amount == platformRaw
		default:
			result.Reason = "transfer to unexpected destination"
			return &result, nil
		}
	}

	if !result.BirdLegMatch || !result.PlatformLegMatch {
		result.Reason = fmt.Sprintf(
			"amount mismatch: bird leg %d (want %d), platform leg %d (want %d)",
			result.BirdAmountSeen, birdRaw, result.PlatformAmountSeen, platformRaw)
		return &result, nil
	}
	if !result.MintMatch {
		result.Reason = "wrong token mint"
		return &result, nil
	}

	result.Succeeded = true
	result.Reason = ""
	return &result, nil
}

// transferLeg is one decoded value transfer inside a transaction.
type transferLeg struct {
	destination solana.PublicKey
	amount      uint64
}

// collectTransferLegs extracts every transfer instruction of the expected
// asset type. A transaction containing any transfer of a different asset
// fails with a reason instead of being silently skipped.
func (v *SolanaVerifier) collectTransferLegs(tx *solana.Transaction, expect SplitExpectation, payer solana.PublicKey) ([]transferLeg, bool, string) {
	var legs []transferLeg
	mintOK := true
	keys := tx.Message.AccountKeys

	mint := solana.PublicKey{}
	if expect.Provider == "solana-usdc" {
		var err error
		mint, err = solana.PublicKeyFromBase58(v.cfg.USDCMint)
		if err != nil {
			return nil, false, "verifier misconfigured: bad USDC mint"
		}
	}

	for _, ix := range tx.Message.Instructions {
		if int(ix.ProgramIDIndex) >= len(keys) {
			return nil, false, "instruction references unknown program"
		}
		progID := keys[ix.ProgramIDIndex]

		switch {
		case progID.Equals(solana.TokenProgramID) || progID.Equals(solana.Token2022ProgramID):
			if expect.Provider != "solana-usdc" {
				return nil, false, "unexpected token transfer in native payment"
			}
			leg, legMintOK, reason := decodeTokenTransfer(ix, keys, mint, payer)
			if reason != "" {
				return nil, false, reason
			}
			if leg != nil {
				if !legMintOK {
					mintOK = false
				}
				legs = append(legs, *leg)
			}

		case progID.Equals(solana.SystemProgramID):
			if expect.Provider != "solana-sol" {
				// Fee/account housekeeping is fine in token payments as
				// long as it moves no value to the expected wallets.
				continue
			}
			leg, reason := decodeSystemTransfer(ix, keys, payer)
			if reason != "" {
				return nil, false, reason
			}
			if leg != nil {
				legs = append(legs, *leg)
			}
		}
	}
	return legs, mintOK, ""
}

// decodeTokenTransfer decodes an SPL Transfer / TransferChecked instruction.
// Returns nil leg for non-transfer token instructions.
func decodeTokenTransfer(ix solana.CompiledInstruction, keys []solana.PublicKey, mint, payer solana.PublicKey) (*transferLeg, bool, string) {
	if len(ix.Data) == 0 {
		return nil, false, ""
	}

	switch ix.Data[0] {
	case tokenInstructionTransferChecked:
		// data: [tag, amount u64 le, decimals u8]; accounts: [src, mint, dst, owner]
		if len(ix.Data) < 10 || len(ix.Accounts) < 4 {
			return nil, false, "malformed transfer-checked instruction"
		}
		amount := binary.LittleEndian.Uint64(ix.Data[1:9])
		mintKey := keys[ix.Accounts[1]]
		owner := keys[ix.Accounts[3]]
		if !owner.Equals(payer) {
			return nil, false, "transfer owned by unexpected signer"
		}
		return &transferLeg{destination: keys[ix.Accounts[2]], amount: amount}, mintKey.Equals(mint), ""

	case tokenInstructionTransfer:
		// data: [tag, amount u64 le]; accounts: [src, dst, owner]
		if len(ix.Data) < 9 || len(ix.Accounts) < 3 {
			return nil, false, "malformed transfer instruction"
		}
		amount := binary.LittleEndian.Uint64(ix.Data[1:9])
		owner := keys[ix.Accounts[2]]
		if !owner.Equals(payer) {
			return nil, false, "transfer owned by unexpected signer"
		}
		// Plain Transfer does not name the mint; the ATA derivation check
		// against the expected destination covers it.
		return &transferLeg{destination: keys[ix.Accounts[1]], amount: amount}, true, ""
	}
	return nil, false, ""
}

// decodeSystemTransfer decodes a system program lamport transfer.
func decodeSystemTransfer(ix solana.CompiledInstruction, keys []solana.PublicKey, payer solana.PublicKey) (*transferLeg, string) {
	if len(ix.Data) < 4 {
		return nil, ""
	}
	if binary.LittleEndian.Uint32(ix.Data[0:4]) != systemInstructionTransfer {
		return nil, ""
	}
	if len(ix.Data) < 12 || len(ix.Accounts) < 2 {
		return nil, "malformed system transfer instruction"
	}
	from := keys[ix.Accounts[0]]
	if !from.Equals(payer) {
		return nil, "transfer funded by unexpected signer"
	}
	amount := binary.LittleEndian.Uint64(ix.Data[4:12])
	return &transferLeg{destination: keys[ix.Accounts[1]], amount: amount}, ""
}

// destinationFor resolves the on-chain account a wallet receives funds on:
// the wallet itself for native SOL, its associated token account for USDC.
func (v *SolanaVerifier) destinationFor(provider, wallet string) (solana.PublicKey, error) {
	pub, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if provider != "solana-usdc" {
		return pub, nil
	}
	mint, err := solana.PublicKeyFromBase58(v.cfg.USDCMint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	ata, _, err := solana.FindAssociatedTokenAddress(pub, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return ata, nil
}

// confirmationCount normalizes the RPC confirmation report. Rooted
// transactions stop being counted and report as FinalizedConfirmations.
func confirmationCount(status *rpc.SignatureStatusesResult) uint64 {
	if status.Confirmations == nil {
		return FinalizedConfirmations
	}
	return *status.Confirmations
}

// Signature derives the transaction signature from a base64 signed
// transaction without broadcasting it.
func (v *SolanaVerifier) Signature(signedTx string) (string, error) {
	tx, err := decodeTransaction(signedTx)
	if err != nil {
		return "", err
	}
	if len(tx.Signatures) == 0 {
		return "", fmt.Errorf("%w: transaction carries no signature", ErrInvalidTransaction)
	}
	return tx.Signatures[0].String(), nil
}

// Broadcast sends the signed transaction to the network.
func (v *SolanaVerifier) Broadcast(ctx context.Context, signedTx string) (string, error) {
	tx, err := decodeTransaction(signedTx)
	if err != nil {
		return "", err
	}
	sig, err := v.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		v.logger.WarnContext(ctx, "transaction broadcast failed", "error", err)
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return sig.String(), nil
}

// decodeTransaction parses a base64-encoded signed transaction.
func decodeTransaction(signedTx string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(signedTx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	return tx, nil
}
