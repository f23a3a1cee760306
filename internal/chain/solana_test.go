package chain

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

const testUSDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

type mockRPC struct {
	statuses  func(ctx context.Context, history bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	tx        func(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	send      func(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	sendCalls int
}

func (m *mockRPC) GetSignatureStatuses(ctx context.Context, history bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	if m.statuses == nil {
		return nil, errors.New("unexpected GetSignatureStatuses call")
	}
	return m.statuses(ctx, history, sigs...)
}

func (m *mockRPC) GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	if m.tx == nil {
		return nil, errors.New("unexpected GetTransaction call")
	}
	return m.tx(ctx, sig, opts)
}

func (m *mockRPC) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	m.sendCalls++
	if m.send == nil {
		return solana.Signature{}, errors.New("unexpected SendTransactionWithOpts call")
	}
	return m.send(ctx, tx, opts)
}

func newTestVerifier(client RPCClient) *SolanaVerifier {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSolanaVerifier(client, SolanaConfig{USDCMint: testUSDCMint}, logger)
}

func testSignature(first byte) solana.Signature {
	var raw [64]byte
	raw[0] = first
	return solana.Signature(raw)
}

func okStatuses(confirmations *uint64) func(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	return func(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
		return &rpc.GetSignatureStatusesResult{
			Value: []*rpc.SignatureStatusesResult{{Confirmations: confirmations}},
		}, nil
	}
}

func TestVerifyTransaction_UnsupportedProvider(t *testing.T) {
	v := newTestVerifier(&mockRPC{})
	_, err := v.VerifyTransaction(context.Background(), testSignature(1).String(), "stripe")
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestVerifyTransaction_MalformedSignature(t *testing.T) {
	v := newTestVerifier(&mockRPC{})
	result, err := v.VerifyTransaction(context.Background(), "not-base58!!", "solana-usdc")
	if err != nil {
		t.Fatalf("VerifyTransaction failed: %v", err)
	}
	if result.Found || result.Reason == "" {
		t.Errorf("expected not-found result with reason, got %+v", result)
	}
}

func TestVerifyTransaction_ProviderDown(t *testing.T) {
	client := &mockRPC{
		statuses: func(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
			return nil, errors.New("rpc timeout")
		},
	}
	v := newTestVerifier(client)
	_, err := v.VerifyTransaction(context.Background(), testSignature(1).String(), "solana-usdc")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestVerifyTransaction_NotFound(t *testing.T) {
	client := &mockRPC{
		statuses: func(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
			return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{nil}}, nil
		},
	}
	v := newTestVerifier(client)
	result, err := v.VerifyTransaction(context.Background(), testSignature(1).String(), "solana-usdc")
	if err != nil {
		t.Fatalf("VerifyTransaction failed: %v", err)
	}
	if result.Found {
		t.Errorf("expected Found=false, got %+v", result)
	}
}

func TestVerifyTransaction_FailedOnChain(t *testing.T) {
	client := &mockRPC{
		statuses: func(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
			return &rpc.GetSignatureStatusesResult{
				Value: []*rpc.SignatureStatusesResult{{Err: map[string]any{"InstructionError": []any{}}}},
			}, nil
		},
	}
	v := newTestVerifier(client)
	result, err := v.VerifyTransaction(context.Background(), testSignature(1).String(), "solana-usdc")
	if err != nil {
		t.Fatalf("VerifyTransaction failed: %v", err)
	}
	if !result.Found || result.Succeeded {
		t.Errorf("expected found but failed, got %+v", result)
	}
	if result.Reason == "" {
		t.Error("expected a failure reason")
	}
}

func TestVerifyTransaction_RootedReportsFullConfirmations(t *testing.T) {
	v := newTestVerifier(&mockRPC{statuses: okStatuses(nil)})
	result, err := v.VerifyTransaction(context.Background(), testSignature(1).String(), "solana-usdc")
	if err != nil {
		t.Fatalf("VerifyTransaction failed: %v", err)
	}
	if !result.Found || !result.Succeeded {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Confirmations != FinalizedConfirmations {
		t.Errorf("Confirmations = %d, want %d", result.Confirmations, FinalizedConfirmations)
	}
}

func TestVerifyTransaction_ReportsPartialConfirmations(t *testing.T) {
	five := uint64(5)
	v := newTestVerifier(&mockRPC{statuses: okStatuses(&five)})
	result, err := v.VerifyTransaction(context.Background(), testSignature(1).String(), "solana-usdc")
	if err != nil {
		t.Fatalf("VerifyTransaction failed: %v", err)
	}
	if result.Confirmations != 5 {
		t.Errorf("Confirmations = %d, want 5", result.Confirmations)
	}
}

func TestVerifySplitTransfer_TransactionLookupNotFound(t *testing.T) {
	client := &mockRPC{
		statuses: okStatuses(nil),
		tx: func(context.Context, solana.Signature, *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
			return nil, rpc.ErrNotFound
		},
	}
	v := newTestVerifier(client)
	result, err := v.VerifySplitTransfer(context.Background(), testSignature(1).String(), SplitExpectation{Provider: "solana-usdc"})
	if err != nil {
		t.Fatalf("VerifySplitTransfer failed: %v", err)
	}
	if result.Found {
		t.Errorf("expected Found=false, got %+v", result)
	}
}

func TestVerifySplitTransfer_TransactionLookupDown(t *testing.T) {
	client := &mockRPC{
		statuses: okStatuses(nil),
		tx: func(context.Context, solana.Signature, *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
			return nil, errors.New("rpc timeout")
		},
	}
	v := newTestVerifier(client)
	_, err := v.VerifySplitTransfer(context.Background(), testSignature(1).String(), SplitExpectation{Provider: "solana-usdc"})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestVerifySplitTransfer_SkipsDetailWhenNotFound(t *testing.T) {
	client := &mockRPC{
		statuses: func(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
			return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{nil}}, nil
		},
		tx: func(context.Context, solana.Signature, *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
			t.Fatal("GetTransaction must not be called for unseen transactions")
			return nil, nil
		},
	}
	v := newTestVerifier(client)
	result, err := v.VerifySplitTransfer(context.Background(), testSignature(1).String(), SplitExpectation{Provider: "solana-usdc"})
	if err != nil {
		t.Fatalf("VerifySplitTransfer failed: %v", err)
	}
	if result.Found {
		t.Errorf("expected Found=false, got %+v", result)
	}
}

// transferCheckedData builds the SPL TransferChecked payload.
func transferCheckedData(amount uint64, decimals byte) []byte {
	data := make([]byte, 10)
	data[0] = tokenInstructionTransferChecked
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = decimals
	return data
}

// systemTransferData builds the system program transfer payload.
func systemTransferData(lamports uint64) []byte {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemInstructionTransfer)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return data
}

type splitWallets struct {
	payer    solana.PublicKey
	bird     solana.PublicKey
	platform solana.PublicKey
}

func newSplitWallets() splitWallets {
	return splitWallets{
		payer:    solana.NewWallet().PublicKey(),
		bird:     solana.NewWallet().PublicKey(),
		platform: solana.NewWallet().PublicKey(),
	}
}

func (w splitWallets) expectation(provider string, birdAmount, platformAmount int64) SplitExpectation {
	return SplitExpectation{
		Provider:       provider,
		Currency:       "usd",
		PayerWallet:    w.payer.String(),
		BirdWallet:     w.bird.String(),
		BirdAmount:     birdAmount,
		PlatformWallet: w.platform.String(),
		PlatformAmount: platformAmount,
	}
}

// usdcSplitTx builds a transaction carrying two TransferChecked legs from the
// payer's token account to the bird and platform associated token accounts.
func usdcSplitTx(t *testing.T, w splitWallets, birdRaw, platformRaw uint64) *solana.Transaction {
	t.Helper()
	mint := solana.MustPublicKeyFromBase58(testUSDCMint)
	src, _, err := solana.FindAssociatedTokenAddress(w.payer, mint)
	if err != nil {
		t.Fatalf("derive source token account: %v", err)
	}
	birdATA, _, err := solana.FindAssociatedTokenAddress(w.bird, mint)
	if err != nil {
		t.Fatalf("derive bird token account: %v", err)
	}
	platformATA, _, err := solana.FindAssociatedTokenAddress(w.platform, mint)
	if err != nil {
		t.Fatalf("derive platform token account: %v", err)
	}

	return &solana.Transaction{
		Signatures: []solana.Signature{testSignature(7)},
		Message: solana.Message{
			Header: solana.MessageHeader{NumRequiredSignatures: 1},
			AccountKeys: []solana.PublicKey{
				w.payer, src, mint, birdATA, platformATA, solana.TokenProgramID,
			},
			Instructions: []solana.CompiledInstruction{
				{
					ProgramIDIndex: 5,
					// src, mint, dst, owner
					Accounts: []uint16{1, 2, 3, 0},
					Data:     transferCheckedData(birdRaw, USDCDecimals),
				},
				{
					ProgramIDIndex: 5,
					Accounts:       []uint16{1, 2, 4, 0},
					Data:           transferCheckedData(platformRaw, USDCDecimals),
				},
			},
		},
	}
}

// solSplitTx builds a transaction carrying two native lamport transfers from
// the payer to the bird and platform wallets.
func solSplitTx(w splitWallets, birdRaw, platformRaw uint64) *solana.Transaction {
	return &solana.Transaction{
		Signatures: []solana.Signature{testSignature(8)},
		Message: solana.Message{
			Header:      solana.MessageHeader{NumRequiredSignatures: 1},
			AccountKeys: []solana.PublicKey{w.payer, w.bird, w.platform, solana.SystemProgramID},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 3, Accounts: []uint16{0, 1}, Data: systemTransferData(birdRaw)},
				{ProgramIDIndex: 3, Accounts: []uint16{0, 2}, Data: systemTransferData(platformRaw)},
			},
		},
	}
}

func baseResult() *VerificationResult {
	return &VerificationResult{Found: true, Succeeded: true, Confirmations: FinalizedConfirmations}
}

func TestMatchSplit_USDCExactLegs(t *testing.T) {
	v := newTestVerifier(&mockRPC{})
	w := newSplitWallets()
	tx := usdcSplitTx(t, w, 45_000_000, 5_000_000)

	result, err := v.matchSplit(baseResult(), tx, w.expectation("solana-usdc", 4500, 500))
	if err != nil {
		t.Fatalf("matchSplit failed: %v", err)
	}
	if !result.Succeeded {
		t.Fatalf("expected success, got reason %q", result.Reason)
	}
	if !result.PayerMatch || !result.MintMatch || !result.BirdLegMatch || !result.PlatformLegMatch {
		t.Errorf("expected all conditions met, got %+v", result)
	}
	if result.BirdAmountSeen != 45_000_000 || result.PlatformAmountSeen != 5_000_000 {
		t.Errorf("amounts seen = %d/%d, want 45000000/5000000",
			result.BirdAmountSeen, result.PlatformAmountSeen)
	}
}

func TestMatchSplit_NativeSOLExactLegs(t *testing.T) {
	v := newTestVerifier(&mockRPC{})
	w := newSplitWallets()
	tx := solSplitTx(w, 45_000_000_000, 5_000_000_000)

	result, err := v.matchSplit(baseResult(), tx, w.expectation("solana-sol", 4500, 500))
	if err != nil {
		t.Fatalf("matchSplit failed: %v", err)
	}
	if !result.Succeeded {
		t.Fatalf("expected success, got reason %q", result.Reason)
	}
}

func TestMatchSplit_AmountMismatch(t *testing.T) {
	v := newTestVerifier(&mockRPC{})
	w := newSplitWallets()
	// Bird leg short by one raw unit.
	tx := usdcSplitTx(t, w, 44_999_999, 5_000_000)

	result, err := v.matchSplit(baseResult(), tx, w.expectation("solana-usdc", 4500, 500))
	if err != nil {
		t.Fatalf("matchSplit failed: %v", err)
	}
	if result.Succeeded {
		t.Fatal("expected failure on amount mismatch")
	}
	if result.BirdLegMatch || !result.PlatformLegMatch {
		t.Errorf("leg matches = %v/%v, want false/true", result.BirdLegMatch, result.PlatformLegMatch)
	}
	if !strings.Contains(result.Reason, "amount mismatch") {
		t.Errorf("unexpected reason %q", result.Reason)
	}
}

func TestMatchSplit_PayerNotSigner(t *testing.T) {
	v := newTestVerifier(&mockRPC{})
	w := newSplitWallets()
	tx := usdcSplitTx(t, w, 45_000_000, 5_000_000)

	expect := w.expectation("solana-usdc", 4500, 500)
	expect.PayerWallet = solana.NewWallet().PublicKey().String()

	result, err := v.matchSplit(baseResult(), tx, expect)
	if err != nil {
		t.Fatalf("matchSplit failed: %v", err)
	}
	if result.Succeeded || result.PayerMatch {
		t.Fatalf("expected payer rejection, got %+v", result)
	}
}

func TestMatchSplit_UnpinnedPayerBindsToFeePayer(t *testing.T) {
	v := newTestVerifier(&mockRPC{})
	w := newSplitWallets()
	tx := usdcSplitTx(t, w, 45_000_000, 5_000_000)

	expect := w.expectation("solana-usdc", 4500, 500)
	expect.PayerWallet = ""

	result, err := v.matchSplit(baseResult(), tx, expect)
	if err != nil {
		t.Fatalf("matchSplit failed: %v", err)
	}
	if !result.Succeeded {
		t.Fatalf("expected success, got reason %q", result.Reason)
	}
	if !result.PayerMatch || !result.BirdLegMatch || !result.PlatformLegMatch {
		t.Errorf("expected all conditions met, got %+v", result)
	}
}

func TestMatchSplit_UnpinnedPayerRejectsForeignLegs(t *testing.T) {
	v := newTestVerifier(&mockRPC{})
	w := newSplitWallets()
	// The fee payer is a stranger; both legs move lamports from w.payer.
	stranger := solana.NewWallet().PublicKey()
	tx := &solana.Transaction{
		Signatures: []solana.Signature{testSignature(9)},
		Message: solana.Message{
			Header:      solana.MessageHeader{NumRequiredSignatures: 1},
			AccountKeys: []solana.PublicKey{stranger, w.payer, w.bird, w.platform, solana.SystemProgramID},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 4, Accounts: []uint16{1, 2}, Data: systemTransferData(45_000_000_000)},
				{ProgramIDIndex: 4, Accounts: []uint16{1, 3}, Data: systemTransferData(5_000_000_000)},
			},
		},
	}

	expect := w.expectation("solana-sol", 4500, 500)
	expect.PayerWallet = ""

	result, err := v.matchSplit(baseResult(), tx, expect)
	if err != nil {
		t.Fatalf("matchSplit failed: %v", err)
	}
	if result.Succeeded {
		t.Fatal("expected rejection of legs funded by a non-fee-payer")
	}
	if !strings.Contains(result.Reason, "unexpected signer") {
		t.Errorf("unexpected reason %q", result.Reason)
	}
}

func TestMatchSplit_SingleLegRejected(t *testing.T) {
	v := newTestVerifier(&mockRPC{})
	w := newSplitWallets()
	tx := usdcSplitTx(t, w, 45_000_000, 5_000_000)
	tx.Message.Instructions = tx.Message.Instructions[:1]

	result, err := v.matchSplit(baseResult(), tx, w.expectation("solana-usdc", 4500, 500))
	if err != nil {
		t.Fatalf("matchSplit failed: %v", err)
	}
	if result.Succeeded {
		t.Fatal("expected failure with a single transfer leg")
	}
	if !strings.Contains(result.Reason, "expected 2 transfer instructions") {
		t.Errorf("unexpected reason %q", result.Reason)
	}
}

func TestMatchSplit_TransferToUnexpectedDestination(t *testing.T) {
	v := newTestVerifier(&mockRPC{})
	w := newSplitWallets()
	tx := usdcSplitTx(t, w, 45_000_000, 5_000_000)
	// Reroute the platform leg to a stranger's token account.
	mint := solana.MustPublicKeyFromBase58(testUSDCMint)
	stranger, _, err := solana.FindAssociatedTokenAddress(solana.NewWallet().PublicKey(), mint)
	if err != nil {
		t.Fatalf("derive stranger token account: %v", err)
	}
	tx.Message.AccountKeys[4] = stranger

	result, err := v.matchSplit(baseResult(), tx, w.expectation("solana-usdc", 4500, 500))
	if err != nil {
		t.Fatalf("matchSplit failed: %v", err)
	}
	if result.Succeeded {
		t.Fatal("expected failure on rerouted leg")
	}
	if !strings.Contains(result.Reason, "unexpected destination") {
		t.Errorf("unexpected reason %q", result.Reason)
	}
}

func TestMatchSplit_ForeignOwnerRejected(t *testing.T) {
	v := newTestVerifier(&mockRPC{})
	w := newSplitWallets()
	tx := usdcSplitTx(t, w, 45_000_000, 5_000_000)
	// The payer signs but a different account owns the moved tokens.
	tx.Message.AccountKeys = append(tx.Message.AccountKeys, solana.NewWallet().PublicKey())
	tx.Message.Instructions[0].Accounts[3] = uint16(len(tx.Message.AccountKeys) - 1)

	result, err := v.matchSplit(baseResult(), tx, w.expectation("solana-usdc", 4500, 500))
	if err != nil {
		t.Fatalf("matchSplit failed: %v", err)
	}
	if result.Succeeded {
		t.Fatal("expected failure on foreign token owner")
	}
	if !strings.Contains(result.Reason, "unexpected signer") {
		t.Errorf("unexpected reason %q", result.Reason)
	}
}

func TestMatchSplit_TokenTransferInNativePayment(t *testing.T) {
	v := newTestVerifier(&mockRPC{})
	w := newSplitWallets()
	tx := usdcSplitTx(t, w, 45_000_000_000, 5_000_000_000)

	result, err := v.matchSplit(baseResult(), tx, w.expectation("solana-sol", 4500, 500))
	if err != nil {
		t.Fatalf("matchSplit failed: %v", err)
	}
	if result.Succeeded {
		t.Fatal("expected failure on token transfer in a native payment")
	}
}

func TestSignature_DerivesWithoutBroadcast(t *testing.T) {
	client := &mockRPC{}
	v := newTestVerifier(client)
	w := newSplitWallets()
	tx := usdcSplitTx(t, w, 45_000_000, 5_000_000)

	raw, err := tx.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal transaction: %v", err)
	}
	sig, err := v.Signature(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("Signature failed: %v", err)
	}
	if sig != testSignature(7).String() {
		t.Errorf("Signature = %q, want %q", sig, testSignature(7).String())
	}
	if client.sendCalls != 0 {
		t.Errorf("Signature broadcast the transaction %d times", client.sendCalls)
	}
}

func TestSignature_RejectsGarbage(t *testing.T) {
	v := newTestVerifier(&mockRPC{})
	if _, err := v.Signature("%%%not-base64%%%"); !errors.Is(err, ErrInvalidTransaction) {
		t.Errorf("expected ErrInvalidTransaction for bad base64, got %v", err)
	}
	payload := base64.StdEncoding.EncodeToString([]byte{0xff, 0x01})
	if _, err := v.Signature(payload); !errors.Is(err, ErrInvalidTransaction) {
		t.Errorf("expected ErrInvalidTransaction for truncated payload, got %v", err)
	}
}

func TestBroadcast_ReturnsNetworkSignature(t *testing.T) {
	want := testSignature(9)
	client := &mockRPC{
		send: func(context.Context, *solana.Transaction, rpc.TransactionOpts) (solana.Signature, error) {
			return want, nil
		},
	}
	v := newTestVerifier(client)
	w := newSplitWallets()
	raw, err := solSplitTx(w, 10, 1).MarshalBinary()
	if err != nil {
		t.Fatalf("marshal transaction: %v", err)
	}

	sig, err := v.Broadcast(context.Background(), base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if sig != want.String() {
		t.Errorf("Broadcast = %q, want %q", sig, want.String())
	}
	if client.sendCalls != 1 {
		t.Errorf("sendCalls = %d, want 1", client.sendCalls)
	}
}

func TestBroadcast_WrapsSendFailure(t *testing.T) {
	client := &mockRPC{
		send: func(context.Context, *solana.Transaction, rpc.TransactionOpts) (solana.Signature, error) {
			return solana.Signature{}, fmt.Errorf("node behind")
		},
	}
	v := newTestVerifier(client)
	w := newSplitWallets()
	raw, err := solSplitTx(w, 10, 1).MarshalBinary()
	if err != nil {
		t.Fatalf("marshal transaction: %v", err)
	}

	if _, err := v.Broadcast(context.Background(), base64.StdEncoding.EncodeToString(raw)); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
}
