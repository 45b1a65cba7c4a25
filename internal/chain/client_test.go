package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"pump-trader/internal/config"
)

type fakeAPI struct {
	rpcAPI

	statusResult *rpc.GetSignatureStatusesResult
	statusErr    error
	statusCalls  int

	heightResults []uint64
	heightErrs    []error
	heightCalls   int
}

func (f *fakeAPI) GetSignatureStatuses(ctx context.Context, searchHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	f.statusCalls++
	return f.statusResult, f.statusErr
}

func (f *fakeAPI) GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
	i := f.heightCalls
	f.heightCalls++
	if i >= len(f.heightResults) {
		i = len(f.heightResults) - 1
	}
	return f.heightResults[i], f.heightErrs[i]
}

func testClient(api rpcAPI) *Client {
	return &Client{
		cfg: config.ChainConfig{
			RPCURL:     "http://localhost:8899",
			Commitment: "confirmed",
			Retry: config.RetryConfig{
				MaxAttempts: 3,
				MinDelay:    time.Millisecond,
				MaxDelay:    2 * time.Millisecond,
			},
		},
		api:        api,
		commitment: rpc.CommitmentConfirmed,
		logger:     zap.NewNop(),
	}
}

func TestSignatureStatus_UnknownSignature(t *testing.T) {
	api := &fakeAPI{statusResult: &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{nil}}}
	c := testClient(api)

	status, err := c.SignatureStatus(context.Background(), solana.Signature{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Known {
		t.Errorf("nil entry should map to Known=false")
	}
}

func TestSignatureStatus_Finalized(t *testing.T) {
	api := &fakeAPI{statusResult: &rpc.GetSignatureStatusesResult{
		Value: []*rpc.SignatureStatusesResult{{
			Slot:               1234,
			ConfirmationStatus: rpc.ConfirmationStatusFinalized,
		}},
	}}
	c := testClient(api)

	status, err := c.SignatureStatus(context.Background(), solana.Signature{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Known || !status.Finalized || status.Failed || status.Slot != 1234 {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestSignatureStatus_FailedOnChain(t *testing.T) {
	api := &fakeAPI{statusResult: &rpc.GetSignatureStatusesResult{
		Value: []*rpc.SignatureStatusesResult{{
			Slot:               99,
			Err:                map[string]any{"InstructionError": []any{}},
			ConfirmationStatus: rpc.ConfirmationStatusFinalized,
		}},
	}}
	c := testClient(api)

	status, err := c.SignatureStatus(context.Background(), solana.Signature{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Failed {
		t.Errorf("on-chain error should map to Failed=true")
	}
}

func TestCallWithRetry_RecoversFromTransientError(t *testing.T) {
	api := &fakeAPI{
		heightResults: []uint64{0, 777},
		heightErrs:    []error{errors.New("429 too many requests"), nil},
	}
	c := testClient(api)

	height, err := c.CurrentHeight(context.Background())
	if err != nil {
		t.Fatalf("expected recovery after retry, got %v", err)
	}
	if height != 777 {
		t.Errorf("height = %d, want 777", height)
	}
	if api.heightCalls != 2 {
		t.Errorf("expected 2 calls, got %d", api.heightCalls)
	}
}

func TestCallWithRetry_DoesNotRetryDeterministicError(t *testing.T) {
	api := &fakeAPI{
		heightResults: []uint64{0},
		heightErrs:    []error{errors.New("invalid param: wrong commitment")},
	}
	c := testClient(api)

	if _, err := c.CurrentHeight(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if api.heightCalls != 1 {
		t.Errorf("deterministic error should not retry, got %d calls", api.heightCalls)
	}
}

func TestExecutionFromMeta(t *testing.T) {
	owner := solana.MustPublicKeyFromBase58("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin")
	mint := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	other := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

	meta := &rpc.TransactionMeta{
		Fee:          5_000,
		PreBalances:  []uint64{2_000_000_000, 10},
		PostBalances: []uint64{985_000_000, 10},
		PreTokenBalances: []rpc.TokenBalance{
			{Mint: other, Owner: &owner, UiTokenAmount: &rpc.UiTokenAmount{Amount: "42"}},
		},
		PostTokenBalances: []rpc.TokenBalance{
			{Mint: other, Owner: &owner, UiTokenAmount: &rpc.UiTokenAmount{Amount: "42"}},
			{Mint: mint, Owner: &owner, UiTokenAmount: &rpc.UiTokenAmount{Amount: "32258064516129"}},
		},
	}

	exec, err := executionFromMeta(500, meta, owner, mint)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.Slot != 500 || exec.FeeLamports != 5_000 {
		t.Errorf("slot/fee mismatch: %+v", exec)
	}
	if exec.SolDelta != -1_015_000_000 {
		t.Errorf("SolDelta = %d, want -1015000000", exec.SolDelta)
	}
	// 买入前 ATA 不存在，pre 余额按0计。
	if exec.TokenDelta != 32_258_064_516_129 {
		t.Errorf("TokenDelta = %d, want 32258064516129", exec.TokenDelta)
	}
	if exec.Failed {
		t.Errorf("successful tx marked failed")
	}
}

func TestClassifyError(t *testing.T) {
	if _, retry := classifyError(context.Canceled); retry {
		t.Errorf("context cancellation must not retry")
	}
	if _, retry := classifyError(errors.New("connection reset by peer")); !retry {
		t.Errorf("network reset should retry")
	}
	if _, retry := classifyError(ErrSimulationFailed); retry {
		t.Errorf("simulation failure is deterministic")
	}
}
