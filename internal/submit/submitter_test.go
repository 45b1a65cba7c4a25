package submit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"pump-trader/internal/config"
	"pump-trader/internal/txbuild"
)

type fakeRelay struct {
	sendErr    error
	sendCalls  int
	bundleID   string
	statuses   []BundleStatus
	statusIdx  int
	statusErrs []error
}

func (f *fakeRelay) SendBundle(ctx context.Context, txs []string) (string, error) {
	f.sendCalls++
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return f.bundleID, nil
}

func (f *fakeRelay) BundleStatuses(ctx context.Context, bundleID string) (BundleStatus, error) {
	i := f.statusIdx
	f.statusIdx++
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	var err error
	if i < len(f.statusErrs) {
		err = f.statusErrs[i]
	}
	return f.statuses[i], err
}

type fakeChain struct {
	heights    []uint64
	heightErrs []error
	heightIdx  int
	sendErr    error
	sendCalls  int
	signature  solana.Signature
}

func (f *fakeChain) CurrentHeight(ctx context.Context) (uint64, error) {
	i := f.heightIdx
	f.heightIdx++
	if i >= len(f.heights) {
		i = len(f.heights) - 1
	}
	var err error
	if i < len(f.heightErrs) {
		err = f.heightErrs[i]
	}
	return f.heights[i], err
}

func (f *fakeChain) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.sendCalls++
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	return f.signature, nil
}

func signedFixture(t *testing.T, expiryHeight uint64) txbuild.SignedTx {
	t.Helper()

	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	payer := key.PublicKey()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1, payer, payer).Build()},
		solana.Hash{7},
		solana.TransactionPayer(payer),
	)
	if err != nil {
		t.Fatalf("build tx: %v", err)
	}
	if _, err := tx.Sign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(payer) {
			return &key
		}
		return nil
	}); err != nil {
		t.Fatalf("sign tx: %v", err)
	}

	return txbuild.SignedTx{
		Tx:           tx,
		Signature:    tx.Signatures[0],
		Blockhash:    solana.Hash{7},
		ExpiryHeight: expiryHeight,
		TipLamports:  10_000,
	}
}

func testConfig() config.RelayConfig {
	return config.RelayConfig{
		URL:          "http://relay.local",
		PollInterval: time.Millisecond,
		LandingWait:  20 * time.Millisecond,
		Retry: config.RetryConfig{
			MaxAttempts: 2,
			MinDelay:    time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		},
	}
}

func TestSubmit_RelayLands(t *testing.T) {
	relay := &fakeRelay{
		bundleID: "bundle-1",
		statuses: []BundleStatus{
			{},
			{Found: true, ConfirmationStatus: "confirmed", Landed: true},
		},
	}
	chainAPI := &fakeChain{heights: []uint64{100}}

	s, err := NewSubmitter(testConfig(), relay, chainAPI, nil)
	if err != nil {
		t.Fatalf("NewSubmitter: %v", err)
	}

	result, err := s.Submit(context.Background(), signedFixture(t, 200))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Status != StatusSubmitted || result.Route != RouteRelay {
		t.Errorf("status/route = %s/%s, want submitted/relay", result.Status, result.Route)
	}
	if len(result.Attempts) != 1 || !result.Attempts[0].Accepted || result.Attempts[0].BundleID != "bundle-1" {
		t.Errorf("unexpected attempts: %+v", result.Attempts)
	}
	if chainAPI.sendCalls != 0 {
		t.Errorf("direct path must not be used when relay lands")
	}
}

func TestSubmit_FallsBackToDirect(t *testing.T) {
	relay := &fakeRelay{sendErr: errors.New("relay unavailable")}
	chainAPI := &fakeChain{heights: []uint64{100}}

	s, _ := NewSubmitter(testConfig(), relay, chainAPI, nil)
	result, err := s.Submit(context.Background(), signedFixture(t, 200))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if result.Status != StatusSubmitted || result.Route != RouteDirect {
		t.Errorf("status/route = %s/%s, want submitted/direct", result.Status, result.Route)
	}
	if relay.sendCalls != 2 {
		t.Errorf("relay attempts = %d, want 2", relay.sendCalls)
	}
	if chainAPI.sendCalls != 1 {
		t.Errorf("direct sends = %d, want 1", chainAPI.sendCalls)
	}
	// 每次失败的中继尝试与最终直连都要留痕。
	if len(result.Attempts) != 3 {
		t.Errorf("attempt records = %d, want 3", len(result.Attempts))
	}
}

func TestSubmit_ExpiredBeforeAnySubmission(t *testing.T) {
	relay := &fakeRelay{bundleID: "bundle-1", statuses: []BundleStatus{{}}}
	chainAPI := &fakeChain{heights: []uint64{500}}

	s, _ := NewSubmitter(testConfig(), relay, chainAPI, nil)
	result, err := s.Submit(context.Background(), signedFixture(t, 200))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if result.Status != StatusExpired {
		t.Errorf("status = %s, want expired", result.Status)
	}
	if relay.sendCalls != 0 {
		t.Errorf("must never submit past expiry height, relay calls = %d", relay.sendCalls)
	}
	if chainAPI.sendCalls != 0 {
		t.Errorf("must never broadcast past expiry height, direct calls = %d", chainAPI.sendCalls)
	}
}

func TestSubmit_NoResubmitAfterExpiry(t *testing.T) {
	// 第一次尝试时高度尚可，bundle 未落块；随后高度越过失效点。
	relay := &fakeRelay{bundleID: "bundle-1", statuses: []BundleStatus{{Found: true, ConfirmationStatus: "processed"}}}
	chainAPI := &fakeChain{heights: []uint64{100, 300}}

	s, _ := NewSubmitter(testConfig(), relay, chainAPI, nil)
	result, err := s.Submit(context.Background(), signedFixture(t, 200))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if relay.sendCalls != 1 {
		t.Errorf("relay calls = %d, want 1 (no resubmission after expiry)", relay.sendCalls)
	}
	if chainAPI.sendCalls != 0 {
		t.Errorf("direct calls = %d, want 0", chainAPI.sendCalls)
	}
	// 已有一次成功交付，终态留给追踪器。
	if result.Status != StatusSubmitted {
		t.Errorf("status = %s, want submitted", result.Status)
	}
}

func TestSubmit_AllPathsRejected(t *testing.T) {
	relay := &fakeRelay{sendErr: errors.New("bundle rejected: tip too low")}
	chainAPI := &fakeChain{heights: []uint64{100}, sendErr: errors.New("transaction rejected")}

	s, _ := NewSubmitter(testConfig(), relay, chainAPI, nil)
	result, err := s.Submit(context.Background(), signedFixture(t, 200))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if result.Status != StatusRejected {
		t.Errorf("status = %s, want rejected", result.Status)
	}
	for _, a := range result.Attempts {
		if a.Accepted {
			t.Errorf("no attempt should be marked accepted: %+v", a)
		}
		if a.Note == "" {
			t.Errorf("failed attempt must carry a note")
		}
	}
}

func TestSubmit_HeightErrorsAfterHandoffConcludeSubmitted(t *testing.T) {
	// 交付成功后高度查询持续失败：不再盲发，已交付的命运交给追踪器。
	relay := &fakeRelay{bundleID: "bundle-1", statuses: []BundleStatus{{}}}
	chainAPI := &fakeChain{
		heights:    []uint64{100, 0},
		heightErrs: []error{nil, errors.New("rpc timeout")},
	}

	s, _ := NewSubmitter(testConfig(), relay, chainAPI, nil)
	result, err := s.Submit(context.Background(), signedFixture(t, 200))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if result.Status != StatusSubmitted || result.Route != RouteRelay {
		t.Errorf("status/route = %s/%s, want submitted/relay", result.Status, result.Route)
	}
	if relay.sendCalls != 1 {
		t.Errorf("relay calls = %d, want 1 (unknown height must not trigger resends)", relay.sendCalls)
	}
	if chainAPI.sendCalls != 0 {
		t.Errorf("direct calls = %d, want 0 (unknown height must not trigger broadcast)", chainAPI.sendCalls)
	}
}

func TestSubmit_HeightErrorsBeforeHandoffConcludeExpired(t *testing.T) {
	relay := &fakeRelay{bundleID: "bundle-1", statuses: []BundleStatus{{}}}
	chainAPI := &fakeChain{
		heights:    []uint64{0},
		heightErrs: []error{errors.New("rpc unreachable")},
	}

	s, _ := NewSubmitter(testConfig(), relay, chainAPI, nil)
	result, err := s.Submit(context.Background(), signedFixture(t, 200))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// 高度始终未知且从未交付：按过期收束，绝不盲发。
	if result.Status != StatusExpired {
		t.Errorf("status = %s, want expired", result.Status)
	}
	if relay.sendCalls != 0 || chainAPI.sendCalls != 0 {
		t.Errorf("sends = %d/%d, want 0/0", relay.sendCalls, chainAPI.sendCalls)
	}
}

func TestNewSubmitterDefaultsPolling(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = 0
	cfg.LandingWait = 0

	s, err := NewSubmitter(cfg, &fakeRelay{bundleID: "b", statuses: []BundleStatus{{}}}, &fakeChain{heights: []uint64{100}}, nil)
	if err != nil {
		t.Fatalf("NewSubmitter: %v", err)
	}
	if s.cfg.PollInterval != 5*time.Second {
		t.Errorf("poll interval = %s, want 5s", s.cfg.PollInterval)
	}
	if s.cfg.LandingWait != 30*time.Second {
		t.Errorf("landing wait = %s, want 30s", s.cfg.LandingWait)
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusLanded, StatusRejected, StatusExpired} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusBuilt, StatusSubmitted} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
