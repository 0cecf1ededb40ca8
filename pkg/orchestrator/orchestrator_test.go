package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jup-ag/cctp-connect/pkg/adapters"
	"github.com/jup-ag/cctp-connect/pkg/attestation"
	"github.com/jup-ag/cctp-connect/pkg/chains"
	"github.com/jup-ag/cctp-connect/pkg/common"
	"github.com/jup-ag/cctp-connect/pkg/db"
	"github.com/jup-ag/cctp-connect/pkg/message"
	"github.com/jup-ag/cctp-connect/pkg/transfer"

	"github.com/benbjohnson/clock"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	pollInterval   = time.Second
	solRecipient   = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	ethRecipient   = "0x1111111111111111111111111111111111111111"
	ethSepoliaUSDC = "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"
)

type receiptResult struct {
	receipt *adapters.Receipt
	err     error
}

type fakeAdapter struct {
	chain chains.Chain

	mu        sync.Mutex
	burnErr   error
	redeemErr error
	receipts  map[string][]receiptResult
	burns     []adapters.BurnRequest
	redeems   []adapters.RedeemRequest
}

func newFakeAdapter(c chains.Chain) *fakeAdapter {
	return &fakeAdapter{chain: c, receipts: map[string][]receiptResult{}}
}

func (f *fakeAdapter) Chain() chains.Chain {
	return f.chain
}

func (f *fakeAdapter) SubmitBurn(_ context.Context, req adapters.BurnRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.burnErr != nil {
		return "", f.burnErr
	}
	f.burns = append(f.burns, req)
	return fmt.Sprintf("%s-burn-%d", f.chain, len(f.burns)), nil
}

// GetConfirmedReceipt pops scripted results; the last one is repeated. Unscripted transactions are pending.
func (f *fakeAdapter) GetConfirmedReceipt(_ context.Context, txID string) (*adapters.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.receipts[txID]
	if len(q) == 0 {
		return &adapters.Receipt{TxID: txID, Status: adapters.ReceiptPending}, nil
	}
	head := q[0]
	if len(q) > 1 {
		f.receipts[txID] = q[1:]
	}
	return head.receipt, head.err
}

func (f *fakeAdapter) SubmitRedeem(_ context.Context, req adapters.RedeemRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.redeemErr != nil {
		return "", f.redeemErr
	}
	f.redeems = append(f.redeems, req)
	return fmt.Sprintf("%s-redeem-%d", f.chain, len(f.redeems)), nil
}

func (f *fakeAdapter) script(txID string, results ...receiptResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[txID] = results
}

func (f *fakeAdapter) redeemCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.redeems)
}

func success(msg []byte) receiptResult {
	return receiptResult{receipt: &adapters.Receipt{Status: adapters.ReceiptSuccess, Message: msg}}
}

func deferred() receiptResult {
	return receiptResult{receipt: &adapters.Receipt{Status: adapters.ReceiptSuccess, MessageDeferred: true}}
}

func pending() receiptResult {
	return receiptResult{receipt: &adapters.Receipt{Status: adapters.ReceiptPending}}
}

// fakeAttestations blocks every poll until release is called or the poll is cancelled.
type fakeAttestations struct {
	ready chan struct{}

	mu        sync.Mutex
	result    *attestation.Attestation
	byHash    []ethcommon.Hash
	byTx      []string
	domains   []uint32
	cancelled int
}

func newFakeAttestations(result *attestation.Attestation) *fakeAttestations {
	return &fakeAttestations{ready: make(chan struct{}), result: result}
}

func (f *fakeAttestations) release() {
	close(f.ready)
}

func (f *fakeAttestations) wait(ctx context.Context) (*attestation.Attestation, error) {
	select {
	case <-ctx.Done():
		f.mu.Lock()
		f.cancelled++
		f.mu.Unlock()
		return &attestation.Attestation{Status: attestation.StatusCancelled}, nil
	case <-f.ready:
		return f.result, nil
	}
}

func (f *fakeAttestations) PollUntilComplete(ctx context.Context, hash ethcommon.Hash, _ time.Duration) (*attestation.Attestation, error) {
	f.mu.Lock()
	f.byHash = append(f.byHash, hash)
	f.mu.Unlock()
	return f.wait(ctx)
}

func (f *fakeAttestations) PollMessages(ctx context.Context, domain uint32, txID string, _ time.Duration) (*attestation.Attestation, error) {
	f.mu.Lock()
	f.byTx = append(f.byTx, txID)
	f.domains = append(f.domains, domain)
	f.mu.Unlock()
	return f.wait(ctx)
}

func (f *fakeAttestations) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

type testContext struct {
	o     *Orchestrator
	store *db.Database
	clock *clock.Mock
	eth   *fakeAdapter
	sol   *fakeAdapter
	att   *fakeAttestations

	mu          sync.Mutex
	transitions map[string][]transfer.State
}

func newTestContext(t *testing.T, cfg Config, att *fakeAttestations, preload ...*transfer.Transfer) *testContext {
	t.Helper()
	database, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	for _, p := range preload {
		require.NoError(t, database.StoreTransfer(p))
	}

	registry, err := chains.NewRegistry(chains.Testnet)
	require.NoError(t, err)

	tc := &testContext{
		store:       database,
		clock:       clock.NewMock(),
		eth:         newFakeAdapter(chains.ChainEthereum),
		sol:         newFakeAdapter(chains.ChainSolana),
		att:         att,
		transitions: map[string][]transfer.State{},
	}
	cfg.BlockchainPollInterval = pollInterval
	cfg.AttestationPollInterval = pollInterval
	tc.o = New(zap.NewNop(), database, registry, []adapters.ChainAdapter{tc.eth, tc.sol}, att,
		WithClock(tc.clock), WithConfig(cfg), WithTransitionHook(tc.record))

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- tc.o.Run(ctx) }()
	select {
	case <-tc.o.Started():
	case err := <-runErr:
		t.Fatalf("orchestrator exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not start")
	}

	t.Cleanup(func() {
		for _, tr := range tc.o.Transfers() {
			_ = tc.o.Cancel(tr.ID())
		}
		cancel()
		<-runErr
	})
	return tc
}

func (tc *testContext) record(s StateTransition) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.transitions[s.ID] = append(tc.transitions[s.ID], s.To)
}

func (tc *testContext) states(id string) []transfer.State {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return append([]transfer.State(nil), tc.transitions[id]...)
}

// waitForState advances the mock clock until the transfer reaches state.
func (tc *testContext) waitForState(t *testing.T, id string, state transfer.State) *transfer.Transfer {
	t.Helper()
	var last *transfer.Transfer
	require.Eventually(t, func() bool {
		tr, err := tc.o.Get(id)
		if err != nil {
			return false
		}
		last = tr
		if tr.State == state {
			return true
		}
		tc.clock.Add(pollInterval)
		return false
	}, 5*time.Second, time.Millisecond, "transfer %s never reached %s", id, state)
	return last
}

func completeAttestation(sig []byte, msg []byte) *fakeAttestations {
	return newFakeAttestations(&attestation.Attestation{Status: attestation.StatusComplete, Signature: sig, Message: msg})
}

func TestEVMToSolanaWithAutoRedeem(t *testing.T) {
	msg := []byte("burn message from ethereum")
	sig := []byte{0xab, 0xc0}
	att := completeAttestation(sig, nil)
	att.release()
	tc := newTestContext(t, Config{AutoRedeem: true}, att)

	tc.eth.script("ETH-burn-1", pending(), pending(), success(msg))
	tc.sol.script("SOLANA-redeem-1", pending(), success(nil))

	tr, err := tc.o.Submit(context.Background(), Request{
		SourceChain:      chains.ChainEthereum,
		DestinationChain: chains.ChainSolana,
		Amount:           1_000_000,
		Recipient:        solRecipient,
	})
	require.NoError(t, err)
	assert.Equal(t, "ETH-burn-1", tr.ID())
	assert.Equal(t, transfer.StateBurnSubmitted, tr.State)

	final := tc.waitForState(t, tr.ID(), transfer.StateRedeemed)
	assert.Equal(t, []transfer.State{
		transfer.StateBurnSubmitted,
		transfer.StateBurnConfirmed,
		transfer.StateAttestationPending,
		transfer.StateReadyToRedeem,
		transfer.StateRedeemSubmitted,
		transfer.StateRedeemed,
	}, tc.states(tr.ID()))
	assert.Equal(t, msg, []byte(final.Message))
	require.NotNil(t, final.MessageHash)
	assert.Equal(t, message.Hash(msg), *final.MessageHash)
	assert.Equal(t, sig, []byte(final.Attestation))
	assert.Equal(t, "SOLANA-redeem-1", final.RedeemTxID)
	assert.NotNil(t, final.RedeemedAt)

	require.Len(t, tc.eth.burns, 1)
	burn := tc.eth.burns[0]
	assert.Equal(t, chains.DomainSolana, burn.DestinationDomain)
	expectedRecipient, err := chains.AddressToBytes32(chains.ChainSolana, solRecipient)
	require.NoError(t, err)
	assert.Equal(t, expectedRecipient, burn.MintRecipient)

	att.mu.Lock()
	assert.Equal(t, []ethcommon.Hash{message.Hash(msg)}, att.byHash)
	assert.Empty(t, att.byTx)
	att.mu.Unlock()

	require.Equal(t, 1, tc.sol.redeemCount())
	redeem := tc.sol.redeems[0]
	assert.Equal(t, msg, redeem.Message)
	assert.Equal(t, sig, redeem.Attestation)
	assert.Equal(t, chains.DomainEthereum, redeem.SourceDomain)
	assert.Equal(t, solRecipient, redeem.Recipient)
	sourceToken, err := chains.AddressToBytes32(chains.ChainEthereum, ethSepoliaUSDC)
	require.NoError(t, err)
	assert.Equal(t, sourceToken, redeem.SourceToken)

	stored, err := tc.store.GetTransfer(tr.ID())
	require.NoError(t, err)
	assert.Equal(t, transfer.StateRedeemed, stored.State)
	assert.Empty(t, tc.o.Active())
}

func TestSolanaSourceDeliversMessageWithAttestation(t *testing.T) {
	msg := []byte("burn message from solana")
	att := completeAttestation([]byte{0x01}, msg)
	att.release()
	tc := newTestContext(t, Config{}, att)
	tc.sol.script("SOLANA-burn-1", deferred())
	tc.eth.script("ETH-redeem-1", success(nil))

	tr, err := tc.o.Submit(context.Background(), Request{
		SourceChain:      chains.ChainSolana,
		DestinationChain: chains.ChainEthereum,
		Amount:           5,
		Recipient:        ethRecipient,
	})
	require.NoError(t, err)

	ready := tc.waitForState(t, tr.ID(), transfer.StateReadyToRedeem)
	assert.Equal(t, msg, []byte(ready.Message))
	require.NotNil(t, ready.MessageHash)
	assert.Equal(t, message.Hash(msg), *ready.MessageHash)

	att.mu.Lock()
	assert.Equal(t, []string{"SOLANA-burn-1"}, att.byTx)
	assert.Equal(t, []uint32{chains.DomainSolana}, att.domains)
	att.mu.Unlock()

	// Without auto redeem the worker stops and waits for the user.
	assert.Equal(t, 0, tc.eth.redeemCount())

	_, err = tc.o.Redeem(context.Background(), tr.ID())
	require.NoError(t, err)
	tc.waitForState(t, tr.ID(), transfer.StateRedeemed)

	_, err = tc.o.Redeem(context.Background(), tr.ID())
	assert.ErrorIs(t, err, ErrAlreadyRedeemed)
	assert.Equal(t, 1, tc.eth.redeemCount())
}

func TestBurnRevertedFailsTransfer(t *testing.T) {
	att := completeAttestation([]byte{0x01}, nil)
	tc := newTestContext(t, Config{}, att)
	tc.eth.script("ETH-burn-1", receiptResult{receipt: &adapters.Receipt{Status: adapters.ReceiptFailed, Reason: "execution reverted"}})

	tr, err := tc.o.Submit(context.Background(), Request{SourceChain: chains.ChainEthereum, DestinationChain: chains.ChainSolana, Amount: 1, Recipient: solRecipient})
	require.NoError(t, err)

	failed := tc.waitForState(t, tr.ID(), transfer.StateFailed)
	assert.Contains(t, failed.FailureReason, "execution reverted")
	assert.Equal(t, []transfer.State{transfer.StateBurnSubmitted, transfer.StateFailed}, tc.states(tr.ID()))

	stored, err := tc.store.GetTransfer(tr.ID())
	require.NoError(t, err)
	assert.Equal(t, transfer.StateFailed, stored.State)

	att.mu.Lock()
	assert.Empty(t, att.byHash)
	att.mu.Unlock()
}

func TestBurnWithoutMessageEventFails(t *testing.T) {
	tc := newTestContext(t, Config{}, completeAttestation(nil, nil))
	tc.eth.script("ETH-burn-1", success(nil))

	tr, err := tc.o.Submit(context.Background(), Request{SourceChain: chains.ChainEthereum, DestinationChain: chains.ChainSolana, Amount: 1, Recipient: solRecipient})
	require.NoError(t, err)

	failed := tc.waitForState(t, tr.ID(), transfer.StateFailed)
	assert.Contains(t, failed.FailureReason, common.ErrEventNotFound.Error())
	assert.Nil(t, failed.Message)
}

func TestTransientReceiptErrorsAreRetried(t *testing.T) {
	msg := []byte("msg")
	att := completeAttestation([]byte{0x01}, nil)
	att.release()
	tc := newTestContext(t, Config{}, att)
	transient := receiptResult{err: fmt.Errorf("%w: connection refused", common.ErrTransientNetwork)}
	tc.eth.script("ETH-burn-1", transient, transient, success(msg))

	tr, err := tc.o.Submit(context.Background(), Request{SourceChain: chains.ChainEthereum, DestinationChain: chains.ChainSolana, Amount: 1, Recipient: solRecipient})
	require.NoError(t, err)

	tc.waitForState(t, tr.ID(), transfer.StateReadyToRedeem)
	assert.NotContains(t, tc.states(tr.ID()), transfer.StateFailed)
}

func TestAttestationCannotReplaceMessage(t *testing.T) {
	att := completeAttestation([]byte{0x01}, []byte("different"))
	att.release()
	tc := newTestContext(t, Config{}, att)
	tc.eth.script("ETH-burn-1", success([]byte("original")))

	tr, err := tc.o.Submit(context.Background(), Request{SourceChain: chains.ChainEthereum, DestinationChain: chains.ChainSolana, Amount: 1, Recipient: solRecipient})
	require.NoError(t, err)

	failed := tc.waitForState(t, tr.ID(), transfer.StateFailed)
	assert.Equal(t, []byte("original"), []byte(failed.Message))
	assert.Contains(t, failed.FailureReason, transfer.ErrMessageImmutable.Error())
}

func TestSubmitFailures(t *testing.T) {
	tc := newTestContext(t, Config{}, completeAttestation(nil, nil))
	req := Request{SourceChain: chains.ChainEthereum, DestinationChain: chains.ChainSolana, Amount: 1, Recipient: solRecipient}

	tc.eth.burnErr = fmt.Errorf("%w: insufficient allowance", common.ErrChainRejected)
	tr, err := tc.o.Submit(context.Background(), req)
	assert.ErrorIs(t, err, common.ErrChainRejected)
	require.NotNil(t, tr)
	assert.Equal(t, transfer.StateFailed, tr.State)
	assert.Contains(t, tr.FailureReason, "insufficient allowance")

	tc.eth.burnErr = fmt.Errorf("%w: timeout", common.ErrTransientNetwork)
	tr, err = tc.o.Submit(context.Background(), req)
	assert.ErrorIs(t, err, common.ErrTransientNetwork)
	require.NotNil(t, tr)
	assert.Equal(t, transfer.StateCreated, tr.State)

	tc.eth.burnErr = fmt.Errorf("%w: no wallet for ETH", common.ErrNotConfigured)
	tr, err = tc.o.Submit(context.Background(), req)
	assert.ErrorIs(t, err, common.ErrNotConfigured)
	require.NotNil(t, tr)
	assert.Equal(t, transfer.StateCreated, tr.State)

	stored, err := tc.store.GetTransfers(zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Empty(t, tc.o.Transfers())
}

func TestSubmitValidation(t *testing.T) {
	tc := newTestContext(t, Config{}, completeAttestation(nil, nil))
	ctx := context.Background()

	_, err := tc.o.Submit(ctx, Request{SourceChain: chains.ChainEthereum, DestinationChain: chains.ChainEthereum, Amount: 1, Recipient: ethRecipient})
	assert.Error(t, err)
	_, err = tc.o.Submit(ctx, Request{SourceChain: chains.ChainEthereum, DestinationChain: chains.ChainSolana, Amount: 0, Recipient: solRecipient})
	assert.Error(t, err)
	_, err = tc.o.Submit(ctx, Request{SourceChain: chains.ChainEthereum, DestinationChain: chains.ChainBase, Amount: 1, Recipient: ethRecipient})
	assert.ErrorIs(t, err, ErrNoAdapter)
	_, err = tc.o.Submit(ctx, Request{SourceChain: chains.ChainEthereum, DestinationChain: chains.ChainSolana, Amount: 1, Recipient: "0xnot-solana"})
	assert.Error(t, err)
	assert.Empty(t, tc.eth.burns)
}

func TestSubmitRequiresRun(t *testing.T) {
	registry, err := chains.NewRegistry(chains.Testnet)
	require.NoError(t, err)
	o := New(zap.NewNop(), &db.MockTransferDB{}, registry, nil, completeAttestation(nil, nil))
	_, err = o.Submit(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNotRunning)
}

func storedTransfer(id string, state transfer.State, msg []byte) *transfer.Transfer {
	now := time.Unix(1700000000, 0).UTC()
	t := &transfer.Transfer{
		SourceChain:      chains.ChainEthereum,
		DestinationChain: chains.ChainSolana,
		Amount:           100,
		Recipient:        solRecipient,
		SourceTxID:       id,
		State:            state,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if msg != nil {
		_ = t.SetMessage(msg)
	}
	return t
}

func TestRunResumesPersistedTransfers(t *testing.T) {
	pendingAtt := storedTransfer("0xpending", transfer.StateAttestationPending, []byte("pending"))
	ready := storedTransfer("0xready", transfer.StateReadyToRedeem, []byte("ready"))
	ready.SetAttestation([]byte{0x01})
	redeemed := storedTransfer("0xredeemed", transfer.StateRedeemed, []byte("redeemed"))
	redeemed.SetAttestation([]byte{0x01})
	redeeming := storedTransfer("0xredeeming", transfer.StateRedeemSubmitted, []byte("redeeming"))
	redeeming.SetAttestation([]byte{0x01})
	redeeming.RedeemTxID = "SOLANA-redeem-old"

	att := completeAttestation([]byte{0x02}, nil)
	att.release()

	tc := newTestContext(t, Config{}, att, pendingAtt, ready, redeemed, redeeming)
	tc.sol.script("SOLANA-redeem-old", success(nil))

	assert.Len(t, tc.o.Transfers(), 4)

	resumed := tc.waitForState(t, "0xpending", transfer.StateReadyToRedeem)
	assert.Equal(t, []byte{0x02}, []byte(resumed.Attestation))
	tc.waitForState(t, "0xredeeming", transfer.StateRedeemed)

	got, err := tc.o.Get("0xready")
	require.NoError(t, err)
	assert.Equal(t, transfer.StateReadyToRedeem, got.State)

	active := tc.o.Active()
	require.Len(t, active, 2)
	assert.ElementsMatch(t, []string{"0xpending", "0xready"}, []string{active[0].ID(), active[1].ID()})

	att.mu.Lock()
	assert.Equal(t, []ethcommon.Hash{message.Hash([]byte("pending"))}, att.byHash)
	att.mu.Unlock()
	assert.Equal(t, 0, tc.sol.redeemCount())
}

func TestCancelKeepsStateAndResume(t *testing.T) {
	att := completeAttestation([]byte{0x01}, nil)
	tc := newTestContext(t, Config{}, att)
	tc.eth.script("ETH-burn-1", success([]byte("msg")))

	tr, err := tc.o.Submit(context.Background(), Request{SourceChain: chains.ChainEthereum, DestinationChain: chains.ChainSolana, Amount: 1, Recipient: solRecipient})
	require.NoError(t, err)
	tc.waitForState(t, tr.ID(), transfer.StateAttestationPending)
	require.Eventually(t, func() bool {
		att.mu.Lock()
		defer att.mu.Unlock()
		return len(att.byHash) == 1
	}, 5*time.Second, time.Millisecond)

	_, err = tc.o.Redeem(context.Background(), tr.ID())
	assert.ErrorIs(t, err, ErrTransferBusy)

	require.NoError(t, tc.o.Cancel(tr.ID()))
	assert.Equal(t, 1, att.cancelCount())

	got, err := tc.o.Get(tr.ID())
	require.NoError(t, err)
	assert.Equal(t, transfer.StateAttestationPending, got.State)
	assert.Empty(t, got.FailureReason)

	_, err = tc.o.Redeem(context.Background(), tr.ID())
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, tc.o.Resume(tr.ID()))
	att.release()
	tc.waitForState(t, tr.ID(), transfer.StateReadyToRedeem)
}

func TestRedeemRejectedFailsTransfer(t *testing.T) {
	att := completeAttestation([]byte{0x01}, nil)
	att.release()
	tc := newTestContext(t, Config{}, att)
	tc.eth.script("ETH-burn-1", success([]byte("msg")))
	tc.sol.redeemErr = fmt.Errorf("%w: custom program error: 0x1", common.ErrChainRejected)

	tr, err := tc.o.Submit(context.Background(), Request{SourceChain: chains.ChainEthereum, DestinationChain: chains.ChainSolana, Amount: 1, Recipient: solRecipient})
	require.NoError(t, err)
	tc.waitForState(t, tr.ID(), transfer.StateReadyToRedeem)

	got, err := tc.o.Redeem(context.Background(), tr.ID())
	assert.ErrorIs(t, err, common.ErrChainRejected)
	require.NotNil(t, got)
	assert.Equal(t, transfer.StateFailed, got.State)
}

func TestRedeemTransientErrorKeepsReady(t *testing.T) {
	att := completeAttestation([]byte{0x01}, nil)
	att.release()
	tc := newTestContext(t, Config{}, att)
	tc.eth.script("ETH-burn-1", success([]byte("msg")))
	tc.sol.redeemErr = fmt.Errorf("%w: blockhash not found", common.ErrTransientNetwork)

	tr, err := tc.o.Submit(context.Background(), Request{SourceChain: chains.ChainEthereum, DestinationChain: chains.ChainSolana, Amount: 1, Recipient: solRecipient})
	require.NoError(t, err)
	tc.waitForState(t, tr.ID(), transfer.StateReadyToRedeem)

	got, err := tc.o.Redeem(context.Background(), tr.ID())
	assert.ErrorIs(t, err, common.ErrTransientNetwork)
	assert.Equal(t, transfer.StateReadyToRedeem, got.State)
}

func TestRemove(t *testing.T) {
	att := completeAttestation([]byte{0x01}, nil)
	att.release()
	tc := newTestContext(t, Config{}, att)
	tc.eth.script("ETH-burn-1", success([]byte("msg")))

	tr, err := tc.o.Submit(context.Background(), Request{SourceChain: chains.ChainEthereum, DestinationChain: chains.ChainSolana, Amount: 1, Recipient: solRecipient})
	require.NoError(t, err)
	tc.waitForState(t, tr.ID(), transfer.StateReadyToRedeem)

	require.NoError(t, tc.o.Remove(tr.ID()))
	_, err = tc.o.Get(tr.ID())
	assert.ErrorIs(t, err, ErrUnknownTransfer)
	_, err = tc.store.GetTransfer(tr.ID())
	assert.True(t, errors.Is(err, db.ErrTransferNotFound))

	assert.ErrorIs(t, tc.o.Remove("0xunknown"), ErrUnknownTransfer)
	_, err = tc.o.Redeem(context.Background(), "0xunknown")
	assert.ErrorIs(t, err, ErrUnknownTransfer)
}

func TestRedeemWithoutWalletKeepsReady(t *testing.T) {
	att := completeAttestation([]byte{0x01}, nil)
	att.release()
	tc := newTestContext(t, Config{}, att)
	tc.eth.script("ETH-burn-1", success([]byte("msg")))
	tc.sol.redeemErr = fmt.Errorf("%w: no wallet for SOLANA", common.ErrNotConfigured)

	tr, err := tc.o.Submit(context.Background(), Request{SourceChain: chains.ChainEthereum, DestinationChain: chains.ChainSolana, Amount: 1, Recipient: solRecipient})
	require.NoError(t, err)
	tc.waitForState(t, tr.ID(), transfer.StateReadyToRedeem)

	got, err := tc.o.Redeem(context.Background(), tr.ID())
	assert.ErrorIs(t, err, common.ErrNotConfigured)
	assert.Equal(t, transfer.StateReadyToRedeem, got.State)
	assert.Empty(t, got.FailureReason)
}

// runOrchestrator starts o and returns a function that stops it and waits for Run to return.
func runOrchestrator(t *testing.T, o *Orchestrator) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- o.Run(ctx) }()
	select {
	case <-o.Started():
	case err := <-runErr:
		t.Fatalf("orchestrator exited early: %v", err)
	}
	return func() {
		cancel()
		select {
		case err := <-runErr:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("orchestrator did not stop")
		}
	}
}

func (o *Orchestrator) workerRunning(id string) bool {
	e, err := o.lookup(id)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy
}

func TestResumeWithoutSourceAdapterKeepsTransfer(t *testing.T) {
	database, err := db.OpenInMemory()
	require.NoError(t, err)
	defer database.Close()

	solBurn := storedTransfer("SOLANA-burn-1", transfer.StateBurnSubmitted, nil)
	solBurn.SourceChain = chains.ChainSolana
	solBurn.DestinationChain = chains.ChainEthereum
	solBurn.Recipient = ethRecipient
	require.NoError(t, database.StoreTransfer(solBurn))

	registry, err := chains.NewRegistry(chains.Testnet)
	require.NoError(t, err)

	// Only the destination chain is configured in this process.
	var transitions []StateTransition
	var mu sync.Mutex
	o := New(zap.NewNop(), database, registry, []adapters.ChainAdapter{newFakeAdapter(chains.ChainEthereum)},
		completeAttestation(nil, nil), WithClock(clock.NewMock()), WithTransitionHook(func(st StateTransition) {
			mu.Lock()
			transitions = append(transitions, st)
			mu.Unlock()
		}))
	stop := runOrchestrator(t, o)

	require.Eventually(t, func() bool { return !o.workerRunning(solBurn.ID()) }, 5*time.Second, time.Millisecond)

	got, err := o.Get(solBurn.ID())
	require.NoError(t, err)
	assert.Equal(t, transfer.StateBurnSubmitted, got.State)
	assert.Empty(t, got.FailureReason)
	assert.Len(t, o.Active(), 1)
	mu.Lock()
	assert.Empty(t, transitions)
	mu.Unlock()
	stop()

	stored, err := database.GetTransfer(solBurn.ID())
	require.NoError(t, err)
	assert.Equal(t, transfer.StateBurnSubmitted, stored.State)
	assert.Empty(t, stored.FailureReason)

	// A process with the source chain configured picks the transfer up.
	sol := newFakeAdapter(chains.ChainSolana)
	sol.script(solBurn.SourceTxID, deferred())
	att := completeAttestation([]byte{0x01}, []byte("msg"))
	att.release()
	clk := clock.NewMock()
	o = New(zap.NewNop(), database, registry, []adapters.ChainAdapter{newFakeAdapter(chains.ChainEthereum), sol}, att,
		WithClock(clk), WithConfig(Config{BlockchainPollInterval: pollInterval, AttestationPollInterval: pollInterval}))
	stop = runOrchestrator(t, o)
	defer stop()

	require.Eventually(t, func() bool {
		tr, err := o.Get(solBurn.ID())
		if err == nil && tr.State == transfer.StateReadyToRedeem {
			return true
		}
		clk.Add(pollInterval)
		return false
	}, 5*time.Second, time.Millisecond)
}

func TestRunWaitsForWorkersWithBlockedHook(t *testing.T) {
	database, err := db.OpenInMemory()
	require.NoError(t, err)
	defer database.Close()

	var ids []string
	for i := 0; i < 4; i++ {
		tr := storedTransfer(fmt.Sprintf("0xconfirmed%d", i), transfer.StateBurnConfirmed, []byte{byte(i)})
		require.NoError(t, database.StoreTransfer(tr))
		ids = append(ids, tr.ID())
	}

	registry, err := chains.NewRegistry(chains.Testnet)
	require.NoError(t, err)

	// Nobody reads events, so all but one worker block in the hook until ctx is cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan StateTransition, 1)
	o := New(zap.NewNop(), database, registry, nil, completeAttestation(nil, nil),
		WithClock(clock.NewMock()), WithTransitionHook(func(st StateTransition) {
			select {
			case events <- st:
			case <-ctx.Done():
			}
		}))

	runErr := make(chan error, 1)
	go func() { runErr <- o.Run(ctx) }()
	<-o.Started()

	require.Eventually(t, func() bool {
		stored, err := database.GetTransfers(zap.NewNop())
		if err != nil {
			return false
		}
		for _, tr := range stored {
			if tr.State != transfer.StateAttestationPending {
				return false
			}
		}
		return true
	}, 5*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
	for _, id := range ids {
		assert.False(t, o.workerRunning(id), id)
	}
}
