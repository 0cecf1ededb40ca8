// Package orchestrator drives transfers through the burn, attestation and redeem state machine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jup-ag/cctp-connect/pkg/adapters"
	"github.com/jup-ag/cctp-connect/pkg/attestation"
	"github.com/jup-ag/cctp-connect/pkg/chains"
	"github.com/jup-ag/cctp-connect/pkg/common"
	"github.com/jup-ag/cctp-connect/pkg/db"
	"github.com/jup-ag/cctp-connect/pkg/transfer"

	"github.com/benbjohnson/clock"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var (
	ErrUnknownTransfer = errors.New("unknown transfer")
	ErrAlreadyRedeemed = errors.New("transfer is already redeemed")
	ErrTransferBusy    = errors.New("transfer has an operation in flight")
	ErrNotReady        = errors.New("transfer is not ready to redeem")
	ErrNotRunning      = errors.New("orchestrator is not running")
	ErrNoAdapter       = fmt.Errorf("no adapter: %w", common.ErrNotConfigured)
)

// AttestationSource is implemented by *attestation.Client.
type AttestationSource interface {
	PollUntilComplete(ctx context.Context, messageHash ethcommon.Hash, interval time.Duration) (*attestation.Attestation, error)
	PollMessages(ctx context.Context, sourceDomain uint32, txID string, interval time.Duration) (*attestation.Attestation, error)
}

// Request is a user's intent to move Amount base units of USDC.
type Request struct {
	SourceChain      chains.Chain
	DestinationChain chains.Chain
	Amount           uint64
	// Recipient is the owner address on the destination chain.
	Recipient string
}

// StateTransition is reported to the transition hook after it has been persisted.
type StateTransition struct {
	ID       string
	From     transfer.State
	To       transfer.State
	Transfer *transfer.Transfer
}

type Config struct {
	// BlockchainPollInterval spaces receipt lookups and retries of transient submit failures.
	BlockchainPollInterval time.Duration
	// AttestationPollInterval spaces attestation service requests.
	AttestationPollInterval time.Duration
	// AutoRedeem submits the redeem as soon as the attestation is available.
	AutoRedeem bool
}

func DefaultConfig() Config {
	return Config{
		BlockchainPollInterval:  time.Second,
		AttestationPollInterval: attestation.DefaultPollInterval,
	}
}

type Option func(*Orchestrator)

func WithClock(clk clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = clk }
}

func WithConfig(c Config) Option {
	return func(o *Orchestrator) {
		def := DefaultConfig()
		if c.BlockchainPollInterval <= 0 {
			c.BlockchainPollInterval = def.BlockchainPollInterval
		}
		if c.AttestationPollInterval <= 0 {
			c.AttestationPollInterval = def.AttestationPollInterval
		}
		o.config = c
	}
}

// WithTransitionHook registers f to be called synchronously after every persisted transition.
func WithTransitionHook(f func(StateTransition)) Option {
	return func(o *Orchestrator) { o.hook = f }
}

// entry holds a transfer and its worker. All fields may only be used while holding mu.
type entry struct {
	mu sync.Mutex
	t  *transfer.Transfer
	// busy is set while a worker or a user initiated redeem owns the transfer.
	busy   bool
	cancel context.CancelFunc
	done   chan struct{}
}

type Orchestrator struct {
	logger       *zap.Logger
	store        db.TransferDB
	registry     *chains.Registry
	adapters     map[chains.Chain]adapters.ChainAdapter
	attestations AttestationSource
	config       Config
	clock        clock.Clock
	hook         func(StateTransition)

	// entries may only be touched while holding entriesLock. entriesLock is never held while locking an entry.
	entries     map[string]*entry
	entriesLock sync.Mutex

	runCtx  context.Context
	started chan struct{}
	errC    chan error
	workers sync.WaitGroup
}

func New(logger *zap.Logger, store db.TransferDB, registry *chains.Registry, chainAdapters []adapters.ChainAdapter, attestations AttestationSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:       logger.With(zap.String("component", "orchestrator")),
		store:        store,
		registry:     registry,
		adapters:     make(map[chains.Chain]adapters.ChainAdapter, len(chainAdapters)),
		attestations: attestations,
		config:       DefaultConfig(),
		clock:        clock.New(),
		entries:      map[string]*entry{},
		started:      make(chan struct{}),
		errC:         make(chan error, 64),
	}
	for _, a := range chainAdapters {
		o.adapters[a.Chain()] = a
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Started is closed once Run has loaded the store and accepts work.
func (o *Orchestrator) Started() <-chan struct{} {
	return o.started
}

func (o *Orchestrator) running() context.Context {
	select {
	case <-o.started:
		return o.runCtx
	default:
		return nil
	}
}

// Run loads persisted transfers, resumes every non-terminal one and blocks until ctx is cancelled and every
// worker has exited.
func (o *Orchestrator) Run(ctx context.Context) error {
	stored, err := o.store.GetTransfers(o.logger)
	if err != nil {
		return fmt.Errorf("failed to load transfers: %w", err)
	}

	o.entriesLock.Lock()
	resumable := make([]*entry, 0, len(stored))
	for _, t := range stored {
		if _, exists := o.entries[t.ID()]; exists {
			continue
		}
		e := &entry{t: t}
		o.entries[t.ID()] = e
		if !t.State.IsTerminal() {
			resumable = append(resumable, e)
		}
	}
	o.entriesLock.Unlock()

	o.logger.Info("loaded transfers", zap.Int("total", len(stored)), zap.Int("resumable", len(resumable)))
	for _, e := range resumable {
		e.mu.Lock()
		o.logger.Info("resuming transfer", zap.String("id", e.t.ID()), zap.String("state", string(e.t.State)))
		o.startWorkerLocked(ctx, e)
		e.mu.Unlock()
	}
	o.updateActive()

	o.runCtx = ctx
	close(o.started)

	for {
		select {
		case <-ctx.Done():
			o.workers.Wait()
			return nil
		case err := <-o.errC:
			o.logger.Error("transfer worker exited with error", zap.Error(err))
		}
	}
}

func (o *Orchestrator) adapter(c chains.Chain) (adapters.ChainAdapter, error) {
	a, ok := o.adapters[c]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, c)
	}
	return a, nil
}

// Submit validates the request and submits the burn on the source chain. On success the transfer is persisted
// in BurnSubmitted and followed in the background. A fatal submit error returns the transfer in Failed, any
// other submit error returns it in Created. Neither is persisted since the transfer has no transaction id.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*transfer.Transfer, error) {
	runCtx := o.running()
	if runCtx == nil {
		return nil, ErrNotRunning
	}
	if req.Amount == 0 {
		return nil, errors.New("amount must be positive")
	}
	if req.SourceChain == req.DestinationChain {
		return nil, fmt.Errorf("source and destination chain are both %s", req.SourceChain)
	}
	src, err := o.adapter(req.SourceChain)
	if err != nil {
		return nil, err
	}
	dst, err := o.adapter(req.DestinationChain)
	if err != nil {
		return nil, err
	}
	dstInfo, err := o.registry.Lookup(req.DestinationChain)
	if err != nil {
		return nil, err
	}

	var mintRecipient [32]byte
	if r, ok := dst.(adapters.MintRecipientResolver); ok {
		mintRecipient, err = r.ResolveMintRecipient(ctx, req.Recipient)
	} else {
		mintRecipient, err = chains.AddressToBytes32(req.DestinationChain, req.Recipient)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q for %s: %w", req.Recipient, req.DestinationChain, err)
	}

	now := o.clock.Now()
	t := &transfer.Transfer{
		SourceChain:      req.SourceChain,
		DestinationChain: req.DestinationChain,
		Amount:           req.Amount,
		Recipient:        req.Recipient,
		State:            transfer.StateCreated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	txID, err := src.SubmitBurn(ctx, adapters.BurnRequest{
		Amount:            req.Amount,
		DestinationChain:  req.DestinationChain,
		DestinationDomain: dstInfo.Domain,
		Recipient:         req.Recipient,
		MintRecipient:     mintRecipient,
	})
	if err != nil {
		if !common.IsFatal(err) || ctx.Err() != nil {
			return t, fmt.Errorf("failed to submit burn: %w", err)
		}
		if failErr := t.Fail(err, o.clock.Now()); failErr != nil {
			return nil, failErr
		}
		o.recordFailure(t, err)
		o.notify(StateTransition{From: transfer.StateCreated, To: transfer.StateFailed, Transfer: t.Clone()})
		return t, fmt.Errorf("failed to submit burn: %w", err)
	}

	t.SourceTxID = txID
	if err := t.Transition(transfer.StateBurnSubmitted, o.clock.Now()); err != nil {
		return nil, err
	}
	transfersSubmittedTotal.WithLabelValues(req.SourceChain.String(), req.DestinationChain.String()).Inc()

	e := &entry{t: t}
	o.entriesLock.Lock()
	o.entries[txID] = e
	o.entriesLock.Unlock()

	// The burn is on chain at this point, so the transfer is followed even if it could not be persisted.
	storeErr := o.store.StoreTransfer(t)
	if storeErr != nil {
		o.logger.Error("failed to persist submitted transfer", zap.String("id", txID), zap.Error(storeErr))
	}
	snapshot := t.Clone()
	o.recordTransition(transfer.StateCreated, transfer.StateBurnSubmitted)
	o.notify(StateTransition{ID: txID, From: transfer.StateCreated, To: transfer.StateBurnSubmitted, Transfer: t.Clone()})

	e.mu.Lock()
	o.startWorkerLocked(runCtx, e)
	e.mu.Unlock()
	o.updateActive()

	o.logger.Info("submitted transfer",
		zap.String("id", txID),
		zap.Stringer("source", req.SourceChain),
		zap.Stringer("destination", req.DestinationChain),
		zap.String("amount", common.FormatAmount(req.Amount, chains.USDCDecimals)),
		zap.String("recipient", req.Recipient))
	if storeErr != nil {
		return snapshot, fmt.Errorf("burn %s submitted but not persisted: %w", txID, storeErr)
	}
	return snapshot, nil
}

// Redeem submits the redeem of a transfer that is ready to redeem and follows it until it is confirmed.
func (o *Orchestrator) Redeem(ctx context.Context, id string) (*transfer.Transfer, error) {
	e, err := o.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	switch {
	case e.t.State == transfer.StateRedeemed:
		e.mu.Unlock()
		return nil, ErrAlreadyRedeemed
	case e.busy:
		e.mu.Unlock()
		return nil, ErrTransferBusy
	case e.t.State != transfer.StateReadyToRedeem:
		state := e.t.State
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: transfer is %s", ErrNotReady, state)
	}
	e.busy = true
	snapshot := e.t.Clone()
	e.mu.Unlock()

	err = o.submitRedeem(ctx, e, snapshot)
	if common.IsFatal(err) && ctx.Err() == nil {
		o.fail(e, err)
	}

	e.mu.Lock()
	e.busy = false
	if err == nil {
		if runCtx := o.running(); runCtx != nil {
			o.startWorkerLocked(runCtx, e)
		}
	}
	result := e.t.Clone()
	e.mu.Unlock()
	return result, err
}

// Cancel stops the transfer's worker and waits for it to exit. The transfer keeps its state.
func (o *Orchestrator) Cancel(id string) error {
	e, err := o.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	o.logger.Info("cancelled transfer", zap.String("id", id))
	return nil
}

// Resume restarts the worker of a cancelled transfer.
func (o *Orchestrator) Resume(id string) error {
	runCtx := o.running()
	if runCtx == nil {
		return ErrNotRunning
	}
	e, err := o.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return ErrTransferBusy
	}
	o.startWorkerLocked(runCtx, e)
	return nil
}

// Remove cancels a transfer and deletes it from the store.
func (o *Orchestrator) Remove(id string) error {
	if err := o.Cancel(id); err != nil {
		return err
	}
	o.entriesLock.Lock()
	delete(o.entries, id)
	o.entriesLock.Unlock()
	o.updateActive()

	if err := o.store.DeleteTransfer(id); err != nil {
		return fmt.Errorf("failed to delete transfer %s: %w", id, err)
	}
	o.logger.Info("removed transfer", zap.String("id", id))
	return nil
}

// Get returns a copy of the transfer.
func (o *Orchestrator) Get(id string) (*transfer.Transfer, error) {
	e, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.t.Clone(), nil
}

// Transfers returns copies of all known transfers, oldest first.
func (o *Orchestrator) Transfers() []*transfer.Transfer {
	return o.snapshot(func(*transfer.Transfer) bool { return true })
}

// Active returns copies of the transfers that have not reached a terminal state.
func (o *Orchestrator) Active() []*transfer.Transfer {
	return o.snapshot(func(t *transfer.Transfer) bool { return !t.State.IsTerminal() })
}

func (o *Orchestrator) snapshot(filter func(*transfer.Transfer) bool) []*transfer.Transfer {
	o.entriesLock.Lock()
	entries := make([]*entry, 0, len(o.entries))
	for _, e := range o.entries {
		entries = append(entries, e)
	}
	o.entriesLock.Unlock()

	out := make([]*transfer.Transfer, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if filter(e.t) {
			out = append(out, e.t.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID() < out[j].ID()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (o *Orchestrator) lookup(id string) (*entry, error) {
	o.entriesLock.Lock()
	defer o.entriesLock.Unlock()
	e, ok := o.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransfer, id)
	}
	return e, nil
}

func (o *Orchestrator) updateActive() {
	activeTransfers.Set(float64(len(o.Active())))
}

func (o *Orchestrator) notify(s StateTransition) {
	if o.hook != nil {
		o.hook(s)
	}
}

func (o *Orchestrator) recordTransition(from, to transfer.State) {
	stateTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

func (o *Orchestrator) recordFailure(t *transfer.Transfer, cause error) {
	transferFailuresTotal.WithLabelValues(common.Cause(cause)).Inc()
	if errors.Is(cause, common.ErrDerivationExhausted) {
		o.logger.DPanic("program address derivation exhausted all bump seeds", zap.String("id", t.ID()), zap.Error(cause))
		return
	}
	o.logger.Error("transfer failed", zap.String("id", t.ID()), zap.String("state", string(t.State)), zap.Error(cause))
}

func isRetryable(err error) bool {
	return errors.Is(err, common.ErrTransientNetwork) || common.IsNetworkError(err)
}
