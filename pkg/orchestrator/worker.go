package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jup-ag/cctp-connect/pkg/adapters"
	"github.com/jup-ag/cctp-connect/pkg/attestation"
	"github.com/jup-ag/cctp-connect/pkg/chains"
	"github.com/jup-ag/cctp-connect/pkg/common"
	"github.com/jup-ag/cctp-connect/pkg/transfer"

	"go.uber.org/zap"
)

// startWorkerLocked spawns the goroutine driving e. The caller must hold e.mu.
func (o *Orchestrator) startWorkerLocked(parent context.Context, e *entry) {
	if e.busy || e.t.State.IsTerminal() || e.t.State == transfer.StateCreated || parent.Err() != nil {
		return
	}
	if e.t.State == transfer.StateReadyToRedeem && !o.config.AutoRedeem {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	e.busy, e.cancel, e.done = true, cancel, done

	id := e.t.ID()
	o.workers.Add(1)
	common.RunWithScissors(ctx, o.errC, "transfer_"+id, func(ctx context.Context) error {
		defer o.workers.Done()
		defer func() {
			e.mu.Lock()
			if e.done == done {
				e.busy, e.cancel, e.done = false, nil, nil
			}
			e.mu.Unlock()
			cancel()
			close(done)
			o.updateActive()
		}()
		return o.drive(ctx, e)
	})
}

// drive advances the transfer one step at a time until it is terminal, waits for the user or ctx is cancelled.
// Transient errors are retried and fatal errors fail the transfer. Any other error stops the worker and leaves
// the transfer in its current state, so it can be resumed once the chain is configured.
func (o *Orchestrator) drive(ctx context.Context, e *entry) error {
	logger := o.logger.With(zap.String("id", o.idOf(e)))
	for {
		if ctx.Err() != nil {
			return nil
		}

		e.mu.Lock()
		snapshot := e.t.Clone()
		e.mu.Unlock()

		var err error
		switch snapshot.State {
		case transfer.StateBurnSubmitted:
			err = o.confirmBurn(ctx, e, snapshot)
		case transfer.StateBurnConfirmed:
			err = o.commit(e, func(t *transfer.Transfer) error {
				return t.Transition(transfer.StateAttestationPending, o.clock.Now())
			})
		case transfer.StateAttestationPending:
			err = o.awaitAttestation(ctx, e, snapshot)
		case transfer.StateReadyToRedeem:
			if !o.config.AutoRedeem {
				logger.Info("transfer is ready to redeem")
				return nil
			}
			err = o.submitRedeem(ctx, e, snapshot)
		case transfer.StateRedeemSubmitted:
			err = o.confirmRedeem(ctx, e, snapshot)
		default:
			return nil
		}

		switch {
		case ctx.Err() != nil:
			// The result of a request that was in flight on cancellation is discarded.
			return nil
		case err == nil:
		case errors.Is(err, errStore):
			return err
		case isRetryable(err):
			transientErrorsTotal.WithLabelValues(string(snapshot.State)).Inc()
			logger.Warn("transient error, retrying", zap.String("state", string(snapshot.State)), zap.Error(err))
			if !o.sleep(ctx, o.config.BlockchainPollInterval) {
				return nil
			}
		case common.IsFatal(err):
			o.fail(e, err)
			return nil
		case errors.Is(err, common.ErrNotConfigured):
			logger.Warn("transfer paused", zap.String("state", string(snapshot.State)), zap.Error(err))
			return nil
		default:
			logger.Error("transfer paused on unexpected error", zap.String("state", string(snapshot.State)), zap.Error(err))
			return nil
		}
	}
}

func (o *Orchestrator) idOf(e *entry) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.t.ID()
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-o.clock.After(d):
		return true
	}
}

var errStore = errors.New("failed to persist transfer")

// commit applies mutate to a copy of the transfer, persists it and only then makes it visible.
func (o *Orchestrator) commit(e *entry, mutate func(t *transfer.Transfer) error) error {
	e.mu.Lock()
	from := e.t.State
	next := e.t.Clone()
	if err := mutate(next); err != nil {
		e.mu.Unlock()
		return err
	}
	if err := o.store.StoreTransfer(next); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w %s: %v", errStore, next.ID(), err)
	}
	e.t = next
	snapshot := next.Clone()
	e.mu.Unlock()

	if from != snapshot.State {
		o.recordTransition(from, snapshot.State)
		o.logger.Info("transfer state changed",
			zap.String("id", snapshot.ID()),
			zap.String("from", string(from)),
			zap.String("to", string(snapshot.State)))
		o.notify(StateTransition{ID: snapshot.ID(), From: from, To: snapshot.State, Transfer: snapshot})
	}
	return nil
}

func (o *Orchestrator) fail(e *entry, cause error) {
	err := o.commit(e, func(t *transfer.Transfer) error {
		return t.Fail(cause, o.clock.Now())
	})
	if err != nil {
		o.logger.Error("failed to mark transfer as failed", zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	e.mu.Lock()
	t := e.t.Clone()
	e.mu.Unlock()
	o.recordFailure(t, cause)
}

// pollReceipt asks the adapter for the receipt once per blockchain poll interval until it is no longer pending.
func (o *Orchestrator) pollReceipt(ctx context.Context, a adapters.ChainAdapter, txID string) (*adapters.Receipt, error) {
	ticker := o.clock.Ticker(o.config.BlockchainPollInterval)
	defer ticker.Stop()

	for {
		r, err := a.GetConfirmedReceipt(ctx, txID)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		switch {
		case err != nil && isRetryable(err):
			o.logger.Debug("receipt lookup failed, retrying", zap.Stringer("chain", a.Chain()), zap.String("tx", txID), zap.Error(err))
		case err != nil:
			return nil, err
		case r.Status != adapters.ReceiptPending:
			return r, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) confirmBurn(ctx context.Context, e *entry, t *transfer.Transfer) error {
	src, err := o.adapter(t.SourceChain)
	if err != nil {
		return err
	}
	r, err := o.pollReceipt(ctx, src, t.SourceTxID)
	if err != nil {
		return err
	}
	if r.Status == adapters.ReceiptFailed {
		return fmt.Errorf("%w: burn %s failed: %s", common.ErrChainRejected, t.SourceTxID, r.Reason)
	}
	if r.Message == nil && !r.MessageDeferred {
		return fmt.Errorf("%w: burn %s", common.ErrEventNotFound, t.SourceTxID)
	}

	return o.commit(e, func(t *transfer.Transfer) error {
		if r.Message != nil {
			if err := t.SetMessage(r.Message); err != nil {
				return fmt.Errorf("%w: %v", common.ErrMalformedMessage, err)
			}
		}
		return t.Transition(transfer.StateBurnConfirmed, o.clock.Now())
	})
}

// awaitAttestation polls by message hash when the message is known and by source transaction otherwise.
func (o *Orchestrator) awaitAttestation(ctx context.Context, e *entry, t *transfer.Transfer) error {
	interval := o.config.AttestationPollInterval

	var att *attestation.Attestation
	var err error
	if t.MessageHash != nil {
		att, err = o.attestations.PollUntilComplete(ctx, *t.MessageHash, interval)
	} else {
		var info chains.Info
		info, err = o.registry.Lookup(t.SourceChain)
		if err != nil {
			return err
		}
		att, err = o.attestations.PollMessages(ctx, info.Domain, t.SourceTxID, interval)
	}
	if err != nil {
		return err
	}
	if !att.Complete() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: attestation poll ended with status %s", common.ErrTransientNetwork, att.Status)
	}

	return o.commit(e, func(t *transfer.Transfer) error {
		if att.Message != nil {
			if err := t.SetMessage(att.Message); err != nil {
				return fmt.Errorf("%w: %v", common.ErrMalformedMessage, err)
			}
		}
		if t.Message == nil {
			return fmt.Errorf("%w: attestation for %s carries no message", common.ErrMalformedMessage, t.SourceTxID)
		}
		t.SetAttestation(att.Signature)
		return t.Transition(transfer.StateReadyToRedeem, o.clock.Now())
	})
}

func (o *Orchestrator) submitRedeem(ctx context.Context, e *entry, t *transfer.Transfer) error {
	dst, err := o.adapter(t.DestinationChain)
	if err != nil {
		return err
	}
	srcInfo, err := o.registry.Lookup(t.SourceChain)
	if err != nil {
		return err
	}
	sourceToken, err := chains.AddressToBytes32(t.SourceChain, srcInfo.USDC)
	if err != nil {
		return err
	}

	txID, err := dst.SubmitRedeem(ctx, adapters.RedeemRequest{
		Message:      t.Message,
		Attestation:  t.Attestation,
		SourceChain:  t.SourceChain,
		SourceDomain: srcInfo.Domain,
		Recipient:    t.Recipient,
		SourceToken:  sourceToken,
	})
	if err != nil {
		return err
	}

	return o.commit(e, func(t *transfer.Transfer) error {
		t.RedeemTxID = txID
		return t.Transition(transfer.StateRedeemSubmitted, o.clock.Now())
	})
}

func (o *Orchestrator) confirmRedeem(ctx context.Context, e *entry, t *transfer.Transfer) error {
	dst, err := o.adapter(t.DestinationChain)
	if err != nil {
		return err
	}
	r, err := o.pollReceipt(ctx, dst, t.RedeemTxID)
	if err != nil {
		return err
	}
	if r.Status == adapters.ReceiptFailed {
		return fmt.Errorf("%w: redeem %s failed: %s", common.ErrChainRejected, t.RedeemTxID, r.Reason)
	}

	err = o.commit(e, func(t *transfer.Transfer) error {
		return t.Transition(transfer.StateRedeemed, o.clock.Now())
	})
	if err == nil {
		transferDuration.Observe(o.clock.Since(t.CreatedAt).Seconds())
	}
	return err
}
