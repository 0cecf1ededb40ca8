// Package transfer defines the persisted record of one cross-chain USDC transfer and its state machine.
package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/jup-ag/cctp-connect/pkg/chains"
	"github.com/jup-ag/cctp-connect/pkg/message"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type State string

const (
	StateCreated            State = "created"
	StateBurnSubmitted      State = "burn_submitted"
	StateBurnConfirmed      State = "burn_confirmed"
	StateAttestationPending State = "attestation_pending"
	StateReadyToRedeem      State = "ready_to_redeem"
	StateRedeemSubmitted    State = "redeem_submitted"
	StateRedeemed           State = "redeemed"
	StateFailed             State = "failed"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrMessageImmutable  = errors.New("message is already set to different bytes")
)

// transitions lists the allowed successor states. Failed is reachable from every non-terminal state.
var transitions = map[State][]State{
	StateCreated:            {StateBurnSubmitted},
	StateBurnSubmitted:      {StateBurnConfirmed},
	StateBurnConfirmed:      {StateAttestationPending},
	StateAttestationPending: {StateReadyToRedeem},
	StateReadyToRedeem:      {StateRedeemSubmitted},
	StateRedeemSubmitted:    {StateRedeemed},
}

func (s State) IsTerminal() bool {
	return s == StateRedeemed || s == StateFailed
}

// CanTransition reports whether from -> to is an edge of the transfer state machine.
func CanTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transfer is keyed by its source transaction id once the burn has been submitted.
type Transfer struct {
	SourceChain      chains.Chain    `json:"sourceChain"`
	DestinationChain chains.Chain    `json:"destinationChain"`
	Amount           uint64          `json:"amount"`
	Recipient        string          `json:"recipient"`
	SourceTxID       string          `json:"sourceTxId,omitempty"`
	Message          hexutil.Bytes   `json:"message,omitempty"`
	MessageHash      *ethcommon.Hash `json:"messageHash,omitempty"`
	Attestation      hexutil.Bytes   `json:"attestation,omitempty"`
	RedeemTxID       string          `json:"redeemTxId,omitempty"`
	State            State           `json:"state"`
	FailureReason    string          `json:"failureReason,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	RedeemedAt       *time.Time      `json:"redeemedAt,omitempty"`
}

func (t *Transfer) ID() string {
	return t.SourceTxID
}

// Transition moves the transfer to state to, or fails without modifying it.
func (t *Transfer) Transition(to State, now time.Time) error {
	if !CanTransition(t.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, to)
	}
	if to == StateReadyToRedeem && (t.Message == nil || t.Attestation == nil) {
		return fmt.Errorf("%w: %s requires message and attestation", ErrInvalidTransition, to)
	}
	t.State = to
	t.UpdatedAt = now
	if to == StateRedeemed {
		t.RedeemedAt = &now
	}
	return nil
}

// Fail moves the transfer to Failed and records the cause. Terminal transfers are left untouched.
func (t *Transfer) Fail(cause error, now time.Time) error {
	if err := t.Transition(StateFailed, now); err != nil {
		return err
	}
	if cause != nil {
		t.FailureReason = cause.Error()
	}
	return nil
}

// SetMessage records the burn message and its hash. The message can only be set once; setting the same
// bytes again is a no-op.
func (t *Transfer) SetMessage(msg []byte) error {
	if t.Message != nil {
		if bytes.Equal(t.Message, msg) {
			return nil
		}
		return ErrMessageImmutable
	}
	t.Message = append(hexutil.Bytes(nil), msg...)
	h := message.Hash(msg)
	t.MessageHash = &h
	return nil
}

func (t *Transfer) SetAttestation(signature []byte) {
	t.Attestation = append(hexutil.Bytes(nil), signature...)
}

// Clone returns a deep copy.
func (t *Transfer) Clone() *Transfer {
	c := *t
	if t.Message != nil {
		c.Message = append(hexutil.Bytes(nil), t.Message...)
	}
	if t.MessageHash != nil {
		h := *t.MessageHash
		c.MessageHash = &h
	}
	if t.Attestation != nil {
		c.Attestation = append(hexutil.Bytes(nil), t.Attestation...)
	}
	if t.RedeemedAt != nil {
		r := *t.RedeemedAt
		c.RedeemedAt = &r
	}
	return &c
}
