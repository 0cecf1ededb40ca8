// Package adapters defines the chain-family agnostic surface the orchestrator drives.
package adapters

import (
	"context"
	"errors"
	"fmt"

	"github.com/jup-ag/cctp-connect/pkg/chains"
	"github.com/jup-ag/cctp-connect/pkg/common"
)

type ReceiptStatus string

const (
	ReceiptPending ReceiptStatus = "pending"
	ReceiptSuccess ReceiptStatus = "success"
	ReceiptFailed  ReceiptStatus = "failed"
)

// BurnRequest asks the source chain to burn Amount base units of USDC for Recipient on DestinationChain.
type BurnRequest struct {
	Amount            uint64
	DestinationChain  chains.Chain
	DestinationDomain chains.Domain
	// Recipient is the destination-chain native address of the final token owner.
	Recipient string
	// MintRecipient is the 32 byte account the tokens are minted to on the destination chain.
	MintRecipient [32]byte
}

// RedeemRequest asks the destination chain to mint against an attested message.
type RedeemRequest struct {
	Message      []byte
	Attestation  []byte
	SourceChain  chains.Chain
	SourceDomain chains.Domain
	// Recipient is the destination-chain native address of the final token owner.
	Recipient string
	// SourceToken is the 32 byte form of the burned token on the source chain.
	SourceToken [32]byte
}

type Receipt struct {
	TxID   string
	Status ReceiptStatus
	// Reason describes a failed receipt.
	Reason string
	// Message is the cross-chain message emitted by a burn, when the chain exposes it in the receipt.
	Message []byte
	// MessageDeferred is set by chains whose receipts do not carry the message; it is then delivered
	// together with the attestation.
	MessageDeferred bool
}

// ChainAdapter is implemented once per chain family.
type ChainAdapter interface {
	Chain() chains.Chain
	// SubmitBurn submits the burn and returns its transaction id without waiting for confirmation.
	SubmitBurn(ctx context.Context, req BurnRequest) (string, error)
	// GetConfirmedReceipt returns a pending receipt while the transaction is not yet confirmed.
	GetConfirmedReceipt(ctx context.Context, txID string) (*Receipt, error)
	SubmitRedeem(ctx context.Context, req RedeemRequest) (string, error)
}

// MintRecipientResolver is implemented by destination adapters whose mint recipient differs from the
// owner address, e.g. a token account derived from the owner.
type MintRecipientResolver interface {
	ResolveMintRecipient(ctx context.Context, owner string) ([32]byte, error)
}

// ClassifySubmitError maps an error returned while submitting a transaction onto the shared error kinds.
// Transport failures are transient, anything the node answered with is a rejection.
func ClassifySubmitError(err error) error {
	if err == nil || common.IsFatal(err) || errors.Is(err, context.Canceled) || errors.Is(err, common.ErrNotConfigured) {
		return err
	}
	if common.IsNetworkError(err) {
		return fmt.Errorf("%w: %v", common.ErrTransientNetwork, err)
	}
	return fmt.Errorf("%w: %v", common.ErrChainRejected, err)
}
