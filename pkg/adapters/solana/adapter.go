// Package solana implements the chain adapter for the CCTP programs on Solana.
package solana

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jup-ag/cctp-connect/pkg/adapters"
	"github.com/jup-ag/cctp-connect/pkg/chains"
	"github.com/jup-ag/cctp-connect/pkg/common"
	"github.com/jup-ag/cctp-connect/pkg/derive"
	"github.com/jup-ag/cctp-connect/pkg/message"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// RPC is the subset of *rpc.Client the adapter uses.
type RPC interface {
	derive.AccountFetcher
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
}

const derivationCacheSize = 256

type Adapter struct {
	chain      chains.Info
	programs   derive.Programs
	rpc        RPC
	wallet     Wallet
	cache      *derive.Cache
	commitment rpc.CommitmentType
	logger     *zap.Logger

	// newEventKey creates the keypair holding a burn's outgoing message.
	newEventKey func() (solana.PrivateKey, error)
}

var _ adapters.ChainAdapter = (*Adapter)(nil)
var _ adapters.MintRecipientResolver = (*Adapter)(nil)

type Option func(*Adapter)

// WithCommitment sets the commitment a transaction must reach to count as confirmed. Defaults to confirmed.
func WithCommitment(c rpc.CommitmentType) Option {
	return func(a *Adapter) { a.commitment = c }
}

// NewAdapter binds the CCTP programs of chain. wallet may be nil for read-only use; submitting then fails.
func NewAdapter(chain chains.Info, client RPC, wallet Wallet, logger *zap.Logger, opts ...Option) (*Adapter, error) {
	if chain.Family != chains.FamilySolana {
		return nil, fmt.Errorf("chain %s is not a solana chain", chain.Chain)
	}

	var programs derive.Programs
	for _, p := range []struct {
		out  *solana.PublicKey
		addr string
	}{
		{&programs.MessageTransmitter, chain.MessageTransmitter},
		{&programs.TokenMessengerMinter, chain.TokenMessenger},
		{&programs.USDCMint, chain.USDC},
	} {
		pk, err := solana.PublicKeyFromBase58(p.addr)
		if err != nil {
			return nil, fmt.Errorf("invalid program address %q for %s: %w", p.addr, chain.Chain, err)
		}
		*p.out = pk
	}

	cache, err := derive.NewCache(derivationCacheSize)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		chain:       chain,
		programs:    programs,
		rpc:         client,
		wallet:      wallet,
		cache:       cache,
		commitment:  rpc.CommitmentConfirmed,
		logger:      logger.With(zap.String("chain", chain.Chain.String())),
		newEventKey: solana.NewRandomPrivateKey,
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Dial creates an adapter talking to rpcURL.
func Dial(chain chains.Info, rpcURL string, wallet Wallet, logger *zap.Logger, opts ...Option) (*Adapter, error) {
	return NewAdapter(chain, rpc.New(rpcURL), wallet, logger, opts...)
}

func (a *Adapter) Chain() chains.Chain {
	return a.chain.Chain
}

// ResolveMintRecipient returns owner's USDC token account, which is where the TokenMessengerMinter mints.
func (a *Adapter) ResolveMintRecipient(_ context.Context, owner string) ([32]byte, error) {
	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return [32]byte{}, fmt.Errorf("invalid solana address %q: %w", owner, err)
	}
	ata, err := derive.AssociatedTokenAddress(ownerKey, a.programs.USDCMint)
	if err != nil {
		return [32]byte{}, err
	}
	return ata, nil
}

// SubmitBurn burns from the wallet's USDC token account.
func (a *Adapter) SubmitBurn(ctx context.Context, req adapters.BurnRequest) (string, error) {
	if a.wallet == nil {
		return "", fmt.Errorf("%w: no wallet for %s", common.ErrNotConfigured, a.chain.Chain)
	}
	owner := a.wallet.PublicKey()

	accts, err := a.cache.DepositForBurnAccounts(a.programs, req.DestinationDomain)
	if err != nil {
		return "", err
	}
	burnAccount, err := derive.AssociatedTokenAddress(owner, a.programs.USDCMint)
	if err != nil {
		return "", err
	}
	eventKey, err := a.newEventKey()
	if err != nil {
		return "", err
	}

	inst, err := DepositForBurnInstruction(a.programs, accts, owner, burnAccount, eventKey.PublicKey(), DepositForBurnParams{
		Amount:            req.Amount,
		DestinationDomain: req.DestinationDomain,
		MintRecipient:     solana.PublicKeyFromBytes(req.MintRecipient[:]),
	})
	if err != nil {
		return "", err
	}

	sig, err := a.send(ctx, []solana.Instruction{inst}, eventKey)
	if err != nil {
		return "", err
	}
	a.logger.Info("submitted deposit_for_burn",
		zap.Stringer("signature", sig),
		zap.Uint64("amount", req.Amount),
		zap.Uint32("destinationDomain", req.DestinationDomain),
		zap.Stringer("eventData", eventKey.PublicKey()))
	return sig.String(), nil
}

// GetConfirmedReceipt maps the signature status onto a receipt. Solana receipts never carry the message;
// it is delivered by the attestation service instead.
func (a *Adapter) GetConfirmedReceipt(ctx context.Context, txID string) (*adapters.Receipt, error) {
	sig, err := solana.SignatureFromBase58(txID)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction id %q: %w", txID, err)
	}

	res, err := a.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get signature status for %s: %v", common.ErrTransientNetwork, txID, err)
	}

	pending := &adapters.Receipt{TxID: txID, Status: adapters.ReceiptPending, MessageDeferred: true}
	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return pending, nil
	}
	status := res.Value[0]
	if status.Err != nil {
		return &adapters.Receipt{TxID: txID, Status: adapters.ReceiptFailed, Reason: fmt.Sprint(status.Err), MessageDeferred: true}, nil
	}
	if !a.reached(status.ConfirmationStatus) {
		return pending, nil
	}
	return &adapters.Receipt{TxID: txID, Status: adapters.ReceiptSuccess, MessageDeferred: true}, nil
}

func (a *Adapter) reached(s rpc.ConfirmationStatusType) bool {
	switch s {
	case rpc.ConfirmationStatusFinalized:
		return true
	case rpc.ConfirmationStatusConfirmed:
		return a.commitment != rpc.CommitmentFinalized
	case rpc.ConfirmationStatusProcessed:
		return a.commitment == rpc.CommitmentProcessed
	}
	return false
}

// SubmitRedeem calls receive_message. The recipient's token account is created in the same transaction
// when it does not exist yet.
func (a *Adapter) SubmitRedeem(ctx context.Context, req adapters.RedeemRequest) (string, error) {
	if a.wallet == nil {
		return "", fmt.Errorf("%w: no wallet for %s", common.ErrNotConfigured, a.chain.Chain)
	}
	payer := a.wallet.PublicKey()

	header, err := message.ParseHeader(req.Message)
	if err != nil {
		return "", err
	}
	burn, err := message.ParseBurnMessage(header.Body)
	if err != nil {
		return "", err
	}
	nonce, err := message.DecodeNonce(req.Message)
	if err != nil {
		return "", err
	}
	if !nonce.IsUint64() {
		return "", fmt.Errorf("%w: nonce %s out of range", common.ErrMalformedMessage, nonce)
	}

	remoteToken := req.SourceToken
	if remoteToken == ([32]byte{}) {
		remoteToken = burn.BurnToken
	}
	accts, err := a.cache.ReceiveMessageAccounts(a.programs, header.SourceDomain, remoteToken, nonce.Uint64())
	if err != nil {
		return "", err
	}

	recipientAccount := solana.PublicKeyFromBytes(burn.MintRecipient[:])
	var instructions []solana.Instruction
	if req.Recipient != "" {
		owner, err := solana.PublicKeyFromBase58(req.Recipient)
		if err != nil {
			return "", fmt.Errorf("invalid solana address %q: %w", req.Recipient, err)
		}
		ata, create, err := derive.GetOrCreateAssociatedAccount(ctx, a.rpc, a.programs.USDCMint, owner, payer)
		if err != nil {
			return "", err
		}
		if !ata.Equals(recipientAccount) {
			return "", fmt.Errorf("%w: message mints to %s, not to the token account %s of %s", common.ErrChainRejected, recipientAccount, ata, owner)
		}
		if create != nil {
			a.logger.Info("creating recipient token account", zap.Stringer("owner", owner), zap.Stringer("account", ata))
			instructions = append(instructions, create)
		}
	}

	inst, err := ReceiveMessageInstruction(a.programs, accts, payer, recipientAccount, ReceiveMessageParams{
		Message:     req.Message,
		Attestation: req.Attestation,
	})
	if err != nil {
		return "", err
	}
	instructions = append(instructions, inst)

	sig, err := a.send(ctx, instructions)
	if err != nil {
		return "", err
	}
	a.logger.Info("submitted receive_message",
		zap.Stringer("signature", sig),
		zap.Uint32("sourceDomain", header.SourceDomain),
		zap.Uint64("nonce", nonce.Uint64()),
		zap.Stringer("usedNonces", accts.UsedNonces))
	return sig.String(), nil
}

// Balance returns owner's USDC balance in base units. An owner without a token account holds nothing.
func (a *Adapter) Balance(ctx context.Context, owner string) (*big.Int, error) {
	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return nil, fmt.Errorf("invalid solana address %q: %w", owner, err)
	}
	ata, err := derive.AssociatedTokenAddress(ownerKey, a.programs.USDCMint)
	if err != nil {
		return nil, err
	}
	exists, err := derive.AccountExists(ctx, a.rpc, ata)
	if err != nil {
		return nil, err
	}
	if !exists {
		return big.NewInt(0), nil
	}

	res, err := a.rpc.GetTokenAccountBalance(ctx, ata, a.commitment)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get token balance of %s: %v", common.ErrTransientNetwork, ata, err)
	}
	if res == nil || res.Value == nil {
		return big.NewInt(0), nil
	}
	balance, ok := new(big.Int).SetString(res.Value.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid token amount %q", res.Value.Amount)
	}
	return balance, nil
}

func (a *Adapter) latestBlockhash(ctx context.Context) (solana.Hash, error) {
	var hash solana.Hash
	op := func() error {
		res, err := a.rpc.GetLatestBlockhash(ctx, a.commitment)
		if err != nil {
			return err
		}
		if res == nil || res.Value == nil {
			return errors.New("empty blockhash response")
		}
		hash = res.Value.Blockhash
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if ctx.Err() != nil {
			return solana.Hash{}, ctx.Err()
		}
		return solana.Hash{}, fmt.Errorf("%w: failed to get latest blockhash: %v", common.ErrTransientNetwork, err)
	}
	return hash, nil
}

// send signs instructions with the wallet, which also pays, plus any extra signers.
func (a *Adapter) send(ctx context.Context, instructions []solana.Instruction, extraSigners ...solana.PrivateKey) (solana.Signature, error) {
	payer := a.wallet.PublicKey()
	blockhash, err := a.latestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, err
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build transaction: %w", err)
	}
	_, err = tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if key := a.wallet.PrivateKey(pk); key != nil {
			return key
		}
		for i := range extraSigners {
			if extraSigners[i].PublicKey().Equals(pk) {
				return &extraSigners[i]
			}
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := a.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{PreflightCommitment: a.commitment})
	if err != nil {
		return solana.Signature{}, adapters.ClassifySubmitError(err)
	}
	return sig, nil
}
