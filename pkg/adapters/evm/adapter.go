// Package evm implements the chain adapter for EVM chains on top of go-ethereum.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jup-ag/cctp-connect/pkg/adapters"
	"github.com/jup-ag/cctp-connect/pkg/adapters/evm/cctpabi"
	"github.com/jup-ag/cctp-connect/pkg/chains"
	"github.com/jup-ag/cctp-connect/pkg/common"
	"github.com/jup-ag/cctp-connect/pkg/message"

	"github.com/cenkalti/backoff/v4"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Backend is the RPC surface the adapter needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

type Adapter struct {
	chain              chains.Info
	backend            Backend
	wallet             *bind.TransactOpts
	logger             *zap.Logger
	confirmations      uint64
	usdcAddr           ethcommon.Address
	tokenMessengerAddr ethcommon.Address
	transmitterAddr    ethcommon.Address
	tokenMessenger     *cctpabi.TokenMessenger
	messageTransmitter *cctpabi.MessageTransmitter
	usdc               *cctpabi.ERC20
}

var _ adapters.ChainAdapter = (*Adapter)(nil)
var _ adapters.MintRecipientResolver = (*Adapter)(nil)

type Option func(*Adapter)

// WithConfirmations requires the receipt's block to be buried under n-1 further blocks. 0 and 1 both mean inclusion.
func WithConfirmations(n uint64) Option {
	return func(a *Adapter) { a.confirmations = n }
}

// NewAdapter binds the CCTP contracts of chain. wallet may be nil for read-only use; submitting then fails.
func NewAdapter(chain chains.Info, backend Backend, wallet *bind.TransactOpts, logger *zap.Logger, opts ...Option) (*Adapter, error) {
	if chain.Family != chains.FamilyEVM {
		return nil, fmt.Errorf("chain %s is not an evm chain", chain.Chain)
	}
	for _, addr := range []string{chain.USDC, chain.TokenMessenger, chain.MessageTransmitter} {
		if !ethcommon.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid contract address %q for %s", addr, chain.Chain)
		}
	}

	a := &Adapter{
		chain:              chain,
		backend:            backend,
		wallet:             wallet,
		logger:             logger.With(zap.String("chain", chain.Chain.String())),
		usdcAddr:           ethcommon.HexToAddress(chain.USDC),
		tokenMessengerAddr: ethcommon.HexToAddress(chain.TokenMessenger),
		transmitterAddr:    ethcommon.HexToAddress(chain.MessageTransmitter),
	}
	a.tokenMessenger = cctpabi.NewTokenMessenger(a.tokenMessengerAddr, backend)
	a.messageTransmitter = cctpabi.NewMessageTransmitter(a.transmitterAddr, backend)
	a.usdc = cctpabi.NewERC20(a.usdcAddr, backend)
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Dial connects to rpcURL, retrying with exponential backoff, and verifies that the endpoint serves chain.
func Dial(ctx context.Context, chain chains.Info, rpcURL string, wallet *bind.TransactOpts, logger *zap.Logger, opts ...Option) (*Adapter, error) {
	var client *ethclient.Client
	op := func() error {
		c, err := ethclient.DialContext(ctx, rpcURL)
		if err != nil {
			return err
		}
		id, err := c.ChainID(ctx)
		if err != nil {
			c.Close()
			return err
		}
		if id.Uint64() != chain.ChainID {
			c.Close()
			return backoff.Permanent(fmt.Errorf("rpc %s serves chain id %d, expected %d for %s", rpcURL, id.Uint64(), chain.ChainID, chain.Chain))
		}
		client = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	notify := func(err error, next time.Duration) {
		logger.Warn("failed to connect to evm rpc, retrying", zap.String("chain", chain.Chain.String()), zap.Duration("next", next), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", chain.Chain, err)
	}
	return NewAdapter(chain, client, wallet, logger, opts...)
}

func (a *Adapter) Chain() chains.Chain {
	return a.chain.Chain
}

func (a *Adapter) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if a.wallet == nil {
		return nil, fmt.Errorf("%w: no wallet for %s", common.ErrNotConfigured, a.chain.Chain)
	}
	opts := *a.wallet
	opts.Context = ctx
	return &opts, nil
}

// ResolveMintRecipient returns the left-padded owner address.
func (a *Adapter) ResolveMintRecipient(_ context.Context, owner string) ([32]byte, error) {
	return chains.AddressToBytes32(a.chain.Chain, owner)
}

// SubmitBurn checks the TokenMessenger's allowance and calls depositForBurn.
func (a *Adapter) SubmitBurn(ctx context.Context, req adapters.BurnRequest) (string, error) {
	opts, err := a.transactOpts(ctx)
	if err != nil {
		return "", err
	}
	amount := new(big.Int).SetUint64(req.Amount)

	allowance, err := a.Allowance(ctx, opts.From)
	if err != nil {
		return "", err
	}
	if allowance.Cmp(amount) < 0 {
		return "", fmt.Errorf("%w: insufficient allowance %s < %s for token messenger %s", common.ErrChainRejected, allowance, amount, a.tokenMessengerAddr.Hex())
	}

	tx, err := a.tokenMessenger.DepositForBurn(opts, amount, req.DestinationDomain, req.MintRecipient, a.usdcAddr)
	if err != nil {
		return "", adapters.ClassifySubmitError(err)
	}

	a.logger.Info("submitted depositForBurn",
		zap.Stringer("tx", tx.Hash()),
		zap.Uint64("amount", req.Amount),
		zap.Uint32("destinationDomain", req.DestinationDomain),
		zap.String("mintRecipient", chains.Bytes32Hex(req.MintRecipient)))
	return tx.Hash().Hex(), nil
}

// GetConfirmedReceipt reports a receipt as successful once it is included with status 1 and buried
// deep enough. The MessageSent payload emitted by the MessageTransmitter is attached when present.
func (a *Adapter) GetConfirmedReceipt(ctx context.Context, txID string) (*adapters.Receipt, error) {
	hash, err := parseTxHash(txID)
	if err != nil {
		return nil, err
	}

	receipt, err := a.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return &adapters.Receipt{TxID: txID, Status: adapters.ReceiptPending}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get receipt for %s: %v", common.ErrTransientNetwork, txID, err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return &adapters.Receipt{TxID: txID, Status: adapters.ReceiptFailed, Reason: "transaction reverted"}, nil
	}

	if a.confirmations > 1 && receipt.BlockNumber != nil {
		latest, err := a.backend.BlockNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to get block number: %v", common.ErrTransientNetwork, err)
		}
		if latest+1 < receipt.BlockNumber.Uint64()+a.confirmations {
			return &adapters.Receipt{TxID: txID, Status: adapters.ReceiptPending}, nil
		}
	}

	r := &adapters.Receipt{TxID: txID, Status: adapters.ReceiptSuccess}
	msg, err := message.ExtractMessageFrom(receipt.Logs, a.transmitterAddr, message.MessageSentEvent)
	switch {
	case err == nil:
		r.Message = msg
	case errors.Is(err, common.ErrEventNotFound):
		// Not a burn, e.g. a receiveMessage receipt.
	default:
		return nil, fmt.Errorf("tx %s: %w", txID, err)
	}
	return r, nil
}

// SubmitRedeem calls receiveMessage on the MessageTransmitter.
func (a *Adapter) SubmitRedeem(ctx context.Context, req adapters.RedeemRequest) (string, error) {
	opts, err := a.transactOpts(ctx)
	if err != nil {
		return "", err
	}

	tx, err := a.messageTransmitter.ReceiveMessage(opts, req.Message, req.Attestation)
	if err != nil {
		return "", adapters.ClassifySubmitError(err)
	}

	a.logger.Info("submitted receiveMessage",
		zap.Stringer("tx", tx.Hash()),
		zap.Stringer("messageHash", message.Hash(req.Message)))
	return tx.Hash().Hex(), nil
}

// Approve lets the TokenMessenger spend amount USDC base units of the wallet.
func (a *Adapter) Approve(ctx context.Context, amount uint64) (string, error) {
	opts, err := a.transactOpts(ctx)
	if err != nil {
		return "", err
	}
	tx, err := a.usdc.Approve(opts, a.tokenMessengerAddr, new(big.Int).SetUint64(amount))
	if err != nil {
		return "", adapters.ClassifySubmitError(err)
	}
	a.logger.Info("submitted approve", zap.Stringer("tx", tx.Hash()), zap.Uint64("amount", amount))
	return tx.Hash().Hex(), nil
}

// Allowance returns how much USDC owner has approved to the TokenMessenger.
func (a *Adapter) Allowance(ctx context.Context, owner ethcommon.Address) (*big.Int, error) {
	v, err := a.usdc.Allowance(&bind.CallOpts{Context: ctx}, owner, a.tokenMessengerAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read allowance: %v", common.ErrTransientNetwork, err)
	}
	return v, nil
}

// Balance returns owner's USDC balance in base units.
func (a *Adapter) Balance(ctx context.Context, owner string) (*big.Int, error) {
	if !ethcommon.IsHexAddress(owner) {
		return nil, fmt.Errorf("invalid address %q", owner)
	}
	v, err := a.usdc.BalanceOf(&bind.CallOpts{Context: ctx}, ethcommon.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read balance: %v", common.ErrTransientNetwork, err)
	}
	return v, nil
}

func parseTxHash(txID string) (ethcommon.Hash, error) {
	b, err := hexutil.Decode(txID)
	if err != nil || len(b) != ethcommon.HashLength {
		return ethcommon.Hash{}, fmt.Errorf("invalid transaction id %q", txID)
	}
	return ethcommon.BytesToHash(b), nil
}
