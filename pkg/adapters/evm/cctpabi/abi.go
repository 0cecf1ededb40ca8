// Package cctpabi contains minimal Go bindings for the CCTP TokenMessenger and MessageTransmitter contracts
// and the ERC-20 methods needed to move USDC through them.
package cctpabi

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const TokenMessengerABI = `[
	{"inputs":[{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"uint32","name":"destinationDomain","type":"uint32"},{"internalType":"bytes32","name":"mintRecipient","type":"bytes32"},{"internalType":"address","name":"burnToken","type":"address"}],"name":"depositForBurn","outputs":[{"internalType":"uint64","name":"_nonce","type":"uint64"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[],"name":"localMessageTransmitter","outputs":[{"internalType":"contract IMessageTransmitter","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const MessageTransmitterABI = `[
	{"anonymous":false,"inputs":[{"indexed":false,"internalType":"bytes","name":"message","type":"bytes"}],"name":"MessageSent","type":"event"},
	{"inputs":[{"internalType":"bytes","name":"message","type":"bytes"},{"internalType":"bytes","name":"attestation","type":"bytes"}],"name":"receiveMessage","outputs":[{"internalType":"bool","name":"success","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"bytes32","name":"","type":"bytes32"}],"name":"usedNonces","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"localDomain","outputs":[{"internalType":"uint32","name":"","type":"uint32"}],"stateMutability":"view","type":"function"}
]`

const ERC20ABI = `[
	{"inputs":[{"internalType":"address","name":"spender","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"approve","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"address","name":"owner","type":"address"},{"internalType":"address","name":"spender","type":"address"}],"name":"allowance","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var (
	TokenMessengerParsed     = mustParse(TokenMessengerABI)
	MessageTransmitterParsed = mustParse(MessageTransmitterABI)
	ERC20Parsed              = mustParse(ERC20ABI)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

var errUnexpectedOutput = errors.New("unexpected contract call output")

// TokenMessenger is a binding around the CCTP TokenMessenger contract.
type TokenMessenger struct {
	contract *bind.BoundContract
}

func NewTokenMessenger(address common.Address, backend bind.ContractBackend) *TokenMessenger {
	return &TokenMessenger{contract: bind.NewBoundContract(address, TokenMessengerParsed, backend, backend, backend)}
}

// DepositForBurn is a paid mutator transaction binding the contract method 0x6fd3504e.
//
// Solidity: function depositForBurn(uint256 amount, uint32 destinationDomain, bytes32 mintRecipient, address burnToken) returns(uint64 _nonce)
func (t *TokenMessenger) DepositForBurn(opts *bind.TransactOpts, amount *big.Int, destinationDomain uint32, mintRecipient [32]byte, burnToken common.Address) (*types.Transaction, error) {
	return t.contract.Transact(opts, "depositForBurn", amount, destinationDomain, mintRecipient, burnToken)
}

// MessageTransmitter is a binding around the CCTP MessageTransmitter contract.
type MessageTransmitter struct {
	contract *bind.BoundContract
}

func NewMessageTransmitter(address common.Address, backend bind.ContractBackend) *MessageTransmitter {
	return &MessageTransmitter{contract: bind.NewBoundContract(address, MessageTransmitterParsed, backend, backend, backend)}
}

// ReceiveMessage is a paid mutator transaction binding the contract method 0x57ecfd28.
//
// Solidity: function receiveMessage(bytes message, bytes attestation) returns(bool success)
func (m *MessageTransmitter) ReceiveMessage(opts *bind.TransactOpts, message []byte, attestation []byte) (*types.Transaction, error) {
	return m.contract.Transact(opts, "receiveMessage", message, attestation)
}

// UsedNonces is a free data retrieval call. A non-zero result means the nonce was already redeemed.
//
// Solidity: function usedNonces(bytes32) view returns(uint256)
func (m *MessageTransmitter) UsedNonces(opts *bind.CallOpts, sourceAndNonce [32]byte) (*big.Int, error) {
	return callBigInt(m.contract, opts, "usedNonces", sourceAndNonce)
}

// ERC20 is a binding around the subset of the ERC-20 interface used for USDC.
type ERC20 struct {
	contract *bind.BoundContract
}

func NewERC20(address common.Address, backend bind.ContractBackend) *ERC20 {
	return &ERC20{contract: bind.NewBoundContract(address, ERC20Parsed, backend, backend, backend)}
}

// Solidity: function approve(address spender, uint256 amount) returns(bool)
func (e *ERC20) Approve(opts *bind.TransactOpts, spender common.Address, amount *big.Int) (*types.Transaction, error) {
	return e.contract.Transact(opts, "approve", spender, amount)
}

// Solidity: function allowance(address owner, address spender) view returns(uint256)
func (e *ERC20) Allowance(opts *bind.CallOpts, owner common.Address, spender common.Address) (*big.Int, error) {
	return callBigInt(e.contract, opts, "allowance", owner, spender)
}

// Solidity: function balanceOf(address account) view returns(uint256)
func (e *ERC20) BalanceOf(opts *bind.CallOpts, account common.Address) (*big.Int, error) {
	return callBigInt(e.contract, opts, "balanceOf", account)
}

func callBigInt(contract *bind.BoundContract, opts *bind.CallOpts, method string, params ...interface{}) (*big.Int, error) {
	var out []interface{}
	if err := contract.Call(opts, &out, method, params...); err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, errUnexpectedOutput
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, errUnexpectedOutput
	}
	return v, nil
}
