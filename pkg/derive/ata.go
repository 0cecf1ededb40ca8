package derive

import (
	"context"
	"errors"
	"fmt"

	"github.com/jup-ag/cctp-connect/pkg/common"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// AccountFetcher is the subset of the Solana RPC client needed to check for an account.
type AccountFetcher interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

// AssociatedTokenAddress returns the canonical token account of owner for mint.
// Owners off the ed25519 curve (PDAs) are allowed.
func AssociatedTokenAddress(owner solana.PublicKey, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := DeriveSeeds(solana.SPLAssociatedTokenAccountProgramID, PublicKey(owner), PublicKey(solana.TokenProgramID), PublicKey(mint))
	return addr, err
}

// AccountExists reports whether account is initialized. Lookup failures are transient.
func AccountExists(ctx context.Context, fetcher AccountFetcher, account solana.PublicKey) (bool, error) {
	info, err := fetcher.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: failed to fetch account %s: %v", common.ErrTransientNetwork, account, err)
	}
	return info != nil && info.Value != nil, nil
}

// GetOrCreateAssociatedAccount returns the associated token account of owner and, if it does not exist yet,
// the instruction that creates it funded by payer. It never sends anything.
func GetOrCreateAssociatedAccount(ctx context.Context, fetcher AccountFetcher, mint, owner, payer solana.PublicKey) (solana.PublicKey, solana.Instruction, error) {
	ata, err := AssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}

	exists, err := AccountExists(ctx, fetcher, ata)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	if exists {
		return ata, nil, nil
	}
	return ata, CreateAssociatedAccountInstruction(payer, ata, owner, mint), nil
}

// CreateAssociatedAccountInstruction builds the associated token program's create instruction.
func CreateAssociatedAccountInstruction(payer, ata, owner, mint solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		solana.AccountMetaSlice{
			solana.Meta(payer).WRITE().SIGNER(),
			solana.Meta(ata).WRITE(),
			solana.Meta(owner),
			solana.Meta(mint),
			solana.Meta(solana.SystemProgramID),
			solana.Meta(solana.TokenProgramID),
			solana.Meta(solana.SysVarRentPubkey),
		},
		[]byte{},
	)
}
