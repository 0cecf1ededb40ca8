package solana

import (
	"crypto/sha256"
	"fmt"

	"github.com/jup-ag/cctp-connect/pkg/derive"

	"github.com/gagliardetto/solana-go"
	"github.com/near/borsh-go"
)

const (
	instructionDepositForBurn = "deposit_for_burn"
	instructionReceiveMessage = "receive_message"
)

// discriminator is the 8 byte Anchor method selector of an instruction.
func discriminator(name string) [8]byte {
	var d [8]byte
	h := sha256.Sum256([]byte("global:" + name))
	copy(d[:], h[:8])
	return d
}

type DepositForBurnParams struct {
	Amount            uint64
	DestinationDomain uint32
	MintRecipient     solana.PublicKey
}

type ReceiveMessageParams struct {
	Message     []byte
	Attestation []byte
}

func encodeInstruction(name string, params interface{}) ([]byte, error) {
	payload, err := borsh.Serialize(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s params: %w", name, err)
	}
	d := discriminator(name)
	return append(d[:], payload...), nil
}

// DepositForBurnInstruction burns params.Amount from the owner's token account through the TokenMessengerMinter.
// eventData is a fresh keypair the MessageTransmitter stores the outgoing message in; it must sign the transaction.
func DepositForBurnInstruction(p derive.Programs, accts *derive.DepositForBurnAccounts, owner, burnTokenAccount, eventData solana.PublicKey, params DepositForBurnParams) (solana.Instruction, error) {
	data, err := encodeInstruction(instructionDepositForBurn, params)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(
		p.TokenMessengerMinter,
		solana.AccountMetaSlice{
			solana.Meta(owner).SIGNER(),
			solana.Meta(owner).WRITE().SIGNER(),
			solana.Meta(accts.SenderAuthority),
			solana.Meta(burnTokenAccount).WRITE(),
			solana.Meta(accts.MessageTransmitter).WRITE(),
			solana.Meta(accts.TokenMessenger),
			solana.Meta(accts.RemoteTokenMessenger),
			solana.Meta(accts.TokenMinter),
			solana.Meta(accts.LocalToken).WRITE(),
			solana.Meta(p.USDCMint).WRITE(),
			solana.Meta(eventData).WRITE().SIGNER(),
			solana.Meta(p.MessageTransmitter),
			solana.Meta(p.TokenMessengerMinter),
			solana.Meta(solana.TokenProgramID),
			solana.Meta(solana.SystemProgramID),
			solana.Meta(accts.TokenMessengerEventAuthority),
			solana.Meta(p.TokenMessengerMinter),
		},
		data,
	), nil
}

// ReceiveMessageInstruction mints the attested amount to recipientTokenAccount. The TokenMessengerMinter
// accounts follow the MessageTransmitter's own as remaining accounts of the handler call.
func ReceiveMessageInstruction(p derive.Programs, accts *derive.ReceiveMessageAccounts, payer, recipientTokenAccount solana.PublicKey, params ReceiveMessageParams) (solana.Instruction, error) {
	data, err := encodeInstruction(instructionReceiveMessage, params)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(
		p.MessageTransmitter,
		solana.AccountMetaSlice{
			solana.Meta(payer).WRITE().SIGNER(),
			solana.Meta(payer).SIGNER(),
			solana.Meta(accts.MessageTransmitterAuthority),
			solana.Meta(accts.MessageTransmitter),
			solana.Meta(accts.UsedNonces).WRITE(),
			solana.Meta(p.TokenMessengerMinter),
			solana.Meta(solana.SystemProgramID),
			solana.Meta(accts.MessageTransmitterEventAuthority),
			solana.Meta(p.MessageTransmitter),
			// remaining accounts
			solana.Meta(accts.TokenMessenger),
			solana.Meta(accts.RemoteTokenMessenger),
			solana.Meta(accts.TokenMinter).WRITE(),
			solana.Meta(accts.LocalToken).WRITE(),
			solana.Meta(accts.TokenPair),
			solana.Meta(recipientTokenAccount).WRITE(),
			solana.Meta(accts.Custody).WRITE(),
			solana.Meta(solana.TokenProgramID),
			solana.Meta(accts.TokenMessengerEventAuthority),
			solana.Meta(p.TokenMessengerMinter),
		},
		data,
	), nil
}
