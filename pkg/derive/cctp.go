package derive

import (
	"strconv"

	"github.com/gagliardetto/solana-go"
)

// Account seed labels of the CCTP MessageTransmitter and TokenMessengerMinter programs.
const (
	LabelMessageTransmitter          = "message_transmitter"
	LabelMessageTransmitterAuthority = "message_transmitter_authority"
	LabelTokenMessenger              = "token_messenger"
	LabelTokenMinter                 = "token_minter"
	LabelLocalToken                  = "local_token"
	LabelRemoteTokenMessenger        = "remote_token_messenger"
	LabelTokenPair                   = "token_pair"
	LabelCustody                     = "custody"
	LabelSenderAuthority             = "sender_authority"
	LabelEventAuthority              = "__event_authority"
	LabelUsedNonces                  = "used_nonces"
)

// MaxNoncesPerAccount is the number of nonces tracked by one used_nonces account.
const MaxNoncesPerAccount = 6400

// Programs identifies the CCTP deployment on a Solana cluster.
type Programs struct {
	MessageTransmitter   solana.PublicKey
	TokenMessengerMinter solana.PublicKey
	USDCMint             solana.PublicKey
}

type DepositForBurnAccounts struct {
	MessageTransmitter           solana.PublicKey
	TokenMessenger               solana.PublicKey
	TokenMinter                  solana.PublicKey
	LocalToken                   solana.PublicKey
	RemoteTokenMessenger         solana.PublicKey
	SenderAuthority              solana.PublicKey
	TokenMessengerEventAuthority solana.PublicKey
}

type ReceiveMessageAccounts struct {
	MessageTransmitter               solana.PublicKey
	MessageTransmitterAuthority      solana.PublicKey
	MessageTransmitterEventAuthority solana.PublicKey
	UsedNonces                       solana.PublicKey
	TokenMessenger                   solana.PublicKey
	TokenMinter                      solana.PublicKey
	LocalToken                       solana.PublicKey
	RemoteTokenMessenger             solana.PublicKey
	TokenPair                        solana.PublicKey
	Custody                          solana.PublicKey
	TokenMessengerEventAuthority     solana.PublicKey
}

// deriver is satisfied by both the package level functions and Cache.
type deriver func(label string, programID solana.PublicKey, seeds ...Seed) (solana.PublicKey, uint8, error)

type step struct {
	out     *solana.PublicKey
	label   string
	program solana.PublicKey
	seeds   []Seed
}

func (d deriver) run(steps []step) error {
	for _, s := range steps {
		addr, _, err := d(s.label, s.program, s.seeds...)
		if err != nil {
			return err
		}
		*s.out = addr
	}
	return nil
}

// DepositForBurn derives the accounts of a deposit_for_burn towards destinationDomain.
func (d deriver) DepositForBurn(p Programs, destinationDomain uint32) (*DepositForBurnAccounts, error) {
	a := &DepositForBurnAccounts{}
	tmm := p.TokenMessengerMinter
	err := d.run([]step{
		{&a.MessageTransmitter, LabelMessageTransmitter, p.MessageTransmitter, nil},
		{&a.TokenMessenger, LabelTokenMessenger, tmm, nil},
		{&a.TokenMinter, LabelTokenMinter, tmm, nil},
		{&a.LocalToken, LabelLocalToken, tmm, []Seed{PublicKey(p.USDCMint)}},
		{&a.RemoteTokenMessenger, LabelRemoteTokenMessenger, tmm, []Seed{String(strconv.FormatUint(uint64(destinationDomain), 10))}},
		{&a.SenderAuthority, LabelSenderAuthority, tmm, nil},
		{&a.TokenMessengerEventAuthority, LabelEventAuthority, tmm, nil},
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ReceiveMessage derives the accounts of a receive_message for a message from sourceDomain.
// remoteToken is the 32 byte form of the burned token's address on the source chain.
func (d deriver) ReceiveMessage(p Programs, sourceDomain uint32, remoteToken [32]byte, nonce uint64) (*ReceiveMessageAccounts, error) {
	a := &ReceiveMessageAccounts{}
	tmm := p.TokenMessengerMinter
	mt := p.MessageTransmitter
	domain := String(strconv.FormatUint(uint64(sourceDomain), 10))
	err := d.run([]step{
		{&a.MessageTransmitter, LabelMessageTransmitter, mt, nil},
		{&a.MessageTransmitterAuthority, LabelMessageTransmitterAuthority, mt, []Seed{PublicKey(tmm)}},
		{&a.MessageTransmitterEventAuthority, LabelEventAuthority, mt, nil},
		{&a.UsedNonces, LabelUsedNonces, mt, usedNoncesSeeds(sourceDomain, nonce)},
		{&a.TokenMessenger, LabelTokenMessenger, tmm, nil},
		{&a.TokenMinter, LabelTokenMinter, tmm, nil},
		{&a.LocalToken, LabelLocalToken, tmm, []Seed{PublicKey(p.USDCMint)}},
		{&a.RemoteTokenMessenger, LabelRemoteTokenMessenger, tmm, []Seed{domain}},
		{&a.TokenPair, LabelTokenPair, tmm, []Seed{domain, Bytes(remoteToken[:])}},
		{&a.Custody, LabelCustody, tmm, []Seed{PublicKey(p.USDCMint)}},
		{&a.TokenMessengerEventAuthority, LabelEventAuthority, tmm, nil},
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// usedNoncesSeeds follows the MessageTransmitter's used_nonces layout. Nonces are bucketed by
// MaxNoncesPerAccount starting at 1. Source domains from 11 upwards are delimited with "-".
func usedNoncesSeeds(sourceDomain uint32, nonce uint64) []Seed {
	var firstNonce uint64
	if nonce > 0 {
		firstNonce = ((nonce-1)/MaxNoncesPerAccount)*MaxNoncesPerAccount + 1
	}
	delimiter := ""
	if sourceDomain >= 11 {
		delimiter = "-"
	}
	return []Seed{
		String(strconv.FormatUint(uint64(sourceDomain), 10)),
		String(delimiter),
		String(strconv.FormatUint(firstNonce, 10)),
	}
}

// UsedNoncesAddress returns the MessageTransmitter account recording whether nonce from sourceDomain was used.
func UsedNoncesAddress(messageTransmitter solana.PublicKey, sourceDomain uint32, nonce uint64) (solana.PublicKey, error) {
	addr, _, err := Derive(LabelUsedNonces, messageTransmitter, usedNoncesSeeds(sourceDomain, nonce)...)
	return addr, err
}

// DeriveDepositForBurn derives deposit_for_burn accounts without caching.
func DeriveDepositForBurn(p Programs, destinationDomain uint32) (*DepositForBurnAccounts, error) {
	return deriver(Derive).DepositForBurn(p, destinationDomain)
}

// DeriveReceiveMessage derives receive_message accounts without caching.
func DeriveReceiveMessage(p Programs, sourceDomain uint32, remoteToken [32]byte, nonce uint64) (*ReceiveMessageAccounts, error) {
	return deriver(Derive).ReceiveMessage(p, sourceDomain, remoteToken, nonce)
}
