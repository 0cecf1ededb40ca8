package message

import (
	"encoding/binary"
	"fmt"

	"github.com/jup-ag/cctp-connect/pkg/common"

	"github.com/holiman/uint256"
)

// BurnMessageLength is the size of a TokenMessenger burn message body.
const BurnMessageLength = 132

// BurnMessage is the TokenMessenger payload carried in the body of a message.
type BurnMessage struct {
	Version       uint32
	BurnToken     [32]byte
	MintRecipient [32]byte
	Amount        *uint256.Int
	MessageSender [32]byte
}

// ParseBurnMessage decodes a burn message body. Bytes beyond BurnMessageLength are ignored.
func ParseBurnMessage(body []byte) (*BurnMessage, error) {
	if len(body) < BurnMessageLength {
		return nil, fmt.Errorf("%w: burn message is %d bytes, expected %d", common.ErrMalformedMessage, len(body), BurnMessageLength)
	}

	b := &BurnMessage{
		Version: binary.BigEndian.Uint32(body[0:4]),
		Amount:  new(uint256.Int).SetBytes(body[68:100]),
	}
	copy(b.BurnToken[:], body[4:36])
	copy(b.MintRecipient[:], body[36:68])
	copy(b.MessageSender[:], body[100:132])
	return b, nil
}

// Serialize encodes the burn message body. Used by tests and the debug tooling.
func (b *BurnMessage) Serialize() []byte {
	out := make([]byte, BurnMessageLength)
	binary.BigEndian.PutUint32(out[0:4], b.Version)
	copy(out[4:36], b.BurnToken[:])
	copy(out[36:68], b.MintRecipient[:])
	if b.Amount != nil {
		amount := b.Amount.Bytes32()
		copy(out[68:100], amount[:])
	}
	copy(out[100:132], b.MessageSender[:])
	return out
}
