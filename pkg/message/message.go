// Package message decodes the cross-chain messages emitted by the CCTP MessageTransmitter.
//
// Message layout (all integers big-endian):
//
//	[0:4]     version
//	[4:8]     source domain
//	[8:12]    destination domain
//	[12:20]   nonce
//	[20:52]   sender
//	[52:84]   recipient
//	[84:116]  destination caller
//	[116:]    body
package message

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/jup-ag/cctp-connect/pkg/common"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// MessageSentEvent is the signature of the event carrying the message bytes.
const MessageSentEvent = "MessageSent(bytes)"

const (
	nonceIndex  = 12
	nonceLength = 8
	// HeaderLength is the size of the fixed part of a message.
	HeaderLength = 116
)

var bytesArgs abi.Arguments

func init() {
	bytesType, err := abi.NewType("bytes", "", nil)
	if err != nil {
		panic(err)
	}
	bytesArgs = abi.Arguments{{Type: bytesType}}
}

// Header is the decoded fixed part of a message.
type Header struct {
	Version           uint32
	SourceDomain      uint32
	DestinationDomain uint32
	Nonce             uint64
	Sender            [32]byte
	Recipient         [32]byte
	DestinationCaller [32]byte
	Body              []byte
}

// EventTopic returns the log topic for an event signature.
func EventTopic(eventSignature string) ethcommon.Hash {
	return crypto.Keccak256Hash([]byte(eventSignature))
}

// ExtractMessage returns the payload of the first log whose first topic matches eventSignature.
func ExtractMessage(logs []*types.Log, eventSignature string) ([]byte, error) {
	return extract(logs, nil, eventSignature)
}

// ExtractMessageFrom is ExtractMessage restricted to logs emitted by the given contract.
func ExtractMessageFrom(logs []*types.Log, emitter ethcommon.Address, eventSignature string) ([]byte, error) {
	return extract(logs, &emitter, eventSignature)
}

func extract(logs []*types.Log, emitter *ethcommon.Address, eventSignature string) ([]byte, error) {
	topic := EventTopic(eventSignature)
	for _, l := range logs {
		if l == nil || l.Removed || len(l.Topics) == 0 {
			continue
		}
		// SECURITY: a log emitted by any other contract could carry an arbitrary payload under the same topic.
		if emitter != nil && l.Address != *emitter {
			continue
		}
		if l.Topics[0] != topic {
			continue
		}

		out, err := bytesArgs.Unpack(l.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decode %s payload: %v", common.ErrMalformedMessage, eventSignature, err)
		}
		msg, ok := out[0].([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected %s payload type %T", common.ErrMalformedMessage, eventSignature, out[0])
		}
		return msg, nil
	}
	return nil, fmt.Errorf("%w: %s", common.ErrEventNotFound, eventSignature)
}

// Hash is the keccak256 digest of the message. It is the key the attestation service indexes by.
func Hash(msg []byte) ethcommon.Hash {
	return crypto.Keccak256Hash(msg)
}

// DecodeNonce reads the unsigned 64 bit nonce at bytes [12:20]. It is returned as an arbitrary precision
// integer so that values above the signed 64 bit range survive.
func DecodeNonce(msg []byte) (*big.Int, error) {
	if len(msg) < nonceIndex+nonceLength {
		return nil, fmt.Errorf("%w: message too short for nonce (%d bytes)", common.ErrMalformedMessage, len(msg))
	}
	return new(big.Int).SetBytes(msg[nonceIndex : nonceIndex+nonceLength]), nil
}

// SourceDomain reads the source domain at bytes [4:8].
func SourceDomain(msg []byte) (uint32, error) {
	if len(msg) < 8 {
		return 0, fmt.Errorf("%w: message too short for source domain (%d bytes)", common.ErrMalformedMessage, len(msg))
	}
	return binary.BigEndian.Uint32(msg[4:8]), nil
}

// ParseHeader decodes the fixed part of a message. The body is copied.
func ParseHeader(msg []byte) (*Header, error) {
	if len(msg) < HeaderLength {
		return nil, fmt.Errorf("%w: message is %d bytes, expected at least %d", common.ErrMalformedMessage, len(msg), HeaderLength)
	}

	h := &Header{}
	reader := bytes.NewReader(msg[:HeaderLength])
	fields := []interface{}{&h.Version, &h.SourceDomain, &h.DestinationDomain, &h.Nonce, &h.Sender, &h.Recipient, &h.DestinationCaller}
	for _, f := range fields {
		if err := binary.Read(reader, binary.BigEndian, f); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrMalformedMessage, err)
		}
	}
	h.Body = append([]byte(nil), msg[HeaderLength:]...)
	return h, nil
}

// Serialize encodes the header followed by the body.
func (h *Header) Serialize() []byte {
	out := make([]byte, HeaderLength, HeaderLength+len(h.Body))
	binary.BigEndian.PutUint32(out[0:4], h.Version)
	binary.BigEndian.PutUint32(out[4:8], h.SourceDomain)
	binary.BigEndian.PutUint32(out[8:12], h.DestinationDomain)
	binary.BigEndian.PutUint64(out[12:20], h.Nonce)
	copy(out[20:52], h.Sender[:])
	copy(out[52:84], h.Recipient[:])
	copy(out[84:116], h.DestinationCaller[:])
	return append(out, h.Body...)
}
