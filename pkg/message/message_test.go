package message

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/jup-ag/cctp-connect/pkg/common"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 66 byte payload with nonce 0x00000000e439a697 at [12:20].
const shortMessageHex = "00000000000000000000000000000000e439a6970102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f202122232425262728292a2b2c2d2e"

var transmitter = ethcommon.HexToAddress("0x7865fafc2db2093669d92c0f33aeef291086befd")

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func messageSentLog(t *testing.T, emitter ethcommon.Address, msg []byte) *types.Log {
	t.Helper()
	data, err := bytesArgs.Pack(msg)
	require.NoError(t, err)
	return &types.Log{
		Address: emitter,
		Topics:  []ethcommon.Hash{EventTopic(MessageSentEvent)},
		Data:    data,
	}
}

func TestEventTopic(t *testing.T) {
	assert.Equal(t, "0x8c5261668696ce22758910d05bab8f186d6eb247ceac2af2e82c7dc17669b036", EventTopic(MessageSentEvent).Hex())
}

func TestHash(t *testing.T) {
	assert.Equal(t, "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", Hash(nil).Hex())
	assert.Equal(t, "0x1c8aff950685c2ed4bc3174f3472287b56d9517b9c948127319a09a7a36deac8", Hash([]byte("hello")).Hex())
}

func TestShortMessageNonceAndHash(t *testing.T) {
	msg := mustHex(t, shortMessageHex)
	require.Len(t, msg, 66)

	nonce, err := DecodeNonce(msg)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(3828983447), nonce)

	// Pure functions: decoding again yields the same values.
	again, err := DecodeNonce(msg)
	require.NoError(t, err)
	assert.Equal(t, 0, nonce.Cmp(again))

	assert.Equal(t, "0x6396e78bd87c2cf07a06ad46a35afa52ee3f21ea15873103c35ee085596a86f8", Hash(msg).Hex())
	assert.Equal(t, Hash(msg), Hash(append([]byte(nil), msg...)))
}

func TestDecodeNonceFullRange(t *testing.T) {
	msg := make([]byte, 20)
	for i := 12; i < 20; i++ {
		msg[i] = 0xff
	}
	nonce, err := DecodeNonce(msg)
	require.NoError(t, err)
	expected, ok := new(big.Int).SetString("18446744073709551615", 10)
	require.True(t, ok)
	assert.Equal(t, 0, expected.Cmp(nonce))
	assert.False(t, nonce.IsInt64())
}

func TestDecodeNonceShortInput(t *testing.T) {
	_, err := DecodeNonce(make([]byte, 19))
	assert.ErrorIs(t, err, common.ErrMalformedMessage)

	_, err = DecodeNonce(nil)
	assert.ErrorIs(t, err, common.ErrMalformedMessage)
}

func TestExtractMessage(t *testing.T) {
	msg := mustHex(t, shortMessageHex)
	other := &types.Log{
		Address: transmitter,
		Topics:  []ethcommon.Hash{ethcommon.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")},
		Data:    []byte{1, 2, 3},
	}

	got, err := ExtractMessage([]*types.Log{nil, other, messageSentLog(t, transmitter, msg)}, MessageSentEvent)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestExtractMessageNotFound(t *testing.T) {
	_, err := ExtractMessage(nil, MessageSentEvent)
	assert.ErrorIs(t, err, common.ErrEventNotFound)

	removed := messageSentLog(t, transmitter, []byte{1})
	removed.Removed = true
	_, err = ExtractMessage([]*types.Log{removed, {Address: transmitter}}, MessageSentEvent)
	assert.ErrorIs(t, err, common.ErrEventNotFound)
}

func TestExtractMessageFromIgnoresOtherEmitters(t *testing.T) {
	msg := mustHex(t, shortMessageHex)
	spoofed := messageSentLog(t, ethcommon.HexToAddress("0x0000000000000000000000000000000000000bad"), []byte("spoofed"))

	got, err := ExtractMessageFrom([]*types.Log{spoofed, messageSentLog(t, transmitter, msg)}, transmitter, MessageSentEvent)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	_, err = ExtractMessageFrom([]*types.Log{spoofed}, transmitter, MessageSentEvent)
	assert.ErrorIs(t, err, common.ErrEventNotFound)
}

func TestExtractMessageMalformedPayload(t *testing.T) {
	l := &types.Log{
		Address: transmitter,
		Topics:  []ethcommon.Hash{EventTopic(MessageSentEvent)},
		Data:    []byte{0x01, 0x02},
	}
	_, err := ExtractMessage([]*types.Log{l}, MessageSentEvent)
	assert.ErrorIs(t, err, common.ErrMalformedMessage)
}

func TestParseHeaderAndBurnMessage(t *testing.T) {
	burn := &BurnMessage{
		Version: 0,
		Amount:  uint256.NewInt(1_500_000),
	}
	burn.BurnToken[31] = 0xaa
	burn.MintRecipient[0] = 0xbb
	burn.MessageSender[31] = 0xcc

	h := &Header{
		Version:           0,
		SourceDomain:      0,
		DestinationDomain: 5,
		Nonce:             3828983447,
		Body:              burn.Serialize(),
	}
	h.Sender[31] = 1
	h.Recipient[31] = 2
	raw := h.Serialize()
	require.Len(t, raw, HeaderLength+BurnMessageLength)

	parsed, err := ParseHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	nonce, err := DecodeNonce(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(3828983447), nonce.Uint64())

	domain, err := SourceDomain(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), domain)

	parsedBurn, err := ParseBurnMessage(parsed.Body)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000), parsedBurn.Amount.Uint64())
	assert.Equal(t, burn.BurnToken, parsedBurn.BurnToken)
	assert.Equal(t, burn.MintRecipient, parsedBurn.MintRecipient)
	assert.Equal(t, burn.MessageSender, parsedBurn.MessageSender)

	_, err = ParseHeader(raw[:HeaderLength-1])
	assert.ErrorIs(t, err, common.ErrMalformedMessage)
	_, err = ParseBurnMessage(raw[HeaderLength : HeaderLength+10])
	assert.ErrorIs(t, err, common.ErrMalformedMessage)
}
