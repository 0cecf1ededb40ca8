// Package chains holds the static description of every chain the bridge can move USDC between:
// its family, its numeric network id, its CCTP domain and the addresses of the USDC, TokenMessenger
// and MessageTransmitter deployments.
package chains

import (
	"encoding/hex"
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

type Chain uint8

const (
	ChainUnset Chain = iota
	ChainEthereum
	ChainAvalanche
	ChainArbitrum
	ChainSolana
	ChainOptimism
	ChainBase
)

// Domain is the CCTP domain id. It is what appears in messages, not the chain's own network id.
type Domain = uint32

const (
	DomainEthereum  Domain = 0
	DomainAvalanche Domain = 1
	DomainOptimism  Domain = 2
	DomainArbitrum  Domain = 3
	DomainSolana    Domain = 5
	DomainBase      Domain = 6
)

// USDCDecimals is the number of decimals of USDC on every supported chain.
const USDCDecimals = 6

type Family string

const (
	FamilyEVM    Family = "evm"
	FamilySolana Family = "solana"
)

// AllChains lists the supported chains in a stable order.
var AllChains = []Chain{ChainEthereum, ChainAvalanche, ChainArbitrum, ChainSolana, ChainOptimism, ChainBase}

func (c Chain) String() string {
	switch c {
	case ChainEthereum:
		return "ETH"
	case ChainAvalanche:
		return "AVAX"
	case ChainArbitrum:
		return "ARB"
	case ChainSolana:
		return "SOLANA"
	case ChainOptimism:
		return "OPTIMISM"
	case ChainBase:
		return "BASE"
	default:
		return fmt.Sprintf("unknown chain: %d", c)
	}
}

// ChainFromString accepts the canonical upper-case names as well as a few common aliases.
func ChainFromString(s string) (Chain, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ETH", "ETHEREUM":
		return ChainEthereum, nil
	case "AVAX", "AVALANCHE":
		return ChainAvalanche, nil
	case "ARB", "ARBITRUM":
		return ChainArbitrum, nil
	case "SOLANA", "SOL":
		return ChainSolana, nil
	case "OPTIMISM", "OP":
		return ChainOptimism, nil
	case "BASE":
		return ChainBase, nil
	}
	return ChainUnset, fmt.Errorf("unknown chain: %s", s)
}

func (c Chain) MarshalText() ([]byte, error) {
	if c == ChainUnset || c > ChainBase {
		return nil, fmt.Errorf("cannot marshal unknown chain %d", uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *Chain) UnmarshalText(b []byte) error {
	parsed, err := ChainFromString(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Family returns the account model of the chain.
func (c Chain) Family() Family {
	if c == ChainSolana {
		return FamilySolana
	}
	return FamilyEVM
}

// Domain returns the CCTP domain of the chain. The mapping is the same on every network.
func (c Chain) Domain() (Domain, error) {
	switch c {
	case ChainEthereum:
		return DomainEthereum, nil
	case ChainAvalanche:
		return DomainAvalanche, nil
	case ChainArbitrum:
		return DomainArbitrum, nil
	case ChainSolana:
		return DomainSolana, nil
	case ChainOptimism:
		return DomainOptimism, nil
	case ChainBase:
		return DomainBase, nil
	}
	return 0, fmt.Errorf("no domain for chain %s", c)
}

// ChainFromDomain is the inverse of Chain.Domain.
func ChainFromDomain(d Domain) (Chain, error) {
	for _, c := range AllChains {
		if cd, _ := c.Domain(); cd == d {
			return c, nil
		}
	}
	return ChainUnset, fmt.Errorf("unknown domain: %d", d)
}

// AddressToBytes32 converts a chain-native address string into the 32 byte form used in messages.
// EVM addresses are left-padded with zeros, Solana addresses are the raw public key.
func AddressToBytes32(c Chain, addr string) ([32]byte, error) {
	var out [32]byte
	switch c.Family() {
	case FamilySolana:
		b, err := base58.Decode(addr)
		if err != nil {
			return out, fmt.Errorf("invalid solana address %q: %w", addr, err)
		}
		if len(b) != 32 {
			return out, fmt.Errorf("invalid solana address %q: length %d", addr, len(b))
		}
		copy(out[:], b)
	default:
		if !ethcommon.IsHexAddress(addr) {
			return out, fmt.Errorf("invalid evm address %q", addr)
		}
		copy(out[12:], ethcommon.HexToAddress(addr).Bytes())
	}
	return out, nil
}

// Bytes32ToAddress renders a 32 byte message address the way the given chain displays it.
func Bytes32ToAddress(c Chain, b [32]byte) string {
	if c.Family() == FamilySolana {
		return base58.Encode(b[:])
	}
	return ethcommon.BytesToAddress(b[12:]).Hex()
}

// Bytes32Hex renders a 32 byte address as 0x-prefixed hex.
func Bytes32Hex(b [32]byte) string {
	return "0x" + hex.EncodeToString(b[:])
}
