package chains

import (
	"fmt"
	"strings"
)

type Network string

const (
	Testnet Network = "testnet"
	Mainnet Network = "mainnet"
)

func NetworkFromString(s string) (Network, error) {
	switch strings.ToLower(s) {
	case "testnet", "devnet", "sandbox":
		return Testnet, nil
	case "mainnet":
		return Mainnet, nil
	}
	return "", fmt.Errorf("unknown network: %s", s)
}

// AttestationURL is the default attestation service base URL of the network.
func (n Network) AttestationURL() string {
	if n == Mainnet {
		return "https://iris-api.circle.com"
	}
	return "https://iris-api-sandbox.circle.com"
}

type Addresses struct {
	USDC               string
	TokenMessenger     string
	MessageTransmitter string
}

type Info struct {
	Chain   Chain
	Family  Family
	ChainID uint64
	Domain  Domain
	Addresses
}

type entry struct {
	chainID   uint64
	addresses Addresses
}

var testnetChains = map[Chain]entry{
	ChainEthereum: {11155111, Addresses{
		USDC:               "0x1c7d4b196cb0c7b01d743fbc6116a902379c7238",
		TokenMessenger:     "0x9f3b8679c73c2fef8b59b4f3444d4e156fb70aa5",
		MessageTransmitter: "0x7865fafc2db2093669d92c0f33aeef291086befd",
	}},
	ChainAvalanche: {43113, Addresses{
		USDC:               "0x5425890298aed601595a70AB815c96711a31Bc65",
		TokenMessenger:     "0xeb08f243e5d3fcff26a9e38ae5520a669f4019d0",
		MessageTransmitter: "0xa9fb1b3009dcb79e2fe346c16a604b8fa8ae0a79",
	}},
	ChainArbitrum: {421614, Addresses{
		USDC:               "0x75faf114eafb1bdbe2f0316df893fd58ce46aa4d",
		TokenMessenger:     "0x9f3b8679c73c2fef8b59b4f3444d4e156fb70aa5",
		MessageTransmitter: "0xacf1ceef35caac005e15888ddb8a3515c41b4872",
	}},
	ChainSolana: {103, Addresses{
		USDC:               "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		TokenMessenger:     "CCTPiPYPc6AsJuwueEnWgSgucamXDZwBd53dQ11YiKX3",
		MessageTransmitter: "CCTPmbSD7gX1bxKPAmg77w8oFzNFpaQiQUWD43TKaecd",
	}},
	ChainOptimism: {11155420, Addresses{
		USDC:               "0x5fd84259d66Cd46123540766Be93DFE6D43130D7",
		TokenMessenger:     "0x9f3b8679c73c2fef8b59b4f3444d4e156fb70aa5",
		MessageTransmitter: "0x7865fafc2db2093669d92c0f33aeef291086befd",
	}},
	ChainBase: {84532, Addresses{
		USDC:               "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		TokenMessenger:     "0x9f3b8679c73c2fef8b59b4f3444d4e156fb70aa5",
		MessageTransmitter: "0x7865fafc2db2093669d92c0f33aeef291086befd",
	}},
}

var mainnetChains = map[Chain]entry{
	ChainEthereum: {1, Addresses{
		USDC:               "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		TokenMessenger:     "0xbd3fa81b58ba92a82136038b25adec7066af3155",
		MessageTransmitter: "0x0a992d191deec32afe36203ad87d7d289a738f81",
	}},
	ChainAvalanche: {43114, Addresses{
		USDC:               "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		TokenMessenger:     "0x6b25532e1060ce10cc3b0a99e5683b91bfde6982",
		MessageTransmitter: "0x8186359af5f57fbb40c6b14a588d2a59c0c29880",
	}},
	ChainArbitrum: {42161, Addresses{
		USDC:               "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
		TokenMessenger:     "0x19330d10D9Cc8751218eaf51E8885D058642E08A",
		MessageTransmitter: "0xC30362313FBBA5cf9163F0bb16a0e01f01A896ca",
	}},
	ChainSolana: {101, Addresses{
		USDC:               "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		TokenMessenger:     "CCTPiPYPc6AsJuwueEnWgSgucamXDZwBd53dQ11YiKX3",
		MessageTransmitter: "CCTPmbSD7gX1bxKPAmg77w8oFzNFpaQiQUWD43TKaecd",
	}},
	ChainOptimism: {10, Addresses{
		USDC:               "0x0b2c639c533813f4aa9d7837caf62653d097ff85",
		TokenMessenger:     "0x2B4069517957735bE00ceE0fadAE88a26365528f",
		MessageTransmitter: "0x4d41f22c5a0e5c74090899e5a8fb597a8842b3e8",
	}},
	ChainBase: {8453, Addresses{
		USDC:               "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		TokenMessenger:     "0x1682Ae6375C4E4A97e4B583BC394c861A46D8962",
		MessageTransmitter: "0xAD09780d193884d503182aD4588450C416D6F9D4",
	}},
}

// Registry is the read-only chain table of one network. It is safe for concurrent use.
type Registry struct {
	network Network
	chains  map[Chain]Info
}

func NewRegistry(network Network) (*Registry, error) {
	var src map[Chain]entry
	switch network {
	case Testnet:
		src = testnetChains
	case Mainnet:
		src = mainnetChains
	default:
		return nil, fmt.Errorf("unknown network: %s", network)
	}

	r := &Registry{network: network, chains: make(map[Chain]Info, len(src))}
	for c, e := range src {
		d, err := c.Domain()
		if err != nil {
			return nil, err
		}
		r.chains[c] = Info{
			Chain:     c,
			Family:    c.Family(),
			ChainID:   e.chainID,
			Domain:    d,
			Addresses: e.addresses,
		}
	}
	return r, nil
}

func (r *Registry) Network() Network {
	return r.network
}

// Lookup returns the descriptor of the chain. Unknown chains are an error, never a zero value.
func (r *Registry) Lookup(c Chain) (Info, error) {
	info, ok := r.chains[c]
	if !ok {
		return Info{}, fmt.Errorf("chain %s is not configured on %s", c, r.network)
	}
	return info, nil
}

func (r *Registry) LookupDomain(d Domain) (Info, error) {
	c, err := ChainFromDomain(d)
	if err != nil {
		return Info{}, err
	}
	return r.Lookup(c)
}

// LookupChainID resolves a chain by its network id (e.g. 11155111 for Sepolia).
func (r *Registry) LookupChainID(id uint64) (Info, error) {
	for _, c := range AllChains {
		if info, ok := r.chains[c]; ok && info.ChainID == id {
			return info, nil
		}
	}
	return Info{}, fmt.Errorf("chain id %d is not supported on %s", id, r.network)
}

// Chains returns every configured chain in a stable order.
func (r *Registry) Chains() []Info {
	out := make([]Info, 0, len(r.chains))
	for _, c := range AllChains {
		if info, ok := r.chains[c]; ok {
			out = append(out, info)
		}
	}
	return out
}
