package bridge

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jup-ag/cctp-connect/pkg/adapters"
	"github.com/jup-ag/cctp-connect/pkg/adapters/evm"
	"github.com/jup-ag/cctp-connect/pkg/adapters/solana"
	"github.com/jup-ag/cctp-connect/pkg/attestation"
	"github.com/jup-ag/cctp-connect/pkg/chains"
	"github.com/jup-ag/cctp-connect/pkg/orchestrator"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds the settings shared by the node and transfer commands. Every field is a flag, which can also be
// set in the config file or through a CCTP_ prefixed environment variable.
type Config struct {
	Network        string
	DataDir        string
	AttestationURL string

	EthRPC      string
	AvaxRPC     string
	ArbRPC      string
	OptimismRPC string
	BaseRPC     string
	SolanaRPC   string

	EVMKey    string
	SolanaKey string

	StatusAddr string
	LogLevel   string
	AutoRedeem bool

	BlockchainPollInterval  time.Duration
	AttestationPollInterval time.Duration
	Confirmations           uint64
}

var cfg Config

func addConfigFlags(fs *pflag.FlagSet) {
	fs.StringVar(&cfg.Network, "network", string(chains.Testnet), "CCTP network (testnet, mainnet)")
	fs.StringVar(&cfg.DataDir, "dataDir", "", "Data directory holding the transfer database")
	fs.StringVar(&cfg.AttestationURL, "attestationURL", "", "Attestation service base URL (defaults to the network's service)")

	fs.StringVar(&cfg.EthRPC, "ethRPC", "", "Ethereum RPC URL")
	fs.StringVar(&cfg.AvaxRPC, "avaxRPC", "", "Avalanche C-Chain RPC URL")
	fs.StringVar(&cfg.ArbRPC, "arbRPC", "", "Arbitrum RPC URL")
	fs.StringVar(&cfg.OptimismRPC, "optimismRPC", "", "Optimism RPC URL")
	fs.StringVar(&cfg.BaseRPC, "baseRPC", "", "Base RPC URL")
	fs.StringVar(&cfg.SolanaRPC, "solanaRPC", "", "Solana RPC URL")

	fs.StringVar(&cfg.EVMKey, "evmKey", "", "Path to a hex encoded secp256k1 private key used on every EVM chain")
	fs.StringVar(&cfg.SolanaKey, "solanaKey", "", "Path to a solana-keygen keypair file")

	fs.StringVar(&cfg.LogLevel, "logLevel", "info", "Logging level (debug, info, warn, error, dpanic, panic, fatal)")
	fs.BoolVar(&cfg.AutoRedeem, "autoRedeem", false, "Submit the redeem as soon as the attestation is available")
	fs.DurationVar(&cfg.BlockchainPollInterval, "blockchainPollInterval", time.Second, "Interval between receipt lookups")
	fs.DurationVar(&cfg.AttestationPollInterval, "attestationPollInterval", attestation.DefaultPollInterval, "Interval between attestation requests")
	fs.Uint64Var(&cfg.Confirmations, "confirmations", 1, "Blocks an EVM transaction needs before it counts as confirmed")
}

// initFlags applies config file and environment values to every flag not given on the command line.
func initFlags(cmd *cobra.Command, _ []string) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if bindErr != nil || f.Changed || !viper.IsSet(f.Name) {
			return
		}
		if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", viper.Get(f.Name))); err != nil {
			bindErr = fmt.Errorf("failed to bind flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}

func (c *Config) rpcFor(chain chains.Chain) string {
	switch chain {
	case chains.ChainEthereum:
		return c.EthRPC
	case chains.ChainAvalanche:
		return c.AvaxRPC
	case chains.ChainArbitrum:
		return c.ArbRPC
	case chains.ChainOptimism:
		return c.OptimismRPC
	case chains.ChainBase:
		return c.BaseRPC
	case chains.ChainSolana:
		return c.SolanaRPC
	}
	return ""
}

func (c *Config) orchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		BlockchainPollInterval:  c.BlockchainPollInterval,
		AttestationPollInterval: c.AttestationPollInterval,
		AutoRedeem:              c.AutoRedeem,
	}
}

// environment is everything built from Config that talks to the outside world.
type environment struct {
	registry     *chains.Registry
	adapters     map[chains.Chain]adapters.ChainAdapter
	attestations *attestation.Client

	evmKey       *ecdsa.PrivateKey
	solanaWallet *solana.LocalWallet
}

func (e *environment) adapterList() []adapters.ChainAdapter {
	out := make([]adapters.ChainAdapter, 0, len(e.adapters))
	for _, c := range chains.AllChains {
		if a, ok := e.adapters[c]; ok {
			out = append(out, a)
		}
	}
	return out
}

func (e *environment) adapter(c chains.Chain) (adapters.ChainAdapter, error) {
	a, ok := e.adapters[c]
	if !ok {
		return nil, fmt.Errorf("no RPC configured for %s", c)
	}
	return a, nil
}

// walletAddress is the address the configured key controls on chain.
func (e *environment) walletAddress(c chains.Chain) (string, error) {
	switch c.Family() {
	case chains.FamilyEVM:
		if e.evmKey == nil {
			return "", errors.New("no evmKey configured")
		}
		return ethcrypto.PubkeyToAddress(e.evmKey.PublicKey).Hex(), nil
	case chains.FamilySolana:
		if e.solanaWallet == nil {
			return "", errors.New("no solanaKey configured")
		}
		return e.solanaWallet.PublicKey().String(), nil
	}
	return "", fmt.Errorf("unsupported chain %s", c)
}

// newEnvironment dials every chain with a configured RPC. onReady is called for each connected chain.
func newEnvironment(ctx context.Context, logger *zap.Logger, onReady func(chains.Chain)) (*environment, error) {
	network, err := chains.NetworkFromString(cfg.Network)
	if err != nil {
		return nil, err
	}
	registry, err := chains.NewRegistry(network)
	if err != nil {
		return nil, err
	}

	env := &environment{registry: registry, adapters: map[chains.Chain]adapters.ChainAdapter{}}
	if cfg.EVMKey != "" {
		env.evmKey, err = ethcrypto.LoadECDSA(cfg.EVMKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load evm key: %w", err)
		}
		logger.Info("loaded evm key", zap.Stringer("address", ethcrypto.PubkeyToAddress(env.evmKey.PublicKey)))
	}
	if cfg.SolanaKey != "" {
		env.solanaWallet, err = solana.LoadWallet(cfg.SolanaKey)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded solana key", zap.Stringer("address", env.solanaWallet.PublicKey()))
	}

	for _, info := range registry.Chains() {
		rpcURL := cfg.rpcFor(info.Chain)
		if rpcURL == "" {
			continue
		}
		var a adapters.ChainAdapter
		switch info.Family {
		case chains.FamilyEVM:
			var wallet *bind.TransactOpts
			if env.evmKey != nil {
				wallet, err = bind.NewKeyedTransactorWithChainID(env.evmKey, new(big.Int).SetUint64(info.ChainID))
				if err != nil {
					return nil, err
				}
			}
			a, err = evm.Dial(ctx, info, rpcURL, wallet, logger, evm.WithConfirmations(cfg.Confirmations))
		case chains.FamilySolana:
			var wallet solana.Wallet
			if env.solanaWallet != nil {
				wallet = env.solanaWallet
			}
			a, err = solana.Dial(info, rpcURL, wallet, logger)
		default:
			err = fmt.Errorf("unsupported chain family %s", info.Family)
		}
		if err != nil {
			return nil, err
		}
		env.adapters[info.Chain] = a
		logger.Info("connected chain", zap.Stringer("chain", info.Chain), zap.Uint32("domain", info.Domain))
		if onReady != nil {
			onReady(info.Chain)
		}
	}
	if len(env.adapters) == 0 {
		return nil, errors.New("no chain RPC configured")
	}

	attestationURL := cfg.AttestationURL
	if attestationURL == "" {
		attestationURL = network.AttestationURL()
	}
	env.attestations = attestation.NewClient(attestationURL, logger)
	return env, nil
}

func parseEVMAddress(s string) (ethcommon.Address, error) {
	if !ethcommon.IsHexAddress(s) {
		return ethcommon.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return ethcommon.HexToAddress(s), nil
}
