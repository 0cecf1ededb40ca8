package debug

import (
	"encoding/hex"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/jup-ag/cctp-connect/pkg/derive"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"
)

var (
	pdaProgram *string
	pdaLabel   *string
	pdaSeeds   *[]string
)

func init() {
	pdaProgram = derivePDACmd.Flags().String("program", "", "Program id")
	pdaLabel = derivePDACmd.Flags().String("label", "", "Leading string seed")
	pdaSeeds = derivePDACmd.Flags().StringArray("seed", nil, "Further seeds as type:value with type one of str, pubkey, u32, u64, hex, base58")
	DebugCmd.AddCommand(derivePDACmd)
}

var derivePDACmd = &cobra.Command{
	Use:   "pda",
	Short: "Derive a Solana program address",
	Run: func(cmd *cobra.Command, args []string) {
		programID, err := solana.PublicKeyFromBase58(*pdaProgram)
		if err != nil {
			log.Fatalf("invalid program id: %v", err)
		}
		seeds := make([]derive.Seed, 0, len(*pdaSeeds))
		for _, s := range *pdaSeeds {
			seed, err := parseSeed(s)
			if err != nil {
				log.Fatal(err)
			}
			seeds = append(seeds, seed)
		}

		addr, bump, err := derive.Derive(*pdaLabel, programID, seeds...)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s (bump %d)\n", addr, bump)
	},
}

func parseSeed(s string) (derive.Seed, error) {
	kind, value, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("seed %q is not of the form type:value", s)
	}
	switch kind {
	case "str":
		return derive.String(value), nil
	case "pubkey":
		pk, err := solana.PublicKeyFromBase58(value)
		if err != nil {
			return nil, err
		}
		return derive.PublicKey(pk), nil
	case "u32":
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return nil, err
		}
		return derive.Uint32LE(uint32(v)), nil
	case "u64":
		v, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return nil, err
		}
		return derive.Uint64LE(v), nil
	case "hex":
		b, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
		if err != nil {
			return nil, err
		}
		return derive.Bytes(b), nil
	case "base58":
		b, err := base58.Decode(value)
		if err != nil {
			return nil, err
		}
		return derive.Bytes(b), nil
	}
	return nil, fmt.Errorf("unknown seed type %q", kind)
}
