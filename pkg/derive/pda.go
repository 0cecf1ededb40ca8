// Package derive computes Solana program derived addresses (PDAs) and associated token accounts.
package derive

import (
	"encoding/binary"
	"fmt"

	"github.com/jup-ag/cctp-connect/pkg/common"

	"github.com/gagliardetto/solana-go"
)

const (
	maxSeeds      = 16
	maxSeedLength = 32
)

// Seed is one component of a program address derivation.
type Seed []byte

func String(s string) Seed {
	return Seed(s)
}

func Bytes(b []byte) Seed {
	return Seed(b)
}

func PublicKey(pk solana.PublicKey) Seed {
	return Seed(pk.Bytes())
}

func Uint32LE(v uint32) Seed {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func Uint64LE(v uint64) Seed {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// createProgramAddress hashes seeds, bump and program id and fails when the result lies on the ed25519 curve.
var createProgramAddress = solana.CreateProgramAddress

// Derive returns the address and bump for the label-prefixed seed list under programID.
func Derive(label string, programID solana.PublicKey, seeds ...Seed) (solana.PublicKey, uint8, error) {
	return DeriveSeeds(programID, append([]Seed{String(label)}, seeds...)...)
}

// DeriveSeeds searches bumps from 255 down to 0 and returns the first off-curve address.
func DeriveSeeds(programID solana.PublicKey, seeds ...Seed) (solana.PublicKey, uint8, error) {
	if len(seeds)+1 > maxSeeds {
		return solana.PublicKey{}, 0, fmt.Errorf("too many seeds: %d", len(seeds))
	}
	raw := make([][]byte, 0, len(seeds)+1)
	for i, s := range seeds {
		if len(s) > maxSeedLength {
			return solana.PublicKey{}, 0, fmt.Errorf("seed %d is %d bytes, max %d", i, len(s), maxSeedLength)
		}
		raw = append(raw, s)
	}

	for bump := 255; bump >= 0; bump-- {
		addr, err := createProgramAddress(append(raw, []byte{byte(bump)}), programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
	}
	return solana.PublicKey{}, 0, fmt.Errorf("%w: program %s", common.ErrDerivationExhausted, programID)
}

// Verify reports whether address is the program address of the seeds with the given bump.
func Verify(address solana.PublicKey, bump uint8, label string, programID solana.PublicKey, seeds ...Seed) bool {
	raw := [][]byte{[]byte(label)}
	for _, s := range seeds {
		raw = append(raw, s)
	}
	got, err := createProgramAddress(append(raw, []byte{bump}), programID)
	return err == nil && got.Equals(address)
}
