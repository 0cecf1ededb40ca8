package derive

import (
	"bytes"
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
	lru "github.com/hashicorp/golang-lru"
)

type cached struct {
	address solana.PublicKey
	bump    uint8
}

// Cache memoizes derivations in a fixed size LRU.
type Cache struct {
	lru *lru.Cache
}

func NewCache(size int) (*Cache, error) {
	l, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

func cacheKey(label string, programID solana.PublicKey, seeds []Seed) string {
	var buf bytes.Buffer
	buf.Write(programID.Bytes())
	for _, s := range append([]Seed{String(label)}, seeds...) {
		_ = binary.Write(&buf, binary.BigEndian, uint8(len(s)))
		buf.Write(s)
	}
	return buf.String()
}

func (c *Cache) Derive(label string, programID solana.PublicKey, seeds ...Seed) (solana.PublicKey, uint8, error) {
	key := cacheKey(label, programID, seeds)
	if v, ok := c.lru.Get(key); ok {
		hit := v.(cached)
		return hit.address, hit.bump, nil
	}

	addr, bump, err := Derive(label, programID, seeds...)
	if err != nil {
		return solana.PublicKey{}, 0, err
	}
	c.lru.Add(key, cached{address: addr, bump: bump})
	return addr, bump, nil
}

func (c *Cache) DepositForBurnAccounts(p Programs, destinationDomain uint32) (*DepositForBurnAccounts, error) {
	return deriver(c.Derive).DepositForBurn(p, destinationDomain)
}

func (c *Cache) ReceiveMessageAccounts(p Programs, sourceDomain uint32, remoteToken [32]byte, nonce uint64) (*ReceiveMessageAccounts, error) {
	return deriver(c.Derive).ReceiveMessage(p, sourceDomain, remoteToken, nonce)
}

func (c *Cache) Len() int {
	return c.lru.Len()
}
