package cache

import (
	"crypto/rand"
	"math/big"
	"time"
)

// JitterTTL subtracts a random amount of up to 10% from ttl so that
// entries written at the same instant do not all expire together.
func JitterTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	maxJitter := int64(ttl / 10)
	if maxJitter <= 0 {
		return ttl
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxJitter+1))
	if err != nil {
		return ttl
	}
	return ttl - time.Duration(n.Int64())
}
