package miner

import (
	simdsha "github.com/minio/sha256-simd"

	"github.com/bardlex/powminer/internal/work"
)

// DoubleHash returns sha256(sha256(b)).
func DoubleHash(b []byte) [work.HashSize]byte {
	first := simdsha.Sum256(b)
	return simdsha.Sum256(first[:])
}
