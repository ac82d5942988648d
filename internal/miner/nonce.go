package miner

import (
	"encoding/binary"
	"math/rand/v2"

	"github.com/bardlex/powminer/internal/work"
)

// putNonce writes the candidate nonce for slot into dst: the slot index as
// uint32 little endian followed by four random bytes. The slot prefix keeps
// nonces of one round distinct whatever the suffix is.
func putNonce(dst []byte, slot uint32, rng *rand.Rand) {
	binary.LittleEndian.PutUint32(dst[:4], slot)
	binary.LittleEndian.PutUint32(dst[4:work.NonceSize], rng.Uint32())
}

// newWorkerRand seeds an independent generator for one worker.
func newWorkerRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}
