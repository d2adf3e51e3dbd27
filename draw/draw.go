// Package draw turns a public random seed into a winning ticket index.
package draw

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// SeedLen is the length of a beacon seed.
const SeedLen = 32

// Random returns the first four bytes of keccak256(seed || LE32(n)), read
// as a little-endian integer.
func Random(seed [SeedLen]byte, n uint32) uint32 {
	h := sha3.NewLegacyKeccak256()
	h.Write(seed[:])
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], n)
	h.Write(buf[:])
	return binary.LittleEndian.Uint32(h.Sum(nil)[:4])
}

// Winner maps the seed onto [0, population). population must be positive.
//
// The reduction is a plain modulo, so for populations that do not divide
// 2^32 the lower indices are favoured by at most population/2^32, which is
// negligible for ledgers of a few thousand tickets.
func Winner(seed [SeedLen]byte, population uint32) uint32 {
	return Random(seed, population) % population
}
