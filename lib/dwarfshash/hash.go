// Package dwarfshash implements the content-hash and checksum
// primitives used throughout the image format: the configurable
// file-hash used for chunk deduplication, and the section envelope's
// fast and strong checksums.
package dwarfshash

import (
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/minio/sha256-simd"
	"github.com/zeebo/blake3"
)

// Hash is a 32-byte content hash, regardless of which file-hash
// algorithm produced it. Both digests in use (keyed BLAKE3 and
// SHA-256) are exactly 32 bytes; FileHashNone also yields a BLAKE3
// chunk hash (see HashChunkWith).
type Hash [32]byte

// domainKey is a 32-byte BLAKE3 key used to separate hash domains so
// that, e.g., a chunk hash and a block hash of identical bytes never
// collide.
type domainKey [32]byte

var (
	chunkDomain = domainKey{
		'd', 'w', 'a', 'r', 'f', 's', '.', 'c', 'h', 'u', 'n', 'k', 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
	blockDomain = domainKey{
		'd', 'w', 'a', 'r', 'f', 's', '.', 'b', 'l', 'o', 'c', 'k', 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
	fileDomain = domainKey{
		'd', 'w', 'a', 'r', 'f', 's', '.', 'f', 'i', 'l', 'e', 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// HashChunk hashes a single fragment of deduplicated content.
func HashChunk(data []byte) Hash { return keyedHash(chunkDomain, data) }

// HashBlock hashes a decompressed block's bytes; dwarfsck --checksum
// prints it for each block.
func HashBlock(data []byte) Hash { return keyedHash(blockDomain, data) }

// HashFile combines per-chunk hashes into a single file-level hash via
// a Merkle tree. Chunk dedup keys come from HashChunkWith, not from
// this function.
func HashFile(chunkHashes []Hash) Hash {
	if len(chunkHashes) == 0 {
		return keyedHash(fileDomain, nil)
	}
	return MerkleRoot(fileDomain, chunkHashes)
}

// MerkleRoot computes a bottom-up Merkle tree root over hashes, keyed
// to the given domain. Pairs are combined with keyedHash(key,
// left||right); an odd trailing node is promoted to the next level
// without being re-hashed. Panics if hashes is empty.
func MerkleRoot(key domainKey, hashes []Hash) Hash {
	if len(hashes) == 0 {
		panic("dwarfshash: MerkleRoot called with no hashes")
	}
	level := hashes
	hasher := blake3.New()
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, hashPair(hasher, key, level[i], level[i+1]))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}
	return level[0]
}

func keyedHash(key domainKey, data []byte) Hash {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic(fmt.Sprintf("dwarfshash: invalid key length: %v", err))
	}
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func hashPair(hasher *blake3.Hasher, key domainKey, left, right Hash) Hash {
	hasher.Reset()
	keyed, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic(fmt.Sprintf("dwarfshash: invalid key length: %v", err))
	}
	keyed.Write(left[:])
	keyed.Write(right[:])
	var out Hash
	copy(out[:], keyed.Sum(nil))
	return out
}

// FormatHash renders a Hash as lowercase hex.
func FormatHash(h Hash) string { return hex.EncodeToString(h[:]) }

// ParseHash parses a lowercase hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parsing hash %q: %w", s, err)
	}
	if len(decoded) != len(h) {
		return h, fmt.Errorf("hash %q has %d bytes, want %d", s, len(decoded), len(h))
	}
	copy(h[:], decoded)
	return h, nil
}

// FastChecksum is the section envelope's cheap, always-verified
// integrity check over a payload, grounded in the XXH3-class checksum
// named by spec.md Section 4.1.
func FastChecksum(payload []byte) uint64 {
	return xxhash.Sum64(payload)
}

// StrongChecksum is the section envelope's SHA-256-class check over
// header-plus-payload bytes, verified only under check-integrity or a
// full check.
func StrongChecksum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// FileHashAlgorithm names the dedup hash a writer was configured with.
type FileHashAlgorithm string

const (
	FileHashBlake3 FileHashAlgorithm = "blake3"
	FileHashSHA256 FileHashAlgorithm = "sha256"
	FileHashNone   FileHashAlgorithm = "none"
)

// ParseFileHashAlgorithm validates a --file-hash option value.
func ParseFileHashAlgorithm(s string) (FileHashAlgorithm, error) {
	switch FileHashAlgorithm(s) {
	case FileHashBlake3, FileHashSHA256, FileHashNone:
		return FileHashAlgorithm(s), nil
	default:
		return "", fmt.Errorf("unknown file-hash algorithm %q", s)
	}
}

// HashChunkWith hashes a chunk's bytes using the given algorithm. For
// FileHashNone it returns a hash derived from the chunk's identity
// (its own bytes still get hashed so the dedup map has a key, but the
// caller is expected to treat FileHashNone specially and skip dedup
// entirely rather than relying on hash collisions never happening).
func HashChunkWith(algo FileHashAlgorithm, data []byte) Hash {
	switch algo {
	case FileHashSHA256:
		sum := sha256.Sum256(data)
		var h Hash
		copy(h[:], sum[:])
		return h
	default:
		return HashChunk(data)
	}
}
