// Package graph implements the typed node registry, content hashing,
// schema-callback futures, setting generators/updators, and the
// undo/redo history manager that together form the graph model.
package graph

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"sort"
)

// Hash128 is a stable 128-bit node content hash. The pack carries no
// ecosystem 128-bit hash library, so this truncates a SHA-256 digest to
// its first 16 bytes, which preserves the avalanche and collision
// properties the spec needs without inventing a hash primitive.
type Hash128 [16]byte

// String renders the hash as lowercase hex, usable directly as a cache key.
func (h Hash128) String() string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 32)
	for i, b := range h {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0f]
	}
	return string(out)
}

// IsZero reports whether the hash was never computed.
func (h Hash128) IsZero() bool {
	return h == Hash128{}
}

// HashNode computes Node.hash = H(sort(input hashes) ++ H(settings) ++ graph_uuid)
// per §4.2.1, with the number of input hashes also written into the digest
// as 8 big-endian bytes. inputHashes need not be pre-sorted; canonicalSettings must
// already be a deterministic byte encoding (see CanonicalizeSettings).
func HashNode(inputHashes []Hash128, canonicalSettings []byte, graphUUID string) Hash128 {
	sorted := make([]Hash128, len(inputHashes))
	copy(sorted, inputHashes)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].String() < sorted[j].String()
	})

	h := sha256.New()
	for _, in := range sorted {
		h.Write(in[:])
	}

	settingsDigest := sha256.Sum256(canonicalSettings)
	h.Write(settingsDigest[:])

	h.Write([]byte(graphUUID))

	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(sorted)))
	h.Write(length[:])

	sum := h.Sum(nil)
	var out Hash128
	copy(out[:], sum[:16])
	return out
}

// CanonicalizeSettings serializes a settings value into a deterministic
// byte form: Go's encoding/json already sorts map keys, and struct field
// order is fixed by the type template's declaration order, which together
// satisfy §4.2.1's "field ordering defined by the type template" rule.
func CanonicalizeSettings(settings interface{}) ([]byte, error) {
	return json.Marshal(settings)
}
