package types

import "hash/fnv"

// Hash returns a structural hash for v that agrees with Equal on
// every variant except Float NaN (spec 3.1: "hashing agrees with
// equality on all non-Float variants" — NaN is never equal to
// itself, so it is explicitly excluded from that guarantee here too;
// it still hashes deterministically by bit pattern, it just doesn't
// need to, since nothing can ever look it up by equality).
// It hashes the same key string MapValue's underlying goMap uses
// (keyHash), so the two stay consistent.
func Hash(v Value) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(keyHash(v)))
	return h.Sum64()
}
