package types

// EncodeHash reinterprets a uint64 content hash as its exact int64 bit
// pattern for storage in a signed 64-bit SQLite column. DecodeHash is the
// exact inverse. Implementations must preserve decode(encode(h)) == h for
// every h in [0, 2^64) (spec §4.1's numeric encoding contract) — this is a
// bit reinterpretation, not a numeric cast, so no value is out of range and
// no precision is lost.
func EncodeHash(h uint64) int64 {
	return int64(h)
}

// DecodeHash is the exact inverse of EncodeHash.
func DecodeHash(v int64) uint64 {
	return uint64(v)
}
