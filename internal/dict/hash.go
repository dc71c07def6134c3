package dict

import "github.com/cespare/xxhash/v2"

// hashCode computes the "host hashCode-equivalent" for key via xxhash
// (folded to 32 bits), then applies the fixed integer mix spec.md §4.1
// mandates to defeat trivial clustering:
//
//	h ^= h >> 16; h = (h ^ 61) + (h << 3); h ^= h >> 4
//	h *= 0x27d4eb2d; h ^= h >> 15; h &= 0x7fffffff
//
// The trailing mask keeps the result non-negative so bucket index h & mask
// always lands in range.
func hashCode(key string) uint32 {
	sum := xxhash.Sum64String(key)
	h := uint32(sum) ^ uint32(sum>>32)
	h ^= h >> 16
	h = (h ^ 61) + (h << 3)
	h ^= h >> 4
	h *= 0x27d4eb2d
	h ^= h >> 15
	h &= 0x7fffffff
	return h
}
