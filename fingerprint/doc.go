// Package fingerprint provides canonical equality and keying for request
// descriptors.
//
// Equality treats params/headers as unordered multisets and serializes
// bodies through key-sorted JSON, so structurally identical requests compare
// equal regardless of map iteration order. Key derives a deterministic
// SHA-256 based cache key from the same canonical form.
package fingerprint
