package model

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
)

const (
	// HashSize is the size in bytes of image and object hashes
	HashSize = 32

	// HashSizeHex is the length of the hex representation of a hash
	HashSizeHex = 2 * HashSize

	// combineVersion prefixes every combined hash, so the scheme may evolve
	combineVersion byte = 0x01
)

// ZeroHash is the well-known root image of every repository
var ZeroHash = strings.Repeat("0", HashSizeHex)

// IsValidHash tells if a string is a full-length lowercase hex hash
func IsValidHash(h string) bool {
	if len(h) != HashSizeHex {
		return false
	}
	for _, c := range h {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// IsHashPrefix tells if a string may be used as an abbreviated hash
func IsHashPrefix(h string) bool {
	if h == "" || len(h) > HashSizeHex {
		return false
	}
	for _, c := range h {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// CombineHashes derives the hash of an image from the hash of its parent
// and the hash of the context that produced it.
//
// The combination is order-sensitive: CombineHashes(a, b) != CombineHashes(b, a) whenever a != b.
// Both inputs are length-prefixed, which removes any ambiguity when
// concatenating inputs of varying length.
func CombineHashes(first, second string) string {
	h := sha256.New()
	_, _ = h.Write([]byte{combineVersion})
	writeHash(h, first)
	writeHash(h, second)
	return hex.EncodeToString(h.Sum(nil))
}

// ContextHash computes a deterministic hash over an ordered list of parts
func ContextHash(parts ...string) string {
	h := sha256.New()
	_, _ = h.Write([]byte{combineVersion})
	for _, part := range parts {
		writeLengthPrefixed(h, []byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeContextHash turns any context hash provided by a command into a
// valid full-length hash. An empty input yields a random hash.
func NormalizeContextHash(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	switch {
	case h == "":
		return RandomHash()
	case IsValidHash(h):
		return h
	default:
		return ContextHash(h)
	}
}

// RandomHash yields a random full-length hash
func RandomHash() string {
	var b [HashSize]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ShortHash abbreviates a hash for display
func ShortHash(h string) string {
	const short = 12
	if len(h) <= short {
		return h
	}
	return h[:short]
}

// writeHash writes the raw bytes of a hex hash, or the bytes of any other
// string, tagged so that both forms never collide.
func writeHash(w byteWriter, h string) {
	if IsValidHash(h) {
		if b, err := hex.DecodeString(h); err == nil {
			_, _ = w.Write([]byte{'h'})
			writeLengthPrefixed(w, b)
			return
		}
	}
	_, _ = w.Write([]byte{'s'})
	writeLengthPrefixed(w, []byte(h))
}

type byteWriter interface {
	Write([]byte) (int, error)
}

func writeLengthPrefixed(w byteWriter, b []byte) {
	var prefix [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(prefix[:], uint64(len(b)))
	_, _ = w.Write(prefix[:n])
	_, _ = w.Write(b)
}
