// Package cafs provides a content-addressable store of table fragments.
//
// A fragment is either a full snapshot of a table (SNAP), or a delta against
// a parent fragment (DIFF) listing removed and added rows.
//
// Fragments are encoded as canonical CBOR, then compressed with zstd. The ID of a fragment is
// the blake2b hash of its canonical encoding, so identical content always yields the same ID.
//
// The implementation of the Blake hash we use (https://github.com/minio/blake2b-simd)
// is 3 to 5 times faster than usual hashes such as MD5 or SHA's.
package cafs
