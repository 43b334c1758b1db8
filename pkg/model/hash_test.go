package model

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombineHashesNotCommutative(t *testing.T) {
	a := ContextHash("SQL", "CREATE TABLE t (a int)")
	b := ContextHash("SQL", "INSERT INTO t VALUES (1)")

	require.True(t, IsValidHash(CombineHashes(a, b)))
	assert.NotEqual(t, CombineHashes(a, b), CombineHashes(b, a))
	assert.NotEqual(t, CombineHashes(ZeroHash, a), CombineHashes(a, ZeroHash))
	assert.Equal(t, CombineHashes(a, b), CombineHashes(a, b), "combination must be deterministic")
}

func TestCombineHashesInjective(t *testing.T) {
	const corpus = 10000

	for _, first := range []string{ZeroHash, ContextHash("root")} {
		seen := make(map[string]string, corpus)
		for i := 0; i < corpus; i++ {
			second := ContextHash(fmt.Sprintf("step-%d", i))
			combined := CombineHashes(first, second)
			if prev, ok := seen[combined]; ok {
				t.Fatalf("collision between %s and %s", prev, second)
			}
			seen[combined] = second
		}
		require.Len(t, seen, corpus)
	}
}

func TestCombineHashesNoExtensionAmbiguity(t *testing.T) {
	// same concatenation, different split
	assert.NotEqual(t, CombineHashes("ab", "c"), CombineHashes("a", "bc"))
	assert.NotEqual(t, ContextHash("ab", "c"), ContextHash("a", "bc"))

	// raw strings never collide with decoded hex
	h := ContextHash("x")
	assert.NotEqual(t, CombineHashes(h, h), CombineHashes(h, strings.ToUpper(h)))
}

func TestNormalizeContextHash(t *testing.T) {
	h := ContextHash("LOAD_CSV", "data.csv")

	tests := []struct {
		name   string
		input  string
		expect func(*testing.T, string)
	}{
		{
			name:  "full hash passes through",
			input: h,
			expect: func(t *testing.T, out string) {
				assert.Equal(t, h, out)
			},
		},
		{
			name:  "upper case hash is lowered",
			input: strings.ToUpper(h),
			expect: func(t *testing.T, out string) {
				assert.Equal(t, h, out)
			},
		},
		{
			name:  "arbitrary string is hashed",
			input: "version 3",
			expect: func(t *testing.T, out string) {
				assert.True(t, IsValidHash(out))
				assert.Equal(t, ContextHash("version 3"), out)
			},
		},
		{
			name:  "empty is random",
			input: "",
			expect: func(t *testing.T, out string) {
				assert.True(t, IsValidHash(out))
				assert.NotEqual(t, out, NormalizeContextHash(""))
			},
		},
	}

	for _, toPin := range tests {
		tt := toPin
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.expect(t, NormalizeContextHash(tt.input))
		})
	}
}

func TestHashPredicates(t *testing.T) {
	assert.True(t, IsValidHash(ZeroHash))
	assert.False(t, IsValidHash(ZeroHash[1:]))
	assert.False(t, IsValidHash(strings.Repeat("g", HashSizeHex)))
	assert.True(t, IsHashPrefix("0a1b"))
	assert.False(t, IsHashPrefix(""))
	assert.False(t, IsHashPrefix("HEAD"))
	assert.Equal(t, "000000000000", ShortHash(ZeroHash))
	assert.Equal(t, "abc", ShortHash("abc"))
}
