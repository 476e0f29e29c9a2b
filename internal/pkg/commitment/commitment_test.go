package commitment

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionDigestShape(t *testing.T) {
	d := SessionDigest(uuid.New())
	assert.Len(t, d, 66)
	assert.Equal(t, "0x", d[:2])
}

func TestSessionDigestDeterministic(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, SessionDigest(id), SessionDigest(id))
	assert.NotEqual(t, SessionDigest(id), SessionDigest(uuid.New()))
}

func TestOrderDigestEmptyInput(t *testing.T) {
	// keccak256 of the empty byte string.
	d, err := OrderDigest("0x")
	require.NoError(t, err)
	assert.Equal(t, "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", d)
}

func TestOrderDigestRejectsMalformedHex(t *testing.T) {
	_, err := OrderDigest("not-hex")
	require.Error(t, err)
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name  string
		a, b  string
		equal bool
	}{
		{name: "identical", a: "0xabcdef", b: "0xabcdef", equal: true},
		{name: "prefix tolerated", a: "abcdef", b: "0xabcdef", equal: true},
		{name: "case tolerated", a: "0xABCDEF", b: "0xabcdef", equal: true},
		{name: "different digests", a: "0xabcdef", b: "0xabcdee", equal: false},
		{name: "empty against digest", a: "", b: "0xabcdef", equal: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, Equal(tt.a, tt.b))
		})
	}
}
