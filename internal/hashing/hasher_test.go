package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboarding-service/internal/config"
)

func testHasher() *Hasher {
	cfg := &config.Config{}
	cfg.Identity.HashSecret = "unit-test-pepper"
	return NewHasher(cfg)
}

func TestHashAndVerifyCode(t *testing.T) {
	h := testHasher()

	result, err := h.HashCode("042917")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Hash)
	assert.NotEmpty(t, result.Salt)
	assert.Equal(t, "argon2id-v1", result.Algorithm)

	ok, err := h.VerifyCode("042917", result)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyCode("042918", result)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashCodeSaltsAreUnique(t *testing.T) {
	h := testHasher()

	first, err := h.HashCode("123456")
	require.NoError(t, err)
	second, err := h.HashCode("123456")
	require.NoError(t, err)

	assert.NotEqual(t, first.Salt, second.Salt)
	assert.NotEqual(t, first.Hash, second.Hash)
}

func TestVerifyCodeRejectsGarbageHash(t *testing.T) {
	h := testHasher()

	_, err := h.VerifyCode("123456", &HashResult{Hash: "!!!", Salt: "!!!"})
	assert.ErrorIs(t, err, ErrInvalidHash)
}
