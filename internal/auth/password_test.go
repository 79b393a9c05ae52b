package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashAndComparePassword(t *testing.T) {
	hashed, err := HashPassword("s3cret-passphrase", bcrypt.MinCost)
	require.NoError(t, err)

	assert.NoError(t, ComparePassword(hashed, "s3cret-passphrase"))
	assert.Error(t, ComparePassword(hashed, "wrong"))
}

func TestHashPasswordClampsInvalidCost(t *testing.T) {
	for _, cost := range []int{-1, 0, 99} {
		hashed, err := HashPassword("s3cret-passphrase", cost)
		require.NoError(t, err, "cost %d", cost)
		assert.NoError(t, ComparePassword(hashed, "s3cret-passphrase"))
	}
}
