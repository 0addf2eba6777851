package local_test

import (
	"testing"

	"github.com/goliatone/go-auth-session/provider/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPasswordAndCompare(t *testing.T) {
	hash, err := local.HashPassword("secret123", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, "secret123", hash)

	assert.NoError(t, local.ComparePasswordAndHash("secret123", hash))
	assert.ErrorIs(t, local.ComparePasswordAndHash("wrong", hash), local.ErrInvalidLogin)
	assert.Error(t, local.ComparePasswordAndHash("secret123", "not-a-hash"))
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	_, err := local.HashPassword("", bcrypt.MinCost)
	assert.ErrorIs(t, err, local.ErrWeakPassword)
}
