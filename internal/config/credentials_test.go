package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyDigestCredential(t *testing.T) {
	hash, err := HashDigestCredential("admin:s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "admin:s3cret", hash)
	assert.True(t, VerifyDigestCredential(hash, "admin:s3cret"))
	assert.False(t, VerifyDigestCredential(hash, "admin:wrong"))
}
