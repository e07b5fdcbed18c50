package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPair(t *testing.T) (privPEM, pubPEM string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privPEM = string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM = string(pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: der,
	}))
	return privPEM, pubPEM
}

// TestJWTRoundtrip tests token generation and validation
func TestJWTRoundtrip(t *testing.T) {
	privPEM, pubPEM := testKeyPair(t)
	jm, err := NewJWTManager(privPEM, pubPEM)
	require.NoError(t, err)

	userID := uuid.New()
	token, err := jm.GenerateToken(userID, "alice", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := jm.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "alice", claims.Name)
	assert.Equal(t, "flowsync", claims.Issuer)
}

// TestJWTRejections tests the tokens validation must refuse
func TestJWTRejections(t *testing.T) {
	privPEM, pubPEM := testKeyPair(t)
	jm, err := NewJWTManager(privPEM, pubPEM)
	require.NoError(t, err)

	t.Run("expired token", func(t *testing.T) {
		token, err := jm.GenerateToken(uuid.New(), "alice", -time.Minute)
		require.NoError(t, err)
		_, err = jm.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := jm.ValidateToken("not.a.token")
		assert.Error(t, err)
	})

	t.Run("token signed by a different key", func(t *testing.T) {
		otherPriv, otherPub := testKeyPair(t)
		other, err := NewJWTManager(otherPriv, otherPub)
		require.NoError(t, err)
		token, err := other.GenerateToken(uuid.New(), "mallory", time.Hour)
		require.NoError(t, err)

		_, err = jm.ValidateToken(token)
		assert.Error(t, err)
	})
}

// TestJWTVerifyOnly tests a manager configured without a private key
func TestJWTVerifyOnly(t *testing.T) {
	privPEM, pubPEM := testKeyPair(t)
	minter, err := NewJWTManager(privPEM, pubPEM)
	require.NoError(t, err)

	verifier, err := NewJWTManager("", pubPEM)
	require.NoError(t, err)

	token, err := minter.GenerateToken(uuid.New(), "alice", time.Hour)
	require.NoError(t, err)

	claims, err := verifier.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Name)

	_, err = verifier.GenerateToken(uuid.New(), "alice", time.Hour)
	assert.Error(t, err, "minting requires the private key")
}

// TestNewJWTManagerBadKeys tests constructor failures on malformed PEM
func TestNewJWTManagerBadKeys(t *testing.T) {
	_, pubPEM := testKeyPair(t)

	_, err := NewJWTManager("not pem", pubPEM)
	assert.Error(t, err)

	_, err = NewJWTManager("", "not pem")
	assert.Error(t, err)
}

// TestExtractTokenFromHeader tests bearer header parsing
func TestExtractTokenFromHeader(t *testing.T) {
	testCases := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"well formed", "Bearer abc.def.ghi", "abc.def.ghi", false},
		{"empty header", "", "", true},
		{"wrong scheme", "Basic abc", "", true},
		{"lowercase scheme", "bearer abc", "", true},
		{"scheme only", "Bearer", "", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractTokenFromHeader(tc.header)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
