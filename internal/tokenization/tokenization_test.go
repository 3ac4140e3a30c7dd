package tokenization

import (
	"encoding/hex"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestEncryptDecrypt(t *testing.T) {
	svc, err := NewTokenizationService(testKey)
	require.NoError(t, err)

	token, err := svc.Encrypt("shpat_secret_access_token")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, tokenPrefix))
	assert.NotContains(t, token, "shpat_secret_access_token")

	again, err := svc.Encrypt("shpat_secret_access_token")
	require.NoError(t, err)
	assert.NotEqual(t, token, again, "nonce must differ per encryption")

	plain, err := svc.Decrypt(token)
	require.NoError(t, err)
	assert.Equal(t, "shpat_secret_access_token", plain)
}

func TestDecryptRejectsTampering(t *testing.T) {
	svc, err := NewTokenizationService(testKey)
	require.NoError(t, err)

	_, err = svc.Decrypt("plaintext-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Decrypt(tokenPrefix + "!!!")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Decrypt(tokenPrefix + "AAAA")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewTokenizationService([]byte("fedcba9876543210fedcba9876543210"))
	require.NoError(t, err)
	token, err := other.Encrypt("x")
	require.NoError(t, err)
	_, err = svc.Decrypt(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenizationServiceKeyLength(t *testing.T) {
	_, err := NewTokenizationService([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "****", Mask("abc"))
	assert.Equal(t, "****wxyz", Mask("shpat_wxyz"))
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"id":1001,"line_items":[]}`)
	sig := SignWebhook("s3cret", body)

	assert.True(t, VerifyWebhookSignature("s3cret", body, sig))
	assert.False(t, VerifyWebhookSignature("other", body, sig))
	assert.False(t, VerifyWebhookSignature("s3cret", []byte(`{"id":1002}`), sig))
	assert.False(t, VerifyWebhookSignature("s3cret", body, ""))
	assert.False(t, VerifyWebhookSignature("", body, sig))
}

func TestVerifyWebhookSignatureHex(t *testing.T) {
	body := []byte("payload")
	raw := sign("s3cret", body)

	assert.True(t, VerifyWebhookSignature("s3cret", body, hex.EncodeToString(raw)))
	assert.True(t, VerifyWebhookSignature("s3cret", body, strings.ToUpper(hex.EncodeToString(raw))))
	assert.False(t, VerifyWebhookSignature("s3cret", body, "0d4f6a4c0b2b95b3b1ef0a6b2e1d2c3a"))
}

func TestVerifyQuerySignature(t *testing.T) {
	q := url.Values{}
	q.Set("shop", "demo.myshopify.com")
	q.Set("code", "abc123")
	q.Set("state", "nonce-1")
	q.Set("timestamp", "1700000000")
	q.Set("hmac", SignQuery("s3cret", q))

	assert.True(t, VerifyQuerySignature("s3cret", q))

	q.Set("signature", "ignored")
	assert.True(t, VerifyQuerySignature("s3cret", q))

	q.Set("shop", "evil.myshopify.com")
	assert.False(t, VerifyQuerySignature("s3cret", q))

	q.Del("hmac")
	assert.False(t, VerifyQuerySignature("s3cret", q))
}
