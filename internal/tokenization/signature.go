package tokenization

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

func sign(secret string, message []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return mac.Sum(nil)
}

// VerifyWebhookSignature checks an HMAC-SHA256 of the raw body. Platforms send the
// digest either base64 or hex encoded; both are accepted. Comparison is constant time.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return false
	}
	expected := sign(secret, body)

	if decoded, err := base64.StdEncoding.DecodeString(signature); err == nil && hmac.Equal(decoded, expected) {
		return true
	}
	if decoded, err := hex.DecodeString(signature); err == nil && hmac.Equal(decoded, expected) {
		return true
	}
	return false
}

// SignWebhook produces the base64 signature VerifyWebhookSignature accepts.
func SignWebhook(secret string, body []byte) string {
	return base64.StdEncoding.EncodeToString(sign(secret, body))
}

// canonicalQuery joins every parameter except hmac and signature as k=v pairs, sorted
// by key and separated by '&'.
func canonicalQuery(query url.Values) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		if k == "hmac" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+strings.Join(query[k], ","))
	}
	return strings.Join(pairs, "&")
}

// VerifyQuerySignature checks the hex HMAC a platform adds to its OAuth redirect.
func VerifyQuerySignature(secret string, query url.Values) bool {
	provided, err := hex.DecodeString(query.Get("hmac"))
	if secret == "" || err != nil || len(provided) == 0 {
		return false
	}
	return hmac.Equal(provided, sign(secret, []byte(canonicalQuery(query))))
}

// SignQuery returns the hex HMAC VerifyQuerySignature expects for query.
func SignQuery(secret string, query url.Values) string {
	return hex.EncodeToString(sign(secret, []byte(canonicalQuery(query))))
}
