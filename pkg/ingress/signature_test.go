package ingress

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`[["trackPageView"]]`)
	secret := "0123456789abcdef"

	sha1Mac := hmac.New(sha1.New, []byte(secret))
	sha1Mac.Write(body)
	sha1Header := "sha1=" + hex.EncodeToString(sha1Mac.Sum(nil))

	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{name: "sha256", header: Sign(body, secret), want: true},
		{name: "sha1", header: sha1Header, want: true},
		{name: "wrong secret", header: Sign(body, "another-secret-value"), want: false},
		{name: "unknown algorithm", header: "md5=abc", want: false},
		{name: "no prefix", header: hex.EncodeToString([]byte("abc")), want: false},
		{name: "empty", header: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, verifySignature(body, tt.header, secret))
		})
	}
}

func TestSignatureCoversBody(t *testing.T) {
	secret := "0123456789abcdef"
	header := Sign([]byte(`[["trackPageView"]]`), secret)

	assert.True(t, verifySignature([]byte(`[["trackPageView"]]`), header, secret))
	assert.False(t, verifySignature([]byte(`[["trackPageView","x"]]`), header, secret))
}
