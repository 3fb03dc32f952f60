package crawler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	payload := []byte(`{"job_id":"j1","status":"completed"}`)
	sig := Sign("topsecret", payload)

	assert.Len(t, sig, 64)
	assert.Equal(t, strings.ToLower(sig), sig)
	assert.True(t, Verify("topsecret", payload, sig))
}

func TestVerify_CaseInsensitive(t *testing.T) {
	payload := []byte("hello")
	sig := Sign("s", payload)

	assert.True(t, Verify("s", payload, strings.ToUpper(sig)))
}

func TestVerify_WrongSecretOrPayload(t *testing.T) {
	payload := []byte("hello")
	sig := Sign("s", payload)

	assert.False(t, Verify("other", payload, sig))
	assert.False(t, Verify("s", []byte("tampered"), sig))
	assert.False(t, Verify("s", payload, "deadbeef"))
}

func TestVerify_MissingInputs(t *testing.T) {
	sig := Sign("s", []byte("x"))

	assert.False(t, Verify("", []byte("x"), sig))
	assert.False(t, Verify("s", nil, sig))
	assert.False(t, Verify("s", []byte("x"), ""))
}

func TestSign_EmptyInputs(t *testing.T) {
	assert.Empty(t, Sign("", []byte("x")))
	assert.Empty(t, Sign("s", nil))
}
