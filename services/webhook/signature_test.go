package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignAndVerify(t *testing.T) {
	secret := "merchant-secret"
	body := []byte(`{"event":"payment.completed","payment_id":"abc"}`)

	sig := Sign(secret, body)
	assert.Len(t, sig, 64) // hex-encoded SHA-256

	assert.True(t, VerifySignature(secret, body, sig))
	assert.False(t, VerifySignature("other-secret", body, sig))
	assert.False(t, VerifySignature(secret, []byte(`{"tampered":true}`), sig))
	assert.False(t, VerifySignature(secret, body, "deadbeef"))
}

func TestSignIsDeterministic(t *testing.T) {
	body := []byte("payload")
	assert.Equal(t, Sign("s", body), Sign("s", body))
	assert.NotEqual(t, Sign("s", body), Sign("t", body))
}
