package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOKXHeadersAtDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "key-1", Secret: "top-secret", Passphrase: "phrase"}
	at := time.Date(2020, 12, 8, 9, 8, 57, 715_000_000, time.UTC)

	headers := auth.OKXHeadersAt("POST", "/api/v5/trade/order", `{"instId":"BTC-USDT"}`, at)

	assert.Equal(t, "key-1", headers["OK-ACCESS-KEY"])
	assert.Equal(t, "phrase", headers["OK-ACCESS-PASSPHRASE"])
	assert.Equal(t, "2020-12-08T09:08:57.715Z", headers["OK-ACCESS-TIMESTAMP"])

	// Recompute the expected signature by hand.
	mac := hmac.New(sha256.New, []byte("top-secret"))
	mac.Write([]byte("2020-12-08T09:08:57.715Z" + "POST" + "/api/v5/trade/order" + `{"instId":"BTC-USDT"}`))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, headers["OK-ACCESS-SIGN"])

	// Same inputs, same signature.
	again := auth.OKXHeadersAt("POST", "/api/v5/trade/order", `{"instId":"BTC-USDT"}`, at)
	assert.Equal(t, headers["OK-ACCESS-SIGN"], again["OK-ACCESS-SIGN"])
}

func TestHMACAuthStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "key-123456", Secret: "secret-123456"}
	s := auth.String()
	assert.NotContains(t, s, "123456")
	assert.Contains(t, s, "key-")
}

func TestCredentialsRoundTrip(t *testing.T) {
	creds := Credentials{APIKey: "ak", APISecret: "as", Passphrase: "pp"}

	blob, err := EncryptCredentials(creds, "hunter2")
	require.NoError(t, err)

	got, err := DecryptCredentials(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, creds, got)

	_, err = DecryptCredentials(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptCredentialsValidation(t *testing.T) {
	_, err := EncryptCredentials(Credentials{APIKey: "k", APISecret: "s"}, "")
	assert.Error(t, err)

	_, err = EncryptCredentials(Credentials{}, "pw")
	assert.Error(t, err)
}

func TestLoadCredentialsInlineWins(t *testing.T) {
	got, err := LoadCredentials(CredentialSource{APIKey: "k", APISecret: "s", Passphrase: "p"})
	require.NoError(t, err)
	assert.Equal(t, Credentials{APIKey: "k", APISecret: "s", Passphrase: "p"}, got)

	_, err = LoadCredentials(CredentialSource{})
	assert.Error(t, err)
}
