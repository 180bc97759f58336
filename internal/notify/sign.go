package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// signPayload HMAC-SHA256-signs the JSON encoding of body with key, for the
// X-Noex-Signature header outbound webhooks carry when a signing key is
// configured.
func signPayload(key string, body interface{}) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal webhook body for signing: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil)), nil
}
