package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature  = "X-Signature"
	HeaderEvent      = "X-Event"
	HeaderTimestamp  = "X-Timestamp"
	HeaderDeliveryID = "X-Webhook-Delivery"

	signaturePrefix = "sha256="
)

// Sign returns hex(HMAC-SHA256(secret, "{timestamp}.{body}")).
func Sign(secret string, timestamp time.Time, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader formats the X-Signature header value.
func SignatureHeader(secret string, timestamp time.Time, body []byte) string {
	return signaturePrefix + Sign(secret, timestamp, body)
}

// Verify checks a received X-Signature header against the raw body and the
// X-Timestamp header.
func Verify(secret, header, timestampHeader string, body []byte) bool {
	unix, err := strconv.ParseInt(strings.TrimSpace(timestampHeader), 10, 64)
	if err != nil {
		return false
	}
	expected := SignatureHeader(secret, time.Unix(unix, 0), body)
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(header)))
}
