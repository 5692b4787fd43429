package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

const (
	HeaderSignature = "X-Restoreflow-Signature"
	HeaderTimestamp = "X-Restoreflow-Timestamp"

	signatureMaxSkew = 5 * time.Minute
)

// verifySignature checks the payment gateway's HMAC over "timestamp.body".
// The timestamp bound keeps a captured webhook from being replayed later.
func verifySignature(secret, timestamp, signature string, body []byte) error {
	if timestamp == "" || signature == "" {
		return errors.New("missing signature headers")
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errors.New("invalid signature timestamp")
	}
	if skew := time.Since(time.Unix(unix, 0)); skew > signatureMaxSkew || skew < -signatureMaxSkew {
		return errors.New("signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errors.New("signature mismatch")
	}
	return nil
}
