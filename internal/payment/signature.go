package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrBadSignature = errors.New("webhook signature verification failed")

// Verifier checks provider webhook signatures. The header carries a unix
// timestamp and an HMAC-SHA256 of "<timestamp>.<body>" under the shared
// webhook secret: "t=<unix>,v1=<hex>". Deliveries older than the tolerance
// are rejected to bound replay.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), tolerance: tolerance}
}

func (v *Verifier) Verify(header string, body []byte) error {
	return v.verifyAt(header, body, time.Now())
}

func (v *Verifier) verifyAt(header string, body []byte, now time.Time) error {
	var timestamp int64 = -1
	var signatures [][]byte

	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}

	if timestamp < 0 || len(signatures) == 0 {
		return fmt.Errorf("%w: malformed header", ErrBadSignature)
	}

	age := now.Sub(time.Unix(timestamp, 0))
	if age > v.tolerance || age < -v.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrBadSignature)
	}

	expected := computeSignature(v.secret, timestamp, body)
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", ErrBadSignature)
}

func computeSignature(secret []byte, timestamp int64, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return mac.Sum(nil)
}

// SignatureHeader produces a header the Verifier accepts. Test and tooling
// helper; the real provider signs its own deliveries.
func SignatureHeader(secret string, timestamp time.Time, body []byte) string {
	sig := computeSignature([]byte(secret), timestamp.Unix(), body)
	return fmt.Sprintf("t=%d,v1=%s", timestamp.Unix(), hex.EncodeToString(sig))
}
