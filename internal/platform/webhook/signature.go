package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is how old a signature may be before Verify rejects it.
const DefaultTolerance = 5 * time.Minute

var (
	ErrNoSignature       = errors.New("webhook: signature header missing or malformed")
	ErrSignatureMismatch = errors.New("webhook: signature mismatch")
	ErrSignatureExpired  = errors.New("webhook: signature timestamp outside tolerance")
)

// Sign returns the signature header value for payload sent at ts:
// "t=<unix seconds>,v1=<hex HMAC-SHA256 of "<unix seconds>.<payload>">".
// Binding the timestamp into the MAC lets receivers reject replays.
func Sign(secret string, ts time.Time, payload []byte) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + unix + ",v1=" + mac(secret, unix, payload)
}

func mac(secret, unix string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(unix))
	h.Write([]byte{'.'})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a header produced by Sign. Several v1 entries are accepted
// so a sender can sign with old and new secrets during rotation.
func Verify(secret, header string, payload []byte, tolerance time.Duration, now time.Time) error {
	var unix string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			unix = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	sec, err := strconv.ParseInt(unix, 10, 64)
	if err != nil || len(sigs) == 0 {
		return ErrNoSignature
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(sec, 0))
		if age > tolerance || age < -tolerance {
			return ErrSignatureExpired
		}
	}

	want := []byte(mac(secret, unix, payload))
	for _, s := range sigs {
		if hmac.Equal(want, []byte(s)) {
			return nil
		}
	}
	return ErrSignatureMismatch
}
