package signing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
)

// Hop authentication headers.
const (
	HeaderTimestamp  = "Request-Timestamp"
	HeaderNonce      = "Request-Nonce"
	HeaderSignature  = "Request-Signature"
	HeaderBodyDigest = "Body-Digest"
)

// NonceBytes is the amount of entropy in a generated nonce.
const NonceBytes = 32

// Envelope is the signed metadata of a single hop request.
type Envelope struct {
	// Timestamp is the sender clock in milliseconds since the epoch.
	Timestamp int64

	Nonce      string
	Method     string
	Path       string
	BodyDigest string
	Signature  string
}

// Digest returns the hex SHA-256 of body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Sign computes the hop signature for the given request parts.
func Sign(secret []byte, ts int64, nonce, method, path string, body []byte) string {
	return mac(secret, canonical(ts, nonce, method, path, Digest(body)))
}

func canonical(ts int64, nonce, method, path, digest string) string {
	return strings.Join([]string{strconv.FormatInt(ts, 10), nonce, method, path, digest}, ".")
}

func mac(secret []byte, message string) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// NewNonce returns a fresh random nonce, hex encoded.
func NewNonce() (string, error) {
	b := make([]byte, NonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Reason is the outcome of a verification.
type Reason string

const (
	ReasonOK                Reason = "ok"
	ReasonMissingHeaders    Reason = "missing-headers"
	ReasonStaleTimestamp    Reason = "stale-timestamp"
	ReasonDigestMismatch    Reason = "digest-mismatch"
	ReasonSignatureMismatch Reason = "signature-mismatch"
)

// VerifyError reports why a hop request was rejected.
type VerifyError struct {
	Reason Reason
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("hop verification failed: %s", e.Reason)
}

// Verify checks env against body and the current time. It returns the
// verification reason; only ReasonOK means the request is authentic.
func Verify(secret []byte, env Envelope, body []byte, now time.Time, skew time.Duration) Reason {
	if env.Timestamp <= 0 || env.Nonce == "" || env.BodyDigest == "" || env.Signature == "" ||
		env.Method == "" || env.Path == "" {
		return ReasonMissingHeaders
	}

	drift := now.Sub(time.UnixMilli(env.Timestamp))
	if drift < 0 {
		drift = -drift
	}
	if drift > skew {
		return ReasonStaleTimestamp
	}

	// Both comparisons always run so a digest match never shortcuts the
	// signature check or vice versa.
	digest := Digest(body)
	digestOK := subtle.ConstantTimeCompare([]byte(digest), []byte(strings.ToLower(env.BodyDigest))) == 1

	expected := mac(secret, canonical(env.Timestamp, env.Nonce, env.Method, env.Path, digest))
	sigOK := subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(env.Signature))) == 1

	switch {
	case !digestOK:
		return ReasonDigestMismatch
	case !sigOK:
		return ReasonSignatureMismatch
	default:
		return ReasonOK
	}
}

// Attach writes the envelope to the hop headers.
func Attach(h http.Header, env Envelope) {
	h.Set(HeaderTimestamp, strconv.FormatInt(env.Timestamp, 10))
	h.Set(HeaderNonce, env.Nonce)
	h.Set(HeaderBodyDigest, env.BodyDigest)
	h.Set(HeaderSignature, env.Signature)
}

// FromHeaders rebuilds an envelope from hop headers. A malformed timestamp
// is left as zero and therefore reported as missing.
func FromHeaders(h http.Header, method, path string) Envelope {
	ts, err := strconv.ParseInt(strings.TrimSpace(h.Get(HeaderTimestamp)), 10, 64)
	if err != nil {
		ts = 0
	}
	return Envelope{
		Timestamp:  ts,
		Nonce:      strings.TrimSpace(h.Get(HeaderNonce)),
		Method:     method,
		Path:       path,
		BodyDigest: strings.TrimSpace(h.Get(HeaderBodyDigest)),
		Signature:  strings.TrimSpace(h.Get(HeaderSignature)),
	}
}

// FromRequest rebuilds the envelope of an inbound hop request.
func FromRequest(r *http.Request) Envelope {
	return FromHeaders(r.Header, r.Method, r.URL.Path)
}

// Signer produces envelopes for outbound hop requests.
type Signer struct {
	secret []byte
	clock  clock.Clock
	nonce  func() (string, error)
}

// NewSigner creates a signer. A nil clock uses the wall clock.
func NewSigner(secret []byte, clk clock.Clock) *Signer {
	if clk == nil {
		clk = clock.New()
	}
	return &Signer{secret: secret, clock: clk, nonce: NewNonce}
}

// Envelope signs the request parts with a fresh nonce and the current time.
func (s *Signer) Envelope(method, path string, body []byte) (Envelope, error) {
	nonce, err := s.nonce()
	if err != nil {
		return Envelope{}, err
	}
	ts := s.clock.Now().UnixMilli()
	digest := Digest(body)
	return Envelope{
		Timestamp:  ts,
		Nonce:      nonce,
		Method:     method,
		Path:       path,
		BodyDigest: digest,
		Signature:  mac(s.secret, canonical(ts, nonce, method, path, digest)),
	}, nil
}

// SignRequest signs req for the given body and attaches the hop headers.
// body must be the exact bytes that will be sent.
func (s *Signer) SignRequest(req *http.Request, body []byte) (Envelope, error) {
	env, err := s.Envelope(req.Method, req.URL.Path, body)
	if err != nil {
		return Envelope{}, err
	}
	Attach(req.Header, env)
	return env, nil
}

// Verifier checks inbound hop envelopes against a shared secret.
type Verifier struct {
	secret []byte
	skew   time.Duration
	clock  clock.Clock
}

// NewVerifier creates a verifier accepting timestamps within skew of now.
func NewVerifier(secret []byte, skew time.Duration, clk clock.Clock) *Verifier {
	if clk == nil {
		clk = clock.New()
	}
	return &Verifier{secret: secret, skew: skew, clock: clk}
}

// Verify returns nil when env is authentic for body, or a *VerifyError.
func (v *Verifier) Verify(env Envelope, body []byte) error {
	if reason := Verify(v.secret, env, body, v.clock.Now(), v.skew); reason != ReasonOK {
		return &VerifyError{Reason: reason}
	}
	return nil
}
