package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Pickup-point widget backends call the checkout API server to server. Each
// callback carries an HMAC-SHA256 signature over method, path, timestamp,
// nonce, and body hash; the verifying middleware rebuilds that canonical
// string, compares signatures, and burns the nonce so a captured request
// cannot be replayed.

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"

	defaultClockSkew = 5 * time.Minute
	defaultNonceTTL  = 5 * time.Minute
)

// Logger is the minimal logging surface the verifier needs.
type Logger interface {
	Printf(format string, args ...any)
}

// SecretProvider resolves the shared signing secret for a webhook sender.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// NonceStore remembers signature nonces until they expire.
type NonceStore interface {
	// UseNonce records the nonce under the scope if it has not been seen
	// before. False means the nonce was already used.
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// InMemoryNonceStore keeps nonces in process memory. A single-instance
// deployment needs nothing more; expired entries are swept on use.
type InMemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
}

// NewInMemoryNonceStore constructs an empty store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{nonces: make(map[string]time.Time)}
}

// UseNonce records the nonce until expiry, rejecting repeats until then.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	key := scope + "::" + nonce

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, exp := range s.nonces {
		if exp.Before(now) {
			delete(s.nonces, k)
		}
	}
	if expiry.Before(now) {
		return false, errors.New("auth: nonce expiry is in the past")
	}
	if existing, ok := s.nonces[key]; ok && existing.After(now) {
		return false, nil
	}
	s.nonces[key] = expiry
	return true, nil
}

// WebhookVerifier checks callback signatures before a webhook handler runs.
type WebhookVerifier struct {
	provider SecretProvider
	nonces   NonceStore
	logger   Logger
	now      func() time.Time

	signatureHeader string
	timestampHeader string
	nonceHeader     string

	clockSkew time.Duration
	nonceTTL  time.Duration
}

// VerifierOption customises a WebhookVerifier.
type VerifierOption func(*WebhookVerifier)

// NewWebhookVerifier builds a verifier over the given secret provider and
// nonce store.
func NewWebhookVerifier(provider SecretProvider, nonces NonceStore, opts ...VerifierOption) *WebhookVerifier {
	v := &WebhookVerifier{
		provider:        provider,
		nonces:          nonces,
		logger:          log.Default(),
		now:             time.Now,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		nonceHeader:     defaultNonceHeader,
		clockSkew:       defaultClockSkew,
		nonceTTL:        defaultNonceTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// WithVerifierLogger overrides the verifier logger.
func WithVerifierLogger(logger Logger) VerifierOption {
	return func(v *WebhookVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithVerifierClock injects a clock, primarily for tests.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *WebhookVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithSignatureHeaders overrides the signature, timestamp, and nonce header
// names. Empty values keep the defaults.
func WithSignatureHeaders(signature, timestamp, nonce string) VerifierOption {
	return func(v *WebhookVerifier) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if timestamp != "" {
			v.timestampHeader = timestamp
		}
		if nonce != "" {
			v.nonceHeader = nonce
		}
	}
}

// WithClockSkew adjusts the accepted timestamp window.
func WithClockSkew(d time.Duration) VerifierOption {
	return func(v *WebhookVerifier) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithNonceTTL adjusts how long nonces are remembered.
func WithNonceTTL(d time.Duration) VerifierOption {
	return func(v *WebhookVerifier) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// SignedCallback identifies the verified sender for the webhook handler.
type SignedCallback struct {
	SecretName string
	Timestamp  time.Time
	Nonce      string
}

type signedCallbackKey struct{}

// WithSignedCallback stores the verified sender on the context.
func WithSignedCallback(ctx context.Context, info *SignedCallback) context.Context {
	if info == nil {
		return ctx
	}
	return context.WithValue(ctx, signedCallbackKey{}, info)
}

// SignedCallbackFromContext retrieves the verified sender, if any.
func SignedCallbackFromContext(ctx context.Context) (*SignedCallback, bool) {
	info, ok := ctx.Value(signedCallbackKey{}).(*SignedCallback)
	if !ok || info == nil {
		return nil, false
	}
	return info, true
}

// Require wraps a webhook handler with signature verification. The resolver
// maps the request to the sender's secret name; unrecognised senders are
// rejected before any verification work.
func (v *WebhookVerifier) Require(resolver func(*http.Request) (string, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil {
				writeSignatureError(w, http.StatusServiceUnavailable, "verification_unavailable", "signature verification not configured")
				return
			}
			secretName, ok := resolver(r)
			if !ok || strings.TrimSpace(secretName) == "" {
				writeSignatureError(w, http.StatusUnauthorized, "unknown_sender", "webhook sender not recognised")
				return
			}

			info, fail := v.verify(r, strings.TrimSpace(secretName))
			if fail != nil {
				if fail.cause != nil && v.logger != nil {
					v.logger.Printf("auth: webhook signature check failed: %v", fail.cause)
				}
				writeSignatureError(w, fail.status, fail.code, fail.message)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSignedCallback(r.Context(), info)))
		})
	}
}

type signatureFailure struct {
	status  int
	code    string
	message string
	cause   error
}

func rejectSignature(status int, code, message string) *signatureFailure {
	return &signatureFailure{status: status, code: code, message: message}
}

func (v *WebhookVerifier) verify(r *http.Request, secretName string) (*SignedCallback, *signatureFailure) {
	ctx := r.Context()

	if v.provider == nil {
		return nil, rejectSignature(http.StatusServiceUnavailable, "verification_unavailable", "signing secret not configured")
	}
	secret, err := v.provider.GetSecret(ctx, secretName)
	if err != nil || secret == "" {
		fail := rejectSignature(http.StatusServiceUnavailable, "verification_unavailable", "signing secret unavailable")
		fail.cause = err
		return nil, fail
	}

	signatureValue := strings.TrimSpace(r.Header.Get(v.signatureHeader))
	if signatureValue == "" {
		return nil, rejectSignature(http.StatusUnauthorized, "signature_missing", "signature header missing")
	}

	timestampValue := strings.TrimSpace(r.Header.Get(v.timestampHeader))
	if timestampValue == "" {
		return nil, rejectSignature(http.StatusUnauthorized, "timestamp_missing", "signature timestamp missing")
	}
	timestamp, err := parseSignatureTimestamp(timestampValue)
	if err != nil {
		return nil, rejectSignature(http.StatusUnauthorized, "timestamp_invalid", "signature timestamp invalid")
	}
	if skew := v.now().Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
		return nil, rejectSignature(http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window")
	}

	nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
	if nonce == "" {
		return nil, rejectSignature(http.StatusUnauthorized, "nonce_missing", "signature nonce missing")
	}

	body, err := readAndRestoreBody(r)
	if err != nil {
		return nil, rejectSignature(http.StatusBadRequest, "invalid_body", "unable to read body for signature verification")
	}

	signature, err := decodeSignature(signatureValue)
	if err != nil {
		return nil, rejectSignature(http.StatusUnauthorized, "signature_invalid", "signature encoding invalid")
	}
	expected := sign([]byte(secret), canonicalRequest(r, body, timestampValue, nonce))
	if !hmac.Equal(signature, expected) {
		return nil, rejectSignature(http.StatusUnauthorized, "signature_mismatch", "signature verification failed")
	}

	if v.nonces == nil {
		return nil, rejectSignature(http.StatusServiceUnavailable, "verification_unavailable", "nonce store unavailable")
	}
	ttl := timestamp.Add(v.nonceTTL)
	if ttl.Before(v.now()) {
		ttl = v.now().Add(v.nonceTTL)
	}
	stored, err := v.nonces.UseNonce(ctx, secretName, nonce, ttl)
	if err != nil {
		fail := rejectSignature(http.StatusServiceUnavailable, "verification_unavailable", "nonce storage error")
		fail.cause = err
		return nil, fail
	}
	if !stored {
		return nil, rejectSignature(http.StatusUnauthorized, "nonce_replay", "duplicate signature nonce")
	}

	return &SignedCallback{SecretName: secretName, Timestamp: timestamp, Nonce: nonce}, nil
}

func writeSignatureError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func decodeSignature(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("auth: empty signature")
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("auth: timestamp empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}

// canonicalRequest joins method, escaped path, timestamp, nonce, and the hex
// body hash with newlines. Both sides must agree on this exact layout.
func canonicalRequest(r *http.Request, body []byte, timestamp, nonce string) []byte {
	method := strings.ToUpper(r.Method)
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	hash := sha256.Sum256(body)
	return []byte(strings.Join([]string{
		method,
		path,
		timestamp,
		nonce,
		hex.EncodeToString(hash[:]),
	}, "\n"))
}

func sign(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}
