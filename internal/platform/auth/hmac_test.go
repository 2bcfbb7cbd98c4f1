package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type quietLogger struct{}

func (quietLogger) Printf(string, ...any) {}

type mapSecretProvider map[string]string

func (m mapSecretProvider) GetSecret(_ context.Context, name string) (string, error) {
	if secret, ok := m[name]; ok {
		return secret, nil
	}
	return "", fmt.Errorf("secret %s not found", name)
}

func staticResolver(name string) func(*http.Request) (string, bool) {
	return func(*http.Request) (string, bool) { return name, true }
}

func signedWidgetRequest(t *testing.T, v *WebhookVerifier, secret string, body []byte, timestamp, nonce string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/pickup-points", bytes.NewReader(body))
	signature := sign([]byte(secret), canonicalRequest(req, body, timestamp, nonce))
	req.Header.Set(v.signatureHeader, base64.StdEncoding.EncodeToString(signature))
	req.Header.Set(v.timestampHeader, timestamp)
	req.Header.Set(v.nonceHeader, nonce)
	return req
}

func TestWebhookVerifierAcceptsSignedCallback(t *testing.T) {
	const secretName = "webhooks/parcelnet"
	const secretValue = "widget-secret"

	now := time.Now().UTC().Truncate(time.Second)
	verifier := NewWebhookVerifier(mapSecretProvider{secretName: secretValue}, NewInMemoryNonceStore(),
		WithVerifierLogger(quietLogger{}),
		WithVerifierClock(func() time.Time { return now }),
	)

	body := []byte(`{"packetPointId":"pp-1"}`)
	req := signedWidgetRequest(t, verifier, secretValue, body, now.Format(time.RFC3339), "nonce-1")

	rr := httptest.NewRecorder()
	verifier.Require(staticResolver(secretName))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := SignedCallbackFromContext(r.Context())
		if !ok || info.SecretName != secretName {
			t.Fatalf("expected verified sender in context, got %+v", info)
		}
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebhookVerifierRejectsReplay(t *testing.T) {
	const secretName = "webhooks/rex"
	const secretValue = "rex-secret"

	now := time.Now().UTC().Truncate(time.Second)
	verifier := NewWebhookVerifier(mapSecretProvider{secretName: secretValue}, NewInMemoryNonceStore(),
		WithVerifierLogger(quietLogger{}),
		WithVerifierClock(func() time.Time { return now }),
	)

	body := []byte(`{"rexPoint":{"code":"RX-3"}}`)
	timestamp := now.Format(time.RFC3339)
	handler := verifier.Require(staticResolver(secretName))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, signedWidgetRequest(t, verifier, secretValue, body, timestamp, "nonce-replay"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected first callback accepted, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, signedWidgetRequest(t, verifier, secretValue, body, timestamp, "nonce-replay"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected replay rejected with 401, got %d", rr.Code)
	}
}

func TestWebhookVerifierRejectsTamperedBody(t *testing.T) {
	const secretName = "webhooks/globo"
	const secretValue = "globo-secret"

	now := time.Now().UTC().Truncate(time.Second)
	verifier := NewWebhookVerifier(mapSecretProvider{secretName: secretValue}, NewInMemoryNonceStore(),
		WithVerifierLogger(quietLogger{}),
		WithVerifierClock(func() time.Time { return now }),
	)

	// Sign one body, send another.
	req := signedWidgetRequest(t, verifier, secretValue, []byte(`{"point":"a"}`), now.Format(time.RFC3339), "nonce-t")
	req.Body = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/pickup-points", bytes.NewReader([]byte(`{"point":"b"}`))).Body

	rr := httptest.NewRecorder()
	verifier.Require(staticResolver(secretName))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run on signature mismatch")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on signature mismatch, got %d", rr.Code)
	}
}

func TestWebhookVerifierRejectsStaleTimestamp(t *testing.T) {
	const secretName = "webhooks/parcelnet"
	const secretValue = "widget-secret"

	now := time.Now().UTC().Truncate(time.Second)
	verifier := NewWebhookVerifier(mapSecretProvider{secretName: secretValue}, NewInMemoryNonceStore(),
		WithVerifierLogger(quietLogger{}),
		WithVerifierClock(func() time.Time { return now }),
	)

	stale := now.Add(-10 * time.Minute).Format(time.RFC3339)
	req := signedWidgetRequest(t, verifier, secretValue, []byte(`{}`), stale, "nonce-old")

	rr := httptest.NewRecorder()
	verifier.Require(staticResolver(secretName))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run when timestamp is outside the window")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on timestamp skew, got %d", rr.Code)
	}
}

func TestWebhookVerifierSecretUnavailable(t *testing.T) {
	verifier := NewWebhookVerifier(mapSecretProvider{}, NewInMemoryNonceStore(),
		WithVerifierLogger(quietLogger{}),
	)

	rr := httptest.NewRecorder()
	verifier.Require(staticResolver("webhooks/missing"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run when the secret cannot be resolved")
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/pickup-points", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when secret unavailable, got %d", rr.Code)
	}
}

func TestWebhookVerifierUnknownSender(t *testing.T) {
	verifier := NewWebhookVerifier(mapSecretProvider{}, NewInMemoryNonceStore(),
		WithVerifierLogger(quietLogger{}),
	)

	rr := httptest.NewRecorder()
	verifier.Require(func(*http.Request) (string, bool) { return "", false })(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run for an unrecognised sender")
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/pickup-points", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown sender, got %d", rr.Code)
	}
}
