package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIPTrustXForwardedForUsesFirstIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")

	if got := ClientIP(r, true); got != "1.2.3.4" {
		t.Fatalf("expected first XFF ip, got %q", got)
	}
	if got := ClientIP(r, false); got != "10.0.0.9" {
		t.Fatalf("expected XFF to be ignored when untrusted, got %q", got)
	}
}

func TestClientIPFallsBackToRawRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "pipe"
	if got := ClientIP(r, false); got != "pipe" {
		t.Fatalf("expected raw remote addr, got %q", got)
	}
	r.RemoteAddr = ""
	if got := ClientIP(r, false); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
}

func TestFingerprintHidesCredentialAndSeparatesCallers(t *testing.T) {
	first := httptest.NewRequest(http.MethodPost, "http://example/", nil)
	first.Header.Set("Authorization", "Bearer token-a")
	second := httptest.NewRequest(http.MethodPost, "http://example/", nil)
	second.Header.Set("Authorization", "Bearer token-b")
	anonymous := httptest.NewRequest(http.MethodPost, "http://example/", nil)

	a, b := Fingerprint(first), Fingerprint(second)
	if a == b {
		t.Fatal("expected different callers to get different fingerprints")
	}
	if len(a) != 32 || a == "Bearer token-a" {
		t.Fatalf("expected hashed fingerprint, got %q", a)
	}
	if Fingerprint(anonymous) != AnonymousFingerprint {
		t.Fatalf("expected anonymous fingerprint, got %q", Fingerprint(anonymous))
	}
}
