package bootstrap

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"bulwark/internal/platform/config"
)

func TestNormalizeAddr(t *testing.T) {
	cases := map[string]string{"": ":8080", "9090": ":9090", ":7070": ":7070"}
	for input, expected := range cases {
		if got := normalizeAddr(input); got != expected {
			t.Fatalf("normalizeAddr(%q): expected %q, got %q", input, expected, got)
		}
	}
}

func TestPolicyTableKeepsConfiguredOrder(t *testing.T) {
	cfg := config.Config{
		RateLimitPolicies: []config.RatePolicy{
			{Class: "auth", Prefixes: []string{"/auth/"}, Limit: 5, Window: time.Minute},
			{Class: "ai", Prefixes: []string{"/auth/ai/", "/ai/"}, Limit: 20, Window: time.Minute},
		},
		RateLimitDefault: config.RatePolicy{Class: "default", Limit: 100, Window: time.Minute},
	}

	table, err := policyTable(cfg)
	if err != nil {
		t.Fatalf("policy table: %v", err)
	}
	if got := table.Resolve("/auth/ai/token").Class; got != "auth" {
		t.Fatalf("expected first matching class auth, got %s", got)
	}
	if got := table.Resolve("/ai/complete").Class; got != "ai" {
		t.Fatalf("expected ai class, got %s", got)
	}
	if got := table.Resolve("/orders").Class; got != "default" {
		t.Fatalf("expected default class, got %s", got)
	}
}

func TestLogPoliciesReportsTableInResolutionOrder(t *testing.T) {
	cfg := config.Config{
		RateLimitPolicies: []config.RatePolicy{
			{Class: "auth", Prefixes: []string{"/auth/"}, Limit: 5, Window: time.Minute},
			{Class: "ai", Prefixes: []string{"/ai/"}, Limit: 20, Window: time.Minute},
		},
		RateLimitDefault: config.RatePolicy{Class: "default", Limit: 100, Window: time.Minute},
	}
	table, err := policyTable(cfg)
	if err != nil {
		t.Fatalf("policy table: %v", err)
	}

	var buf bytes.Buffer
	logPolicies(slog.New(slog.NewJSONHandler(&buf, nil)), table)

	var classes []string
	decoder := json.NewDecoder(&buf)
	for decoder.More() {
		var entry struct {
			Event string `json:"event"`
			Class string `json:"class"`
			Limit int    `json:"limit"`
		}
		if err := decoder.Decode(&entry); err != nil {
			t.Fatalf("decode log entry: %v", err)
		}
		if entry.Event != "ratelimit_policy_loaded" {
			t.Fatalf("expected ratelimit_policy_loaded, got %s", entry.Event)
		}
		classes = append(classes, entry.Class)
	}
	expected := []string{"auth", "ai", "default"}
	if len(classes) != len(expected) {
		t.Fatalf("expected %d policy entries, got %v", len(expected), classes)
	}
	for i := range expected {
		if classes[i] != expected[i] {
			t.Fatalf("expected classes %v, got %v", expected, classes)
		}
	}
}

func TestBuildAPIRequiresPostgresDSN(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	if _, err := BuildAPI(t.Context()); err == nil {
		t.Fatal("expected missing POSTGRES_DSN to fail startup")
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("debug") != slog.LevelDebug || parseLevel("WARN") != slog.LevelWarn || parseLevel("") != slog.LevelInfo {
		t.Fatal("unexpected level mapping")
	}
}
