package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestParseFailConfig(t *testing.T) {
	cfg, err := parseFailConfig("rate=0.25, code=503")
	if err != nil {
		t.Fatalf("parseFailConfig: %v", err)
	}
	if cfg.rate != 0.25 || cfg.code != 503 {
		t.Fatalf("unexpected config: %#v", cfg)
	}
	if cfg, err := parseFailConfig(""); err != nil || cfg.rate != 0 {
		t.Fatalf("expected empty config, got %#v err=%v", cfg, err)
	}
	for _, raw := range []string{"rate", "rate=2", "code=abc", "speed=1"} {
		if _, err := parseFailConfig(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestMiddlewareInjectsFailures(t *testing.T) {
	log := logrus.New()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	h := withMiddleware(log, 0, failConfig{rate: 1, code: http.StatusServiceUnavailable}, 0, next)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhdfs/v1/?op=GETFILESTATUS", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected injected 503, got %d", rec.Code)
	}

	h = withMiddleware(log, 0, failConfig{}, 0, next)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhdfs/v1/?op=GETFILESTATUS", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through status, got %d", rec.Code)
	}
}
