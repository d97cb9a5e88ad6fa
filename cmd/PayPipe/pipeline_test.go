package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/PayPipe/internal/api"
	"github.com/BTreeMap/PayPipe/internal/messaging"
	"github.com/BTreeMap/PayPipe/internal/testutil"
)

func postWebhook(t *testing.T, h http.Handler, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestWebhookPipeline(t *testing.T) {
	fin := &testutil.FakeFinance{}
	core, err := buildApp(Config{DatabaseURL: "memory", DedupWindow: time.Hour}, nil, fin)
	if err != nil {
		t.Fatalf("buildApp failed: %v", err)
	}
	defer core.Close()

	rec := &testutil.RecordingService{}
	handler := messaging.NewResponseHandler(core.router, rec, core.backend)
	srv := api.NewServer(handler, core.router).Handler()

	body := testutil.CloudTextWebhook("wamid.1", "15550001111", "rates PHP")
	rr := postWebhook(t, srv, body)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "first delivery")
	last := rec.Last(t)
	if last.To != "+15550001111" || !strings.Contains(last.Body, "58.1200") {
		t.Errorf("unexpected reply: %+v", last)
	}

	rr = postWebhook(t, srv, body)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "redelivery")
	if len(rec.Sent) != 1 {
		t.Errorf("duplicate delivery produced %d replies", len(rec.Sent))
	}
	if n := fin.CallCount("GetExchangeRate"); n != 1 {
		t.Errorf("expected one rate lookup, got %d", n)
	}

	// A failed send is not marked processed, so the redelivery is answered.
	rec.Err = errors.New("graph api down")
	body = testutil.CloudTextWebhook("wamid.2", "15550001111", "help")
	rr = postWebhook(t, srv, body)
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "send failure")
	rec.Err = nil
	rr = postWebhook(t, srv, body)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "retry")
	if len(rec.Sent) != 2 {
		t.Errorf("expected retried reply to be sent, got %d replies", len(rec.Sent))
	}
}

func TestBuildAppSQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{StateDir: dir}
	cfg.applyDerivedDefaults()
	core, err := buildApp(cfg, &testutil.StubClassifier{Label: "general"}, &testutil.FakeFinance{})
	if err != nil {
		t.Fatalf("buildApp failed: %v", err)
	}
	defer core.Close()

	rec := &testutil.RecordingService{}
	srv := api.NewServer(messaging.NewResponseHandler(core.router, rec, core.backend), core.router).Handler()
	rr := postWebhook(t, srv, testutil.CloudTextWebhook("wamid.9", "15550003333", "hello"))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "sqlite-backed delivery")
	if rec.Last(t).Body == "" {
		t.Error("expected a fallback reply")
	}
	if cfg.DatabaseURL != filepath.Join(dir, DefaultDBFileName) {
		t.Errorf("unexpected database path %q", cfg.DatabaseURL)
	}
}
