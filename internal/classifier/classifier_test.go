package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/procwarden-project/procwarden/internal/core"
)

func TestStaticClassifier(t *testing.T) {
	c := &StaticClassifier{Label: "Benign", Confidence: 0.2}

	res, err := c.Classify(context.Background(), []string{"CreateProcess"})
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	if res.Label != "Benign" || res.Confidence != 0.2 {
		t.Errorf("Classify() = %+v", res)
	}

	res, err = c.Classify(context.Background(), nil)
	if err != nil {
		t.Fatalf("Classify() on empty input error: %v", err)
	}
	if res != NoSignal {
		t.Errorf("empty input = %+v, want NoSignal", res)
	}
}

func TestHTTPClassifier(t *testing.T) {
	var gotSequence atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Sequence string `json:"sequence"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		gotSequence.Store(req.Sequence)
		json.NewEncoder(w).Encode(Result{Label: "Trojan", Confidence: 0.87})
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, 0)
	res, err := c.Classify(context.Background(), []string{"CreateProcess", "connect:1.2.3.4:443", "CreateRemoteThread"})
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	if res.Label != "Trojan" || res.Confidence != 0.87 {
		t.Errorf("Classify() = %+v", res)
	}
	if got := gotSequence.Load(); got != "CreateProcess connect:1.2.3.4:443 CreateRemoteThread" {
		t.Errorf("posted sequence = %q", got)
	}
}

func TestHTTPClassifier_EmptyInputSkipsCall(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, 0)
	res, err := c.Classify(context.Background(), nil)
	if err != nil || res != NoSignal {
		t.Errorf("Classify(nil) = (%+v, %v), want (NoSignal, nil)", res, err)
	}
	if calls.Load() != 0 {
		t.Error("empty input should not hit the service")
	}
}

func TestHTTPClassifier_DegradesOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, 0)
	res, err := c.Classify(context.Background(), []string{"CreateProcess"})
	if err == nil {
		t.Fatal("Classify() should surface a server error")
	}
	if res != NoSignal {
		t.Errorf("failed call result = %+v, want NoSignal", res)
	}
}

func TestHTTPClassifier_ClampsConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Result{Label: "Trojan", Confidence: 1.7})
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, 0)
	res, err := c.Classify(context.Background(), []string{"x"})
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	if res.Confidence != 1 {
		t.Errorf("Confidence = %v, want clamp to 1", res.Confidence)
	}
}

func TestFromConfig(t *testing.T) {
	c, err := FromConfig(&core.ClassifierConfig{Mode: "static", StaticLabel: "Benign"})
	if err != nil {
		t.Fatalf("FromConfig(static) error: %v", err)
	}
	if _, ok := c.(*StaticClassifier); !ok {
		t.Errorf("FromConfig(static) = %T", c)
	}

	c, err = FromConfig(&core.ClassifierConfig{Mode: "http", URL: "http://127.0.0.1:9/x", TimeoutSec: 1})
	if err != nil {
		t.Fatalf("FromConfig(http) error: %v", err)
	}
	if _, ok := c.(*HTTPClassifier); !ok {
		t.Errorf("FromConfig(http) = %T", c)
	}

	if _, err := FromConfig(&core.ClassifierConfig{Mode: "http"}); err == nil {
		t.Error("http mode without url should fail")
	}
	if _, err := FromConfig(&core.ClassifierConfig{Mode: "quantum"}); err == nil {
		t.Error("unknown mode should fail")
	}
}
