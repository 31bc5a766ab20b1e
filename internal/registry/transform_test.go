package registry

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golemcloud/golem/internal/golemerr"
	"github.com/golemcloud/golem/internal/oplog"
)

func fastRetryPolicy() oplog.RetryPolicy {
	return oplog.RetryPolicy{
		MaxAttempts: 3,
		MinDelay:    time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestHTTPTransformer_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("transformed"))
	}))
	defer srv.Close()

	transformer := NewHTTPTransformer(time.Second, fastRetryPolicy())
	plugin := PluginInstallation{Type: PluginComponentTransformer, TransformURL: srv.URL}

	out, err := transformer.Transform(plugin, []byte("wasm"), ComponentMetadata{})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if string(out) != "transformed" {
		t.Fatalf("Transform result = %q, want %q", out, "transformed")
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestHTTPTransformer_DoesNotRetry4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	transformer := NewHTTPTransformer(time.Second, fastRetryPolicy())
	plugin := PluginInstallation{Type: PluginComponentTransformer, TransformURL: srv.URL}

	_, err := transformer.Transform(plugin, []byte("wasm"), ComponentMetadata{})
	if err == nil {
		t.Fatal("expected an error for a 4xx response")
	}
	code, ok := golemerr.CodeOf(err)
	if !ok || code != golemerr.TransformationFailed {
		t.Fatalf("expected TransformationFailed, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable 4xx, got %d", calls)
	}
}

func TestHTTPTransformer_ExhaustsRetriesOnPersistent5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	retry := fastRetryPolicy()
	transformer := NewHTTPTransformer(time.Second, retry)
	plugin := PluginInstallation{Type: PluginComponentTransformer, TransformURL: srv.URL}

	_, err := transformer.Transform(plugin, []byte("wasm"), ComponentMetadata{})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if int(calls) != retry.MaxAttempts {
		t.Fatalf("expected exactly %d attempts, got %d", retry.MaxAttempts, calls)
	}
}
