package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/golemcloud/golem/internal/ids"
)

func TestHTTPServer_InvokeRoundTrip(t *testing.T) {
	dispatcher := &fakeDispatcher{response: []byte("result")}
	srv := NewHTTPServer(&dispatchServer{dispatcher: dispatcher, log: zap.NewNop()}, zap.NewNop())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	client := NewHTTPClient(ts.URL)
	worker := ids.WorkerId{ComponentId: ids.NewComponentId(), Name: "worker-1"}.String()
	resp, err := client.Invoke(context.Background(), &Envelope{WorkerID: worker, Function: "run", Request: []byte("req")})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(resp.Response) != "result" {
		t.Fatalf("Response = %q, want %q", resp.Response, "result")
	}
}

func TestHTTPServer_RejectsMissingFunction(t *testing.T) {
	dispatcher := &fakeDispatcher{response: []byte("result")}
	srv := NewHTTPServer(&dispatchServer{dispatcher: dispatcher, log: zap.NewNop()}, zap.NewNop())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	worker := ids.WorkerId{ComponentId: ids.NewComponentId(), Name: "worker-1"}.String()
	body := `{"worker_id":"` + worker + `","request":"cmVx"}`
	resp, err := ts.Client().Post(ts.URL+"/v1/invoke", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d (schema validation error for missing function)", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestHTTPServer_ServesOpenAPISpec(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	srv := NewHTTPServer(&dispatchServer{dispatcher: dispatcher, log: zap.NewNop()}, zap.NewNop())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	resp, err := ts.Client().Get(ts.URL + "/openapi.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
