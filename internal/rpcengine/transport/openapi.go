package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"go.uber.org/zap"
)

// envelopeSchema describes the wire shape of Envelope for clients that
// cannot speak gRPC (e.g. a worker-transport implementation written against
// an OpenAPI-generated HTTP client). It is the declarative counterpart to
// the gRPC ServiceDesc in service.go.
func envelopeSchema() *openapi3.Schema {
	return openapi3.NewObjectSchema().
		WithProperty("worker_id", openapi3.NewStringSchema()).
		WithProperty("function", openapi3.NewStringSchema()).
		WithProperty("request", openapi3.NewStringSchema().WithFormat("byte")).
		WithRequired([]string{"worker_id", "function"})
}

func responseSchema() *openapi3.Schema {
	return openapi3.NewObjectSchema().
		WithProperty("response", openapi3.NewStringSchema().WithFormat("byte")).
		WithProperty("error", openapi3.NewStringSchema())
}

// Document returns the OpenAPI 3 description of the HTTP fallback transport.
// It is served at GET /openapi.json by HTTPServer for tooling that
// generates clients from a spec rather than linking against this package.
func Document() *openapi3.T {
	return &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "Golem Worker Transport (HTTP fallback)",
			Description: "Single-method HTTP/JSON transport standing in for the gRPC worker-transport service where a gRPC client is unavailable.",
			Version:     "1.0.0",
		},
		Components: &openapi3.Components{
			Schemas: openapi3.Schemas{
				"Envelope": openapi3.NewSchemaRef("", envelopeSchema()),
				"Response": openapi3.NewSchemaRef("", responseSchema()),
			},
		},
	}
}

// HTTPServer is the HTTP/JSON fallback for WorkerTransportServer, used when
// a peer cannot dial gRPC (e.g. behind an HTTP-only ingress). Request and
// response bodies are validated against Document()'s schemas before and
// after dispatch, rather than trusted blindly the way a generated client
// would be.
type HTTPServer struct {
	target         WorkerTransportServer
	log            *zap.Logger
	envelopeSchema *openapi3.Schema
	responseSchema *openapi3.Schema
}

// NewHTTPServer builds an HTTPServer delegating calls to target (typically
// the same dispatchServer the gRPC transport uses).
func NewHTTPServer(target WorkerTransportServer, log *zap.Logger) *HTTPServer {
	return &HTTPServer{
		target:         target,
		log:            log,
		envelopeSchema: envelopeSchema(),
		responseSchema: responseSchema(),
	}
}

// ServeHTTP implements http.Handler for the /v1/invoke and /openapi.json
// routes.
func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/openapi.json":
		s.serveSpec(w)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/invoke":
		s.serveInvoke(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *HTTPServer) serveSpec(w http.ResponseWriter) {
	data, err := Document().MarshalJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *HTTPServer) serveInvoke(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.envelopeSchema.VisitJSON(raw); err != nil {
		http.Error(w, "schema validation: "+err.Error(), http.StatusBadRequest)
		return
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.target.Invoke(r.Context(), &env)
	if err != nil {
		resp = &Response{Error: err.Error()}
	}

	out, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if verr := s.responseSchema.VisitJSON(jsonRoundTrip(out)); verr != nil {
		s.log.Warn("worker transport http response failed schema validation", zap.Error(verr))
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

func jsonRoundTrip(data []byte) interface{} {
	var v interface{}
	_ = json.Unmarshal(data, &v)
	return v
}

// HTTPClient is the client side of the HTTP fallback transport, used by
// rpcengine.Connection implementations that dial a peer over plain HTTPS
// instead of gRPC.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPClient builds an HTTPClient against baseURL (e.g.
// "https://executor-3.golem.internal:9444").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
	}
}

// Invoke places one call over the HTTP fallback transport.
func (c *HTTPClient) Invoke(ctx context.Context, in *Envelope) (*Response, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("transport: encode envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/invoke", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: http invoke: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("transport: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transport: http invoke: status %d: %s", resp.StatusCode, string(data))
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("transport: decode response: %w", err)
	}
	return &out, nil
}
