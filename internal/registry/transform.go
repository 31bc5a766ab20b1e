package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/golemcloud/golem/internal/golemerr"
	"github.com/golemcloud/golem/internal/oplog"
)

// reservedPartKeys must never appear as a plugin parameter name: they are
// the two parts every transform request always carries (§4.6 "Transformer
// chain").
var reservedPartKeys = map[string]bool{"component": true, "metadata": true}

// httpTransformer POSTs a multipart request per plugin stage. Created once
// per Registry and reused across calls so its circuit breaker state
// (gobreaker.CircuitBreaker) persists across transform chain runs.
type httpTransformer struct {
	client   *http.Client
	breakers map[string]*gobreaker.CircuitBreaker
	retry    oplog.RetryPolicy
}

// NewHTTPTransformer builds the production Transformer used by Registry.Open
// callers, POSTing each plugin stage over HTTP with the given per-request
// timeout, a per-URL circuit breaker, and exponential-backoff retry of
// transport errors and 5xx responses per retry.
func NewHTTPTransformer(timeout time.Duration, retry oplog.RetryPolicy) Transformer {
	return &httpTransformer{
		client:   &http.Client{Timeout: timeout},
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		retry:    retry,
	}
}

func (t *httpTransformer) breakerFor(url string) *gobreaker.CircuitBreaker {
	if b, ok := t.breakers[url]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        url,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	t.breakers[url] = b
	return b
}

// Transform implements Transformer: POSTs {component, metadata, ...params}
// to plugin.TransformURL and returns the response body as the next stage's
// component bytes.
func (t *httpTransformer) Transform(plugin PluginInstallation, componentBytes []byte, metadata ComponentMetadata) ([]byte, error) {
	for key := range plugin.Parameters {
		if reservedPartKeys[key] {
			return nil, golemerr.New(golemerr.InvalidRequest, fmt.Sprintf("transformer parameter %q is reserved", key))
		}
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, golemerr.Wrap(golemerr.TransformationFailed, "encode metadata", err)
	}

	body, contentType, err := buildMultipartBody(componentBytes, metadataJSON, plugin.Parameters)
	if err != nil {
		return nil, golemerr.Wrap(golemerr.TransformationFailed, "build transform request", err)
	}

	breaker := t.breakerFor(plugin.TransformURL)

	maxAttempts := t.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := breaker.Execute(func() (interface{}, error) {
			return t.doRequest(plugin.TransformURL, contentType, body)
		})
		if err == nil {
			return result.([]byte), nil
		}
		lastErr = err

		if !retryableTransformErr(err) || attempt == maxAttempts-1 {
			return nil, classifyTransformErr(err)
		}
		time.Sleep(t.retry.DelayFor(attempt))
	}
	return nil, classifyTransformErr(lastErr)
}

// retryableTransformErr reports whether a failed transform attempt should
// be retried: transport-level failures and 5xx responses are, a breaker
// trip or any other status is not (§4.5, §6).
func retryableTransformErr(err error) bool {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return true
	}
	var tagged *golemerr.Error
	if errors.As(err, &tagged) && tagged.TransformKind == golemerr.TransformHTTPStatus {
		return tagged.HTTPStatus >= 500
	}
	return false
}

func classifyTransformErr(err error) error {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return golemerr.Transformation(golemerr.TransformRequestError, err.Error(), 0, err)
	}
	var tagged *golemerr.Error
	if errors.As(err, &tagged) {
		return tagged
	}
	return golemerr.Transformation(golemerr.TransformFailure, "transformer breaker open", 0, err)
}

func (t *httpTransformer) doRequest(url, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &requestError{err}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &requestError{err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &requestError{err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, golemerr.Transformation(golemerr.TransformHTTPStatus, "non-2xx transform response", resp.StatusCode, nil)
	}
	return respBody, nil
}

// requestError marks a connection-level failure (as opposed to a completed
// HTTP exchange with a bad status), so Transform can classify it as
// TransformRequestError per §7.
type requestError struct{ err error }

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func buildMultipartBody(componentBytes, metadataJSON []byte, parameters map[string]string) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	componentPart, err := writer.CreateFormFile("component", "component.wasm")
	if err != nil {
		return nil, "", err
	}
	if _, err := componentPart.Write(componentBytes); err != nil {
		return nil, "", err
	}

	metadataPart, err := writer.CreatePart(map[string][]string{
		"Content-Disposition": {`form-data; name="metadata"`},
		"Content-Type":        {"application/json"},
	})
	if err != nil {
		return nil, "", err
	}
	if _, err := metadataPart.Write(metadataJSON); err != nil {
		return nil, "", err
	}

	for key, value := range parameters {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

// runTransformerChain runs plugins (already priority-sorted) in sequence,
// feeding each stage's output to the next. It returns the caller's declared
// metadata unchanged: exports are not re-analysed from the final bytes
// (see package doc), and every stage receives the same declared metadata.
func (r *Registry) runTransformerChain(componentBytes []byte, metadata ComponentMetadata, plugins []PluginInstallation) ([]byte, ComponentMetadata, error) {
	current := componentBytes
	for _, plugin := range plugins {
		if plugin.Type != PluginComponentTransformer {
			continue
		}
		next, err := r.transformer.Transform(plugin, current, metadata)
		if err != nil {
			return nil, ComponentMetadata{}, err
		}
		current = next
	}
	return current, metadata, nil
}
