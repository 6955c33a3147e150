package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operon-dev/operon/pkg/schema"
)

func testClient(baseURL string) *Client {
	return New(Config{
		BaseURL:       baseURL,
		MaxRetries:    3,
		RetryDelay:    2 * time.Millisecond,
		MaxRetryDelay: 10 * time.Millisecond,
		Timeout:       time.Second,
	})
}

func intPtr(n int) *int { return &n }

func TestRequestRetriesTransientStatusThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {"ok": true}}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	result, err := c.Get(context.Background(), "/things", RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, result)
	assert.Equal(t, int32(3), attempts.Load(), "two failures plus the success")
}

func TestRequestDoesNotRetryClientError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Get(context.Background(), "/missing", RequestOptions{})
	require.Error(t, err)

	var de *schema.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 404, de.Status)
	assert.Equal(t, schema.ErrCodeHTTP, de.Code)
	assert.Equal(t, int32(1), attempts.Load(), "4xx must not be retried")
}

func TestRequestExhaustsRetryBudget(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Get(context.Background(), "/flaky", RequestOptions{Retries: intPtr(2)})
	require.Error(t, err)

	var de *schema.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 502, de.Status)
	assert.Equal(t, int32(3), attempts.Load(), "initial attempt plus two retries")
}

func TestRequestPerCallRetryOverrideZero(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Get(context.Background(), "/once", RequestOptions{Retries: intPtr(0)})
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestRequestTimeoutIsRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Get(context.Background(), "/slow", RequestOptions{
		Retries: intPtr(1),
		Timeout: 20 * time.Millisecond,
	})
	require.Error(t, err)

	var de *schema.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, schema.ErrCodeTimeout, de.Code)
	assert.Equal(t, int32(2), attempts.Load(), "timeout is transient and consumes retries")
}

func TestCancelRequestStopsRetrying(t *testing.T) {
	release := make(chan struct{})
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := testClient(srv.URL)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), "/hang", RequestOptions{RequestID: "op-1"})
		errCh <- err
	}()

	// Let the attempt get in flight, then cancel it.
	require.Eventually(t, func() bool { return attempts.Load() == 1 },
		time.Second, 5*time.Millisecond)
	c.CancelRequest("op-1")

	select {
	case err := <-errCh:
		var de *schema.Error
		require.True(t, errors.As(err, &de))
		assert.Equal(t, schema.ErrCodeTimeout, de.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancelled request to return")
	}
	assert.Equal(t, int32(1), attempts.Load(), "explicit cancel must not trigger retries")
}

func TestCancelCompletedRequestIsNoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": 1}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Get(context.Background(), "/done", RequestOptions{RequestID: "op-1"})
	require.NoError(t, err)

	c.CancelRequest("op-1") // must not panic or affect anything
}

func TestRequestUnwrapsDataField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {"id": "42"}, "meta": {"page": 1}}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	result, err := c.Get(context.Background(), "/wrapped", RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "42"}, result)
}

func TestRequestReturnsWholeBodyWithoutDataField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "42"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	result, err := c.Get(context.Background(), "/plain", RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "42"}, result)
}

func TestRequestExtractSelector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {"items": [{"name": "first"}, {"name": "second"}]}}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	result, err := c.Get(context.Background(), "/items", RequestOptions{Extract: ".items[0].name"})
	require.NoError(t, err)
	assert.Equal(t, "first", result)
}

func TestRequestBodyMessageOverridesStatusText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "name must not be empty", "code": "FIELD_MISSING", "details": {"field": "name"}}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Post(context.Background(), "/validate", RequestOptions{Body: map[string]string{}})
	require.Error(t, err)

	var de *schema.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "name must not be empty", de.Message)
	assert.Equal(t, "FIELD_MISSING", de.Code)
	assert.Equal(t, 400, de.Status)
	assert.Equal(t, map[string]any{"field": "name"}, de.Details)
}

func TestRequestSendsJSONBodyAndHeaders(t *testing.T) {
	var gotContentType, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotHeader = r.Header.Get("X-Trace")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": "ok"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Post(context.Background(), "/submit", RequestOptions{
		Body:    map[string]string{"k": "v"},
		Headers: map[string]string{"X-Trace": "abc"},
	})
	require.NoError(t, err)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "abc", gotHeader)
}

func TestRequestNetworkErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := testClient(srv.URL)
	_, err := c.Get(context.Background(), "/unreachable", RequestOptions{Retries: intPtr(1)})
	require.Error(t, err)

	var de *schema.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, schema.ErrCodeNetwork, de.Code)
	assert.Equal(t, 0, de.Status)
}

func TestRequestNonJSONBodyIsRawText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	result, err := c.Get(context.Background(), "/ping", RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "pong", result)
}
