package image

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-scene/backend/internal/apperr"
	"github.com/zhouzirui/z-scene/backend/internal/metrics"
)

type recorder struct {
	mu     sync.Mutex
	order  []string
	prompt []string
}

func (r *recorder) hit(name, prompt string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, name)
	r.prompt = append(r.prompt, prompt)
}

func (r *recorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func provider(t *testing.T, rec *recorder, name string, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))

		var req inferenceRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		rec.hit(name, req.Inputs)

		if status == http.StatusOK {
			w.Header().Set("Content-Type", "image/jpeg")
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			require.NotEmpty(t, family.GetMetric())
			return family.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

// hangingServer never answers. Its handlers return once the client goes away
// or the test ends, so Close never waits on them.
func hangingServer(t *testing.T) *httptest.Server {
	t.Helper()
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-done:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(done) })
	return srv
}

func newClient(name, url string, m *metrics.Metrics) *Client {
	return NewClient(ClientConfig{Name: name, URL: url, APIKey: "hf_test", Timeout: 5 * time.Second, Metrics: m})
}

func readAll(t *testing.T, result *Result) string {
	t.Helper()
	defer result.Body.Close()
	data, err := io.ReadAll(result.Body)
	require.NoError(t, err)
	return string(data)
}

func TestPrimarySuccessSkipsFallback(t *testing.T) {
	rec := &recorder{}
	primary := provider(t, rec, "primary", http.StatusOK, "JPEGDATA")
	fallback := provider(t, rec, "fallback", http.StatusOK, "OTHER")

	gw := NewGateway(newClient("primary", primary.URL, nil), newClient("fallback", fallback.URL, nil), nil)
	result, err := gw.GenerateImage(context.Background(), "a beach")
	require.NoError(t, err)

	assert.Equal(t, "JPEGDATA", readAll(t, result))
	assert.Equal(t, "image/jpeg", result.ContentType)
	assert.Equal(t, "primary", result.Provider)
	assert.Equal(t, []string{"primary"}, rec.calls())
	assert.Equal(t, []string{"a beach"}, rec.prompt)
}

func TestServerErrorFallsBackOnce(t *testing.T) {
	rec := &recorder{}
	reg := prometheus.NewRegistry()
	m := metrics.MustNew(reg)
	primary := provider(t, rec, "primary", http.StatusInternalServerError, "model loading")
	fallback := provider(t, rec, "fallback", http.StatusOK, "FALLBACKJPEG")

	gw := NewGateway(newClient("primary", primary.URL, m), newClient("fallback", fallback.URL, m), m)
	result, err := gw.GenerateImage(context.Background(), "a beach")
	require.NoError(t, err)

	assert.Equal(t, "FALLBACKJPEG", readAll(t, result))
	assert.Equal(t, "fallback", result.Provider)
	assert.Equal(t, []string{"primary", "fallback"}, rec.calls())
	assert.Equal(t, 1.0, counterValue(t, reg, "scene_image_fallbacks_total"))
}

func TestClientErrorDoesNotFallBack(t *testing.T) {
	rec := &recorder{}
	primary := provider(t, rec, "primary", http.StatusBadRequest, "bad prompt")
	fallback := provider(t, rec, "fallback", http.StatusOK, "FALLBACKJPEG")

	gw := NewGateway(newClient("primary", primary.URL, nil), newClient("fallback", fallback.URL, nil), nil)
	_, err := gw.GenerateImage(context.Background(), "a beach")

	var providerErr *apperr.ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, http.StatusBadRequest, providerErr.StatusCode)
	assert.Equal(t, "bad prompt", providerErr.Message)
	assert.Equal(t, []string{"primary"}, rec.calls())
}

func TestBothFailReturnsExhausted(t *testing.T) {
	rec := &recorder{}
	primary := provider(t, rec, "primary", http.StatusServiceUnavailable, "busy")
	fallback := provider(t, rec, "fallback", http.StatusNotFound, "gone")

	gw := NewGateway(newClient("primary", primary.URL, nil), newClient("fallback", fallback.URL, nil), nil)
	_, err := gw.GenerateImage(context.Background(), "a beach")

	var exhausted *apperr.AllProvidersExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, http.StatusServiceUnavailable, exhausted.Primary.(*apperr.ProviderError).StatusCode)
	assert.Equal(t, http.StatusNotFound, exhausted.Fallback.(*apperr.ProviderError).StatusCode)
	assert.Equal(t, []string{"primary", "fallback"}, rec.calls())
}

func TestTransportFailureFallsBack(t *testing.T) {
	rec := &recorder{}
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	fallback := provider(t, rec, "fallback", http.StatusOK, "FALLBACKJPEG")

	gw := NewGateway(newClient("primary", deadURL, nil), newClient("fallback", fallback.URL, nil), nil)
	result, err := gw.GenerateImage(context.Background(), "a beach")
	require.NoError(t, err)
	assert.Equal(t, "FALLBACKJPEG", readAll(t, result))
}

func TestCallerCancellationDoesNotFallBack(t *testing.T) {
	var fallbackHits atomic.Int32
	slow := hangingServer(t)
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackHits.Add(1)
	}))
	t.Cleanup(fallback.Close)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	gw := NewGateway(newClient("primary", slow.URL, nil), newClient("fallback", fallback.URL, nil), nil)
	_, err := gw.GenerateImage(ctx, "a beach")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), fallbackHits.Load())
}

func TestNoFallbackConfigured(t *testing.T) {
	rec := &recorder{}
	primary := provider(t, rec, "primary", http.StatusInternalServerError, "boom")

	gw := NewGateway(newClient("primary", primary.URL, nil), nil, nil)
	_, err := gw.GenerateImage(context.Background(), "a beach")

	var providerErr *apperr.ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, http.StatusInternalServerError, providerErr.StatusCode)
}

func TestProviderTimeoutFallsBack(t *testing.T) {
	rec := &recorder{}
	slow := hangingServer(t)
	fallback := provider(t, rec, "fallback", http.StatusOK, "FALLBACKJPEG")

	primary := NewClient(ClientConfig{Name: "primary", URL: slow.URL, APIKey: "hf_test", Timeout: 20 * time.Millisecond})
	gw := NewGateway(primary, newClient("fallback", fallback.URL, nil), nil)

	result, err := gw.GenerateImage(context.Background(), "a beach")
	require.NoError(t, err)
	assert.Equal(t, "FALLBACKJPEG", readAll(t, result))
}

func TestImageContentType(t *testing.T) {
	assert.Equal(t, "image/png", imageContentType("image/png"))
	assert.Equal(t, "image/jpeg", imageContentType("application/octet-stream"))
	assert.Equal(t, "image/jpeg", imageContentType(""))
}
