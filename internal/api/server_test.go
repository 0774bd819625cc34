package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/fetchgate/internal/config"
	"github.com/JakeFAU/fetchgate/internal/fetcher"
	"github.com/JakeFAU/fetchgate/internal/gateway"
	"github.com/JakeFAU/fetchgate/internal/telemetry"
)

func TestServer_Fetch_ReturnsHTML(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{result: gateway.Result{StatusCode: http.StatusOK, HTML: "<html>ok</html>"}}
	server := newTestServer(gw, config.Config{})

	rec := doGet(server, "/api/fetch?url="+url.QueryEscape("https://example.com/page"), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Equal(t, map[string]string{"html": "<html>ok</html>"}, decodeBody(t, rec))
	require.Equal(t, []string{"https://example.com/page"}, gw.urls())
}

func TestServer_Fetch_MissingURL(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	rec := doGet(newTestServer(gw, config.Config{}), "/api/fetch", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, map[string]string{"error": "Missing url parameter"}, decodeBody(t, rec))
	require.Empty(t, gw.urls())
}

func TestServer_Fetch_GatewayErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{
			name:    "upstream",
			err:     &gateway.Error{Kind: gateway.KindUpstreamError, Status: http.StatusNotFound, Message: "Upstream HTTP 404"},
			status:  http.StatusNotFound,
			message: "Upstream HTTP 404",
		},
		{
			name:    "upstream not modified",
			err:     &gateway.Error{Kind: gateway.KindUpstreamError, Status: http.StatusNotModified, Message: "Upstream HTTP 304"},
			status:  http.StatusBadGateway,
			message: "Upstream HTTP 304",
		},
		{
			name:    "upstream informational",
			err:     &gateway.Error{Kind: gateway.KindUpstreamError, Status: http.StatusEarlyHints, Message: "Upstream HTTP 103"},
			status:  http.StatusBadGateway,
			message: "Upstream HTTP 103",
		},
		{
			name:    "robots",
			err:     &gateway.Error{Kind: gateway.KindRobotsDisallowed, Status: http.StatusForbidden, Message: "Disallowed by robots.txt"},
			status:  http.StatusForbidden,
			message: "Disallowed by robots.txt",
		},
		{
			name: "blocked keeps cause out of body",
			err: &gateway.Error{
				Kind:    gateway.KindBlockedAddress,
				Status:  http.StatusInternalServerError,
				Message: "Blocked private address",
				Err:     errors.New("internal.example resolves to 10.0.0.7"),
			},
			status:  http.StatusInternalServerError,
			message: "Blocked private address",
		},
		{
			name:    "unclassified",
			err:     errors.New("boom"),
			status:  http.StatusInternalServerError,
			message: "boom",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := newTestServer(&fakeGateway{err: tt.err}, config.Config{})
			rec := doGet(server, "/api/fetch?url=http://example.com", nil)

			require.Equal(t, tt.status, rec.Code)
			require.Equal(t, map[string]string{"error": tt.message}, decodeBody(t, rec))
		})
	}
}

func TestServer_Fetch_EndToEnd(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "<html>ok</html>")
	}))
	defer upstream.Close()

	gw := gateway.New(allowAllGuard{}, allowAllRobots{}, fetcher.New(fetcher.Config{UserAgent: "api-test"}),
		gateway.Config{FetchTimeout: time.Second}, zap.NewNop())
	server := newTestServer(gw, config.Config{})

	rec := doGet(server, "/api/fetch?url="+url.QueryEscape(upstream.URL+"/page"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]string{"html": "<html>ok</html>"}, decodeBody(t, rec))

	rec = doGet(server, "/api/fetch?url="+url.QueryEscape(upstream.URL+"/missing"), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, map[string]string{"error": "Upstream HTTP 404"}, decodeBody(t, rec))

	rec = doGet(server, "/api/fetch?url="+url.QueryEscape("ftp://example.com/file"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	server := newTestServer(&fakeGateway{result: gateway.Result{HTML: "x"}}, cfg)

	rec := doGet(server, "/api/fetch?url=http://example.com", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doGet(server, "/api/fetch?url=http://example.com", http.Header{"X-Api-Key": []string{"secret"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doGet(server, "/api/fetch?url=http://example.com&api_key=secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doGet(server, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code, "probes stay open")
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeGateway{panicMsg: "kaboom"}, config.Config{})
	rec := doGet(server, "/api/fetch?url=http://example.com", nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, map[string]string{"error": "internal server error"}, decodeBody(t, rec))
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeGateway{}, config.Config{})

	rec := doGet(server, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]string{"status": "ok"}, decodeBody(t, rec))

	rec = doGet(server, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doGet(server, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	server := NewServer(&fakeGateway{}, &fakeIDGen{ids: []string{"req-1"}}, config.Config{}, zap.New(core))

	rec := doGet(server, "/healthz", nil)
	require.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	require.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
}

func TestTraceMiddlewareContinuesInboundTrace(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, err := telemetry.InitTracerProvider(context.Background(), "api-test", sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	defer func() { require.NoError(t, tp.Shutdown(context.Background())) }()

	core, logs := observer.New(zap.InfoLevel)
	server := NewServer(&fakeGateway{}, &fakeIDGen{ids: []string{"req-1"}}, config.Config{}, zap.New(core))
	rec := doGet(server, "/healthz", http.Header{
		"Traceparent": []string{"00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "GET /healthz", ended[0].Name())
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", ended[0].SpanContext().TraceID().String())
	require.Equal(t, "00f067aa0ba902b7", ended[0].Parent().SpanID().String())
	require.True(t, ended[0].Parent().IsRemote())

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entries[0].ContextMap()["trace_id"])
}

func TestRequestIDMiddlewareKeepsInboundID(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeGateway{}, config.Config{})
	rec := doGet(server, "/healthz", http.Header{"X-Request-Id": []string{"caller-id"}})
	require.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type fakeGateway struct {
	mu       sync.Mutex
	result   gateway.Result
	err      error
	panicMsg string
	seen     []string
}

func (f *fakeGateway) Fetch(_ context.Context, rawURL string) (gateway.Result, error) {
	f.mu.Lock()
	f.seen = append(f.seen, rawURL)
	f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.result, f.err
}

func (f *fakeGateway) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

type allowAllGuard struct{}

func (allowAllGuard) Check(context.Context, string) error { return nil }

type allowAllRobots struct{}

func (allowAllRobots) Allowed(context.Context, *url.URL) bool { return true }

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "generated-id", nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func newTestServer(gw Gateway, cfg config.Config) *Server {
	return NewServer(gw, &fakeIDGen{}, cfg, zap.NewNop())
}

func doGet(server *Server, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}
