package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apihttp "github.com/artpar/meterbill/adapters/http"
	"github.com/artpar/meterbill/adapters/idgen"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := chi.NewRouter()
	r.Use(apihttp.NewRequestIDMiddleware(idgen.NewSequential("req")))
	r.Use(apihttp.NewLoggingMiddleware(logger, "/prom"))
	r.Get("/ok/{id}", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })
	r.Get("/bad", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadRequest) })
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) })
	r.Get("/prom", func(w http.ResponseWriter, r *http.Request) {})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {})

	tests := []struct {
		path      string
		wantLevel string
		wantRoute string
		wantCode  int
	}{
		{"/ok/7", "info", "/ok/{id}", http.StatusOK},
		{"/bad", "warn", "/bad", http.StatusBadRequest},
		{"/boom", "error", "/boom", http.StatusBadGateway},
		{"/missing", "warn", "unmatched", http.StatusNotFound},
		{"/prom", "", "", 0},
		{"/healthz", "", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			buf.Reset()
			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", tt.path, nil))

			if tt.wantLevel == "" {
				if buf.Len() != 0 {
					t.Errorf("quiet path logged: %s", buf.String())
				}
				return
			}

			var line struct {
				Level     string `json:"level"`
				Route     string `json:"route"`
				Status    int    `json:"status"`
				RequestID string `json:"request_id"`
			}
			if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
				t.Fatalf("decode log %q: %v", buf.String(), err)
			}
			if line.Level != tt.wantLevel || line.Route != tt.wantRoute || line.Status != tt.wantCode {
				t.Errorf("log = %+v, want level=%s route=%s status=%d", line, tt.wantLevel, tt.wantRoute, tt.wantCode)
			}
			if !strings.HasPrefix(line.RequestID, "req") {
				t.Errorf("request_id = %q", line.RequestID)
			}
		})
	}
}

func TestMetricsMiddleware_CustomPath(t *testing.T) {
	s := setupTestServer()

	s.do("GET", "/metrics", "", "")
	rec := s.do("GET", "/metrics", "", "")
	if strings.Contains(rec.Body.String(), `route="/metrics"`) {
		t.Error("metrics endpoint recorded itself")
	}
}

func TestTracingMiddleware(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	sr := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)).Tracer("test")

	r := chi.NewRouter()
	r.Use(apihttp.NewTracingMiddleware(tracer, "/prom"))
	r.Get("/ok/{id}", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) })
	r.Get("/prom", func(w http.ResponseWriter, r *http.Request) {})

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest("GET", "/ok/1", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/boom", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/prom", nil))

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Name() != "GET /ok/{id}" || spans[0].SpanContext().TraceID().String() != traceID {
		t.Errorf("span = %s trace %s, want the caller's trace", spans[0].Name(), spans[0].SpanContext().TraceID())
	}
	if spans[1].Name() != "GET /boom" || spans[1].Status().Code != codes.Error {
		t.Errorf("span = %s status %v, want error", spans[1].Name(), spans[1].Status().Code)
	}
}
