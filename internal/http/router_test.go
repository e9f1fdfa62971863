package httpapi

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/ndi-proof-backend/internal/clock"
	"github.com/tbourn/ndi-proof-backend/internal/config"
	"github.com/tbourn/ndi-proof-backend/internal/correlation"
	"github.com/tbourn/ndi-proof-backend/internal/http/handlers"
	"github.com/tbourn/ndi-proof-backend/internal/ndi"
)

type stubVerifier struct{}

func (stubVerifier) CreateProofRequest(context.Context, ndi.ProofSpec) (ndi.ProofRequest, error) {
	return ndi.ProofRequest{ThreadID: "ndi-1", URL: "https://ndi.example/p/1"}, nil
}

func (stubVerifier) Subscribe(context.Context, string) error { return nil }

func baseConfig() config.Config {
	return config.Config{
		APIBasePath: "/api",
		RateRPS:     100,
		RateBurst:   10,
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newRouter(t *testing.T, cfg config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := correlation.NewService(nil, clock.Real{}, zerolog.Nop())
	h := handlers.New(svc, stubVerifier{}, nil, handlers.Options{})
	r := gin.New()
	RegisterRoutes(r, h, cfg)
	return r
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r := newRouter(t, baseConfig())

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" || w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("expected request id and no-store headers, got %#v", w.Header())
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	var er handlers.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil || er.Code != handlers.ErrCodeNotFound {
		t.Fatalf("404 envelope: %v %+v", err, er)
	}

	w = serve(r, httptest.NewRequest(http.MethodPost, "/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("swagger must be off by default, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSAllowlist(t *testing.T) {
	cfg := baseConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"https://app.example.org"}}
	r := newRouter(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example.org")
	w := serve(r, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.org" {
		t.Fatalf("expected allowlisted origin echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	w = serve(r, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected ACAO for foreign origin: %q", got)
	}
}

func TestRegisterRoutes_ProofFlow(t *testing.T) {
	r := newRouter(t, baseConfig())

	w := serve(r, httptest.NewRequest(http.MethodPost, "/api/proof-request", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /api/proof-request = %d %s", w.Code, w.Body.String())
	}
	var created handlers.ProofRequestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("json: %v", err)
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/proof-results/"+created.Data.ThreadID, nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected pending, got %d", w.Code)
	}

	body, _ := json.Marshal(map[string]any{
		"type":                ndi.TypePresentationResult,
		"thid":                "ndi-1",
		"verification_result": "ProofValidated",
		"requested_presentation": map[string]any{"revealed_attrs": map[string]any{
			"ID Number": []map[string]string{{"value": "10203004567"}},
			"Full Name": []map[string]string{{"value": "Karma"}},
		}},
	})
	w = serve(r, httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body)))
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /webhook = %d %s", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/proof-results/"+created.Data.ThreadID, nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w = serve(r, req)
	if w.Code != http.StatusOK || w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzipped 200, got %d enc=%q", w.Code, w.Header().Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	raw, _ := io.ReadAll(zr)
	var res handlers.ProofResultResponse
	if err := json.Unmarshal(raw, &res); err != nil || res.UserData.ID != "10203004567" {
		t.Fatalf("result: %v %+v", err, res)
	}
}

func TestRegisterRoutes_WebhookToken(t *testing.T) {
	cfg := baseConfig()
	cfg.NDI.WebhookToken = "hook-secret"
	r := newRouter(t, cfg)

	body := []byte(`{"type":"present-proof/request-sent","thid":"x"}`)
	w := serve(r, httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body)))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer hook-secret")
	if w := serve(r, req); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
}

func TestRegisterRoutes_RateLimitAppliesToAPIOnly(t *testing.T) {
	cfg := baseConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 1
	r := newRouter(t, cfg)

	if w := serve(r, httptest.NewRequest(http.MethodGet, "/api/proof-results/bad", nil)); w.Code != http.StatusBadRequest {
		t.Fatalf("first API call = %d", w.Code)
	}
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/api/proof-results/bad", nil)); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second API call should be limited, got %d", w.Code)
	}
	for i := 0; i < 3; i++ {
		body := bytes.NewReader([]byte(`{"type":"other"}`))
		if w := serve(r, httptest.NewRequest(http.MethodPost, "/webhook", body)); w.Code != http.StatusOK {
			t.Fatalf("webhook must not be rate limited, got %d", w.Code)
		}
	}
}

func TestRegisterRoutes_SwaggerEnabled(t *testing.T) {
	cfg := baseConfig()
	cfg.SwaggerEnabled = true
	r := newRouter(t, cfg)

	if w := serve(r, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil)); w.Code != http.StatusOK {
		t.Fatalf("GET /swagger/index.html = %d", w.Code)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := serve(r, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		w := serve(r, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, w.Code, w.Body.String())
		}
	}
}

func TestPipeline_HSTSOnlyOverHTTPS(t *testing.T) {
	cfg := baseConfig()
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour}
	r := newRouter(t, cfg)

	if w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil)); w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS sent over plain HTTP")
	}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	if w := serve(r, req); w.Header().Get("Strict-Transport-Security") == "" {
		t.Fatalf("HSTS missing over HTTPS")
	}
}
