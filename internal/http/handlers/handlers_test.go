package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/ndi-proof-backend/internal/clock"
	"github.com/tbourn/ndi-proof-backend/internal/correlation"
	"github.com/tbourn/ndi-proof-backend/internal/events"
	"github.com/tbourn/ndi-proof-backend/internal/ndi"
	"github.com/tbourn/ndi-proof-backend/internal/repo"
	"github.com/tbourn/ndi-proof-backend/internal/services"
)

// ---------- fakes ----------

type fakeVerifier struct {
	mu       sync.Mutex
	next     int
	err      error
	subErr   error
	subCalls []string
}

func (f *fakeVerifier) CreateProofRequest(_ context.Context, _ ndi.ProofSpec) (ndi.ProofRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return ndi.ProofRequest{}, f.err
	}
	f.next++
	id := "ndi-thread-" + string(rune('0'+f.next))
	return ndi.ProofRequest{ThreadID: id, URL: "https://ndi.example/p/" + id}, nil
}

func (f *fakeVerifier) Subscribe(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCalls = append(f.subCalls, id)
	return f.subErr
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.VerificationEvent
	err    error
}

func (p *recordingPublisher) PublishVerification(_ context.Context, ev events.VerificationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

// ---------- harness ----------

type harness struct {
	r        *gin.Engine
	svc      *correlation.Service
	verifier *fakeVerifier
	pub      *recordingPublisher
	clk      *clock.Mock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "handlers.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	clk := clock.NewMock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	svc := correlation.NewService(services.NewIdentityService(db), clk, zerolog.Nop())
	h := &harness{svc: svc, verifier: &fakeVerifier{}, pub: &recordingPublisher{}, clk: clk}

	hs := New(svc, h.verifier, h.pub, Options{
		ProofSpec: ndi.NewProofSpec("Verify Foundational ID", "schema", "ID Number", "Full Name"),
		QRSize:    128,
	})
	r := gin.New()
	r.POST("/api/proof-request", hs.CreateProofRequest)
	r.GET("/api/proof-results/:threadId", hs.GetProofResult)
	r.POST("/webhook", hs.Webhook)
	r.GET("/health", hs.Health)
	h.r = r
	return h
}

func (h *harness) do(t *testing.T, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.r.ServeHTTP(w, req)
	var m map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
			t.Fatalf("%s %s: invalid json %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w, m
}

// createProof runs POST /api/proof-request and returns the local thread id.
func (h *harness) createProof(t *testing.T) string {
	t.Helper()
	w, m := h.do(t, http.MethodPost, "/api/proof-request", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create proof: %d %s", w.Code, w.Body.String())
	}
	return m["data"].(map[string]any)["threadId"].(string)
}

func presentation(thid, id, name string) []byte {
	attrs := map[string]any{}
	if id != "" {
		attrs["ID Number"] = []map[string]string{{"value": id}}
	}
	if name != "" {
		attrs["Full Name"] = []map[string]string{{"value": name}}
	}
	b, _ := json.Marshal(map[string]any{
		"type":                   ndi.TypePresentationResult,
		"thid":                   thid,
		"verification_result":    "ProofValidated",
		"requested_presentation": map[string]any{"revealed_attrs": attrs},
	})
	return b
}
