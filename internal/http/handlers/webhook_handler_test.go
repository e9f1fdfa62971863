package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestWebhook_EmptyBodies(t *testing.T) {
	h := newHarness(t)
	for _, body := range [][]byte{nil, []byte(""), []byte("{}"), []byte("not json")} {
		w, m := h.do(t, http.MethodPost, "/webhook", body)
		if w.Code != http.StatusBadRequest || m["error"] != "Empty request body" {
			t.Fatalf("body %q: %d %v", body, w.Code, m)
		}
	}
}

func TestWebhook_OtherTypesAcknowledged(t *testing.T) {
	h := newHarness(t)
	w, m := h.do(t, http.MethodPost, "/webhook", []byte(`{"type":"present-proof/request-sent","thid":"x"}`))
	if w.Code != http.StatusOK || m["message"] != "Webhook processed successfully" {
		t.Fatalf("got %d %v", w.Code, m)
	}
	if len(h.pub.events) != 0 {
		t.Fatalf("no event expected")
	}
}

func TestWebhook_NewUserThenDuplicateThenExisting(t *testing.T) {
	h := newHarness(t)
	first := h.createProof(t)

	w, m := h.do(t, http.MethodPost, "/webhook", presentation("ndi-thread-1", "10203004567", "Karma Wangmo"))
	if w.Code != http.StatusCreated || m["message"] != "Registration successful" || m["threadId"] != first {
		t.Fatalf("new user: %d %v", w.Code, m)
	}
	pr := m["proofResult"].(map[string]any)
	if pr["isExistingUser"] != false || pr["verification_result"] != "ProofValidated" {
		t.Fatalf("proofResult = %v", pr)
	}

	w, m = h.do(t, http.MethodPost, "/webhook", presentation("ndi-thread-1", "10203004567", "Karma Wangmo"))
	if w.Code != http.StatusOK || m["message"] != "Webhook already processed" {
		t.Fatalf("duplicate: %d %v", w.Code, m)
	}

	second := h.createProof(t)
	w, m = h.do(t, http.MethodPost, "/webhook", presentation("ndi-thread-2", "10203004567", "Karma Wangmo"))
	if w.Code != http.StatusOK || m["message"] != "User already exists" || m["threadId"] != second {
		t.Fatalf("existing user: %d %v", w.Code, m)
	}

	if len(h.pub.events) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(h.pub.events))
	}
	ev := h.pub.events[1]
	if ev.ThreadID != second || ev.IDNumber != "10203004567" || ev.Name != "Karma Wangmo" || !ev.IsExistingUser {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestWebhook_MissingAttributes(t *testing.T) {
	h := newHarness(t)
	id := h.createProof(t)

	w, m := h.do(t, http.MethodPost, "/webhook", presentation("ndi-thread-1", "10203004567", ""))
	if w.Code != http.StatusBadRequest || m["code"] != ErrCodeMissingAttributes {
		t.Fatalf("got %d %v", w.Code, m)
	}
	// Not marked processed: a complete redelivery still resolves.
	if w, _ := h.do(t, http.MethodPost, "/webhook", presentation("ndi-thread-1", "10203004567", "Karma")); w.Code != http.StatusCreated {
		t.Fatalf("retry after missing attributes: %d", w.Code)
	}
	if w, _ := h.do(t, http.MethodGet, "/api/proof-results/"+id, nil); w.Code != http.StatusOK {
		t.Fatalf("result not recorded: %d", w.Code)
	}
}

func TestWebhook_UnknownThread(t *testing.T) {
	h := newHarness(t)
	w, m := h.do(t, http.MethodPost, "/webhook", presentation("never-issued", "1", "A"))
	if w.Code != http.StatusInternalServerError || m["error"] != "Thread ID mapping not found" {
		t.Fatalf("got %d %v", w.Code, m)
	}
}

func TestWebhook_PublishFailureDoesNotChangeResponse(t *testing.T) {
	h := newHarness(t)
	h.createProof(t)
	h.pub.err = errors.New("broker down")

	if w, _ := h.do(t, http.MethodPost, "/webhook", presentation("ndi-thread-1", "1", "A")); w.Code != http.StatusCreated {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestWebhook_ConcurrentRedeliveriesResolveOnce(t *testing.T) {
	h := newHarness(t)
	h.createProof(t)

	const n = 8
	body := presentation("ndi-thread-1", "555", "Concurrent")
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
			w := httptest.NewRecorder()
			h.r.ServeHTTP(w, req)
			codes[i] = w.Code
		}(i)
	}
	wg.Wait()

	created := 0
	for _, c := range codes {
		switch c {
		case http.StatusCreated:
			created++
		case http.StatusOK:
		default:
			t.Fatalf("unexpected status %d", c)
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one 201, got %d (%v)", created, codes)
	}
	if len(h.pub.events) != 1 {
		t.Fatalf("expected one event, got %d", len(h.pub.events))
	}
}
