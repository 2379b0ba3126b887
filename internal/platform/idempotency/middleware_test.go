package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hanko-field/storefront/internal/platform/auth"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedTime }

func newRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func TestMiddleware_PassesThroughWithoutKey(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newRequest("", `{"a":1}`))
		if rr.Code != http.StatusCreated {
			t.Fatalf("unexpected status %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected both requests to reach the handler, got %d", calls)
	}
}

func TestMiddleware_RequiredKey(t *testing.T) {
	handler := Middleware(NewMemoryStore(), WithKeyRequired())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked when header is missing")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("", `{}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"order_id":"ORD-1"}`))
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newRequest("abc-123", `{"items":[]}`))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newRequest("abc-123", `{"items":[]}`))

	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
	if rr2.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", rr2.Code)
	}
	if rr2.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header")
	}
	if rr2.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected content type to be replayed, got %q", rr2.Header().Get("Content-Type"))
	}
	if rr1.Body.String() != rr2.Body.String() {
		t.Fatalf("replayed body %q differs from %q", rr2.Body.String(), rr1.Body.String())
	}
}

func TestMiddleware_KeysAreScopedPerRequester(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for _, uid := range []string{"user-a", "user-b"} {
		req := newRequest("shared", `{}`)
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected independent execution per requester, got %d", calls)
	}
}

func TestMiddleware_DifferentBodyIsRejected(t *testing.T) {
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest("same-key", `{"foo":"bar"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("same-key", `{"foo":"baz"}`))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_InFlightKeyReturnsConflict(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(fixedClock))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked while another request holds the key")
	}))

	body := []byte(`{"foo":"bar"}`)
	req := newRequest("pending-key", string(body))
	if _, _, err := store.Acquire(context.Background(), "anonymous|pending-key", fingerprintOf(req, body, "anonymous"), fixedTime, time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddleware_ServerErrorsAreNotRemembered(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("retry-me", `{}`))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("retry-me", `{}`))
	if rr.Code != http.StatusCreated || calls != 2 {
		t.Fatalf("expected retry to execute, code=%d calls=%d", rr.Code, calls)
	}
}

func TestMiddleware_CompleteFailureStillReturnsResponse(t *testing.T) {
	store := &stubStore{completeErr: errors.New("write failed")}
	var events []string
	handler := Middleware(store, WithLogger(func(_ context.Context, event string, _ map[string]any) {
		events = append(events, event)
	}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("fail-key", `{}`))

	if rr.Code != http.StatusCreated || rr.Body.String() != "ok" {
		t.Fatalf("expected handler response to be delivered, got %d %q", rr.Code, rr.Body.String())
	}
	if !store.forgotten {
		t.Fatalf("expected key to be released after persistence failure")
	}
	if len(events) != 1 || events[0] != "idempotency.complete_failed" {
		t.Fatalf("unexpected events: %v", events)
	}
}

func TestMemoryStore_ExpiredEntriesCanBeReclaimedAndSwept(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, _, err := store.Acquire(ctx, "k", "fp-1", fixedTime, time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	outcome, _, err := store.Acquire(ctx, "k", "fp-2", fixedTime.Add(2*time.Minute), time.Minute)
	if err != nil || outcome != OutcomeAcquired {
		t.Fatalf("expected expired key to be reclaimable, outcome=%v err=%v", outcome, err)
	}

	removed, err := store.Sweep(ctx, fixedTime.Add(time.Hour), 10)
	if err != nil || removed != 1 {
		t.Fatalf("expected one expired entry swept, removed=%d err=%v", removed, err)
	}
}

type stubStore struct {
	completeErr error
	forgotten   bool
}

func (s *stubStore) Acquire(context.Context, string, string, time.Time, time.Duration) (Outcome, *Response, error) {
	return OutcomeAcquired, nil, nil
}

func (s *stubStore) Complete(context.Context, string, string, Response, time.Time, time.Duration) error {
	return s.completeErr
}

func (s *stubStore) Forget(context.Context, string) error {
	s.forgotten = true
	return nil
}

func (s *stubStore) Sweep(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
