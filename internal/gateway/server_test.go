package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"orderline/internal/orders"
	"orderline/internal/saga"
)

func quietLogf(string, ...any) {}

func testConfig() saga.Config {
	return saga.Config{
		StepTimeout:     200 * time.Millisecond,
		ApprovalTimeout: 500 * time.Millisecond,
		AddressTimeout:  200 * time.Millisecond,
		Retry: saga.RetryPolicy{
			MaxAttempts:       2,
			InitialBackoff:    time.Millisecond,
			BackoffMultiplier: 2,
			MaxBackoff:        4 * time.Millisecond,
		},
	}
}

func newTestServer(t *testing.T) (*Server, *saga.Supervisor, *orders.MemoryStore) {
	t.Helper()

	store := orders.NewMemoryStore()
	acts := orders.NewActivities(store, orders.NoFaults{}, quietLogf)
	sup := saga.NewSupervisor(acts, testConfig(),
		saga.WithLogf(quietLogf),
		saga.WithExecutor(saga.NewExecutor(saga.WithExecutorLogf(quietLogf))),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})

	return NewServer(sup, store, nil, nil, quietLogf), sup, store
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func awaitOutcome(t *testing.T, sup *saga.Supervisor, sagaID string) saga.Result {
	t.Helper()

	in, err := sup.Lookup(sagaID)
	if err != nil {
		t.Fatalf("lookup %s: %v", sagaID, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := in.Result(ctx)
	if err != nil {
		t.Fatalf("await %s: %v", sagaID, err)
	}
	return res
}

func TestServer_StartAndComplete(t *testing.T) {
	t.Parallel()

	srv, sup, store := newTestServer(t)
	handler := srv.Handler()

	rr := doRequest(t, handler, http.MethodPost, "/orders/g1/start", StartOrderRequest{
		PaymentID: "pay-g1",
		Items:     []saga.Item{{SKU: "X", Qty: 2}},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rr.Code, rr.Body.String())
	}
	started := decodeResponse[OrderResponse](t, rr)
	if started.WorkflowID != "order-g1" || started.Status != "started" {
		t.Fatalf("unexpected start response: %+v", started)
	}

	rr = doRequest(t, handler, http.MethodPost, "/orders/g1/signals/approve", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", rr.Code, rr.Body.String())
	}

	res := awaitOutcome(t, sup, "order-g1")
	if res.Status != saga.StatusCompleted {
		t.Fatalf("unexpected outcome: %+v", res)
	}
	if state, _ := store.OrderState("g1"); state != orders.OrderStateShipped {
		t.Fatalf("unexpected stored state: %q", state)
	}

	rr = doRequest(t, handler, http.MethodGet, "/orders/g1/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d %s", rr.Code, rr.Body.String())
	}
	status := decodeResponse[StatusResponse](t, rr)
	if !status.Terminal || status.Outcome == nil || status.Outcome.Status != saga.StatusCompleted {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.OrderState != orders.OrderStateShipped || !status.PersistedInStore {
		t.Fatalf("status missing store view: %+v", status)
	}
}

func TestServer_DuplicateStartReportsError(t *testing.T) {
	t.Parallel()

	srv, sup, _ := newTestServer(t)
	handler := srv.Handler()

	if rr := doRequest(t, handler, http.MethodPost, "/orders/g2/start", nil); rr.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rr.Code, rr.Body.String())
	}
	rr := doRequest(t, handler, http.MethodPost, "/orders/g2/start", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for duplicate start, got %d", rr.Code)
	}
	if body := decodeResponse[map[string]string](t, rr); body["error"] == "" {
		t.Fatalf("expected an error message, got %q", rr.Body.String())
	}

	// Default items keep the saga valid; let it finish.
	if rr := doRequest(t, handler, http.MethodPost, "/orders/g2/signals/approve", nil); rr.Code != http.StatusOK {
		t.Fatalf("approve: %d", rr.Code)
	}
	awaitOutcome(t, sup, "order-g2")
}

func TestServer_CancelDuringApprovalWait(t *testing.T) {
	t.Parallel()

	srv, sup, _ := newTestServer(t)
	handler := srv.Handler()

	if rr := doRequest(t, handler, http.MethodPost, "/orders/g3/start", nil); rr.Code != http.StatusOK {
		t.Fatalf("start: %d", rr.Code)
	}
	if rr := doRequest(t, handler, http.MethodPost, "/orders/g3/signals/cancel", nil); rr.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", rr.Code, rr.Body.String())
	}

	res := awaitOutcome(t, sup, "order-g3")
	if res.Status != saga.StatusCancelled {
		t.Fatalf("unexpected outcome: %+v", res)
	}
}

func TestServer_UpdateAddressDefaultsCountry(t *testing.T) {
	t.Parallel()

	srv, sup, store := newTestServer(t)
	handler := srv.Handler()

	if rr := doRequest(t, handler, http.MethodPost, "/orders/g4/start", nil); rr.Code != http.StatusOK {
		t.Fatalf("start: %d", rr.Code)
	}

	rr := doRequest(t, handler, http.MethodPost, "/orders/g4/signals/update-address", UpdateAddressRequest{
		Street: "1 Rue", City: "Lyon", State: "RA", ZipCode: "69000",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("update-address: %d %s", rr.Code, rr.Body.String())
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		addr := store.Address("g4")
		if addr["country"] == "US" && addr["city"] == "Lyon" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("address never persisted: %+v", addr)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if rr := doRequest(t, handler, http.MethodPost, "/orders/g4/signals/approve", nil); rr.Code != http.StatusOK {
		t.Fatalf("approve: %d", rr.Code)
	}
	awaitOutcome(t, sup, "order-g4")
}

func TestServer_SignalUnknownOrderReportsError(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	rr := doRequest(t, handler, http.MethodPost, "/orders/nope/signals/approve", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unknown order, got %d", rr.Code)
	}
	if body := decodeResponse[map[string]string](t, rr); body["error"] == "" {
		t.Fatalf("expected an error message, got %q", rr.Body.String())
	}
}

func TestServer_StatusUnknownOrder(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	if rr := doRequest(t, handler, http.MethodGet, "/orders/nope/status", nil); rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unknown order, got %d", rr.Code)
	}
}

func TestServer_HealthAndRoot(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	if rr := doRequest(t, handler, http.MethodGet, "/health", nil); rr.Code != http.StatusOK {
		t.Fatalf("health: %d", rr.Code)
	}
	if rr := doRequest(t, handler, http.MethodGet, "/", nil); rr.Code != http.StatusOK {
		t.Fatalf("root: %d", rr.Code)
	}
}

func TestServer_WatchWithoutHub(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	if rr := doRequest(t, handler, http.MethodGet, "/orders/watch", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a hub, got %d", rr.Code)
	}
}
