// Package gateway exposes the saga engine over HTTP: start and signal
// endpoints, a status query, and a WebSocket feed of lifecycle events.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"orderline/internal/observability"
	"orderline/internal/orders"
	"orderline/internal/realtime"
	"orderline/internal/saga"
)

// Engine is the saga surface the gateway drives.
type Engine interface {
	StartOrder(orderID string, input saga.OrderInput) (*saga.Instance, error)
	Signal(sagaID string, sig saga.Signal) error
	Lookup(sagaID string) (*saga.Instance, error)
}

// OrderReader reads persisted orders for the status endpoint.
type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (orders.Order, bool, error)
}

// Server handles the HTTP front door.
type Server struct {
	engine   Engine
	store    OrderReader
	hub      *realtime.Hub
	metrics  *observability.Metrics
	logf     func(format string, args ...any)
	upgrader websocket.Upgrader
}

// NewServer constructs a Server. hub and metrics may be nil.
func NewServer(engine Engine, store OrderReader, hub *realtime.Hub, metrics *observability.Metrics, logf func(format string, args ...any)) *Server {
	if logf == nil {
		logf = log.Printf
	}
	return &Server{
		engine:  engine,
		store:   store,
		hub:     hub,
		metrics: metrics,
		logf:    logf,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /orders/{id}/start", s.handleStart)
	mux.HandleFunc("POST /orders/{id}/signals/cancel", s.handleCancel)
	mux.HandleFunc("POST /orders/{id}/signals/approve", s.handleApprove)
	mux.HandleFunc("POST /orders/{id}/signals/update-address", s.handleUpdateAddress)
	mux.HandleFunc("GET /orders/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /orders/watch", s.handleWatch)
	return mux
}

// StartOrderRequest is the body of POST /orders/{id}/start.
type StartOrderRequest struct {
	PaymentID string         `json:"payment_id"`
	Items     []saga.Item    `json:"items"`
	Address   map[string]any `json:"address,omitempty"`
}

// UpdateAddressRequest is the body of POST /orders/{id}/signals/update-address.
type UpdateAddressRequest struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
	Country string `json:"country"`
}

// OrderResponse is the envelope returned by the mutating endpoints.
type OrderResponse struct {
	OrderID    string `json:"order_id"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

// StatusResponse merges the live saga snapshot with the persisted order.
type StatusResponse struct {
	OrderID          string           `json:"order_id"`
	WorkflowID       string           `json:"workflow_id"`
	Saga             saga.QueryResult `json:"saga"`
	Terminal         bool             `json:"terminal"`
	Outcome          *saga.Result     `json:"outcome,omitempty"`
	OrderState       string           `json:"order_state,omitempty"`
	ShippingAddress  map[string]any   `json:"shipping_address,omitempty"`
	PersistedInStore bool             `json:"persisted_in_store"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"service": "orderline", "docs": "/health, /orders/{id}/start, /orders/{id}/status"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	span := s.metrics.Start("gateway.StartOrder")
	orderID := r.PathValue("id")

	var req StartOrderRequest
	if err := decodeBody(r, &req, true); err != nil {
		span.End(err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PaymentID == "" {
		req.PaymentID = "payment-" + orderID
	}

	in, err := s.engine.StartOrder(orderID, saga.OrderInput{
		PaymentID: req.PaymentID,
		Items:     req.Items,
		Address:   req.Address,
	})
	if err != nil {
		// Engine-reported failures, duplicate starts included, all surface
		// as 500 with the error message in the envelope.
		span.End(err)
		msg := "failed to start order"
		if errors.Is(err, saga.ErrAlreadyRunning) {
			msg = "order saga already running"
		} else {
			s.logf("start order %s: %v", orderID, err)
		}
		writeError(w, http.StatusInternalServerError, msg)
		return
	}

	span.End(nil)
	writeJSON(w, http.StatusOK, OrderResponse{
		OrderID:    orderID,
		Status:     "started",
		Message:    "Order workflow started",
		WorkflowID: in.ID(),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.signal(w, r, saga.Signal{Kind: saga.SignalCancel}, "cancellation requested")
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.signal(w, r, saga.Signal{Kind: saga.SignalApprove}, "approval sent")
}

func (s *Server) handleUpdateAddress(w http.ResponseWriter, r *http.Request) {
	span := s.metrics.Start("gateway.UpdateAddress")
	orderID := r.PathValue("id")

	var req UpdateAddressRequest
	if err := decodeBody(r, &req, false); err != nil {
		span.End(err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Country == "" {
		req.Country = "US"
	}

	sig := saga.Signal{
		Kind: saga.SignalUpdateAddress,
		Payload: map[string]any{
			"street":   req.Street,
			"city":     req.City,
			"state":    req.State,
			"zip_code": req.ZipCode,
			"country":  req.Country,
		},
	}
	if err := s.engine.Signal(saga.OrderSagaID(orderID), sig); err != nil {
		span.End(err)
		s.respondSignalError(w, orderID, err)
		return
	}

	span.End(nil)
	writeJSON(w, http.StatusOK, OrderResponse{
		OrderID:    orderID,
		Status:     "signaled",
		Message:    "address update sent",
		WorkflowID: saga.OrderSagaID(orderID),
	})
}

func (s *Server) signal(w http.ResponseWriter, r *http.Request, sig saga.Signal, message string) {
	span := s.metrics.Start("gateway." + string(sig.Kind))
	orderID := r.PathValue("id")

	if err := s.engine.Signal(saga.OrderSagaID(orderID), sig); err != nil {
		span.End(err)
		s.respondSignalError(w, orderID, err)
		return
	}

	span.End(nil)
	writeJSON(w, http.StatusOK, OrderResponse{
		OrderID:    orderID,
		Status:     "signaled",
		Message:    message,
		WorkflowID: saga.OrderSagaID(orderID),
	})
}

// respondSignalError maps every engine-reported signal failure to 500 with
// the reason in the envelope, a missing saga included.
func (s *Server) respondSignalError(w http.ResponseWriter, orderID string, err error) {
	msg := "failed to deliver signal"
	if errors.Is(err, saga.ErrNotFound) {
		msg = "no saga for order " + orderID
	} else {
		s.logf("signal order %s: %v", orderID, err)
	}
	writeError(w, http.StatusInternalServerError, msg)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	span := s.metrics.Start("gateway.Status")
	orderID := r.PathValue("id")
	sagaID := saga.OrderSagaID(orderID)

	resp := StatusResponse{OrderID: orderID, WorkflowID: sagaID}

	in, err := s.engine.Lookup(sagaID)
	switch {
	case err == nil:
		resp.Saga = in.Query()
		resp.Terminal = in.Terminal()
		if res, ok := in.Outcome(); ok {
			resp.Outcome = &res
		}
	case !errors.Is(err, saga.ErrNotFound):
		span.End(err)
		s.logf("lookup saga %s: %v", sagaID, err)
		writeError(w, http.StatusInternalServerError, "failed to query saga")
		return
	}

	if s.store != nil {
		o, found, storeErr := s.store.GetOrder(r.Context(), orderID)
		if storeErr != nil {
			span.End(storeErr)
			s.logf("load order %s: %v", orderID, storeErr)
			writeError(w, http.StatusInternalServerError, "failed to load order")
			return
		}
		if found {
			resp.PersistedInStore = true
			resp.OrderState = o.State
			resp.ShippingAddress = o.Address
		}
	}

	if err != nil && !resp.PersistedInStore {
		span.End(err)
		writeError(w, http.StatusInternalServerError, "unknown order "+orderID)
		return
	}

	span.End(nil)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event feed disabled")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logf("websocket upgrade: %v", err)
		return
	}
	s.hub.Register <- conn

	// Drain reads so pings and close frames are processed; the hub owns writes.
	go func() {
		defer func() { s.hub.Unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func decodeBody(r *http.Request, dst any, optional bool) error {
	if r.Body == nil || r.ContentLength == 0 {
		if optional {
			return nil
		}
		return errors.New("request body required")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
