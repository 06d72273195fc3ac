// Package mockmp provides a mock Mercado Pago API server for testing.
package mockmp

import (
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/sipico/checklist-bff/internal/mercadopago"
)

// State holds the internal mock server state.
type State struct {
	mu          sync.RWMutex
	payments    map[string]*mercadopago.Payment
	lookups     map[string]int
	preferences []mercadopago.PreferenceRequest
	nextPrefID  int
	failNext    int
}

// NewState creates an empty State.
func NewState() *State {
	return &State{
		payments:   make(map[string]*mercadopago.Payment),
		lookups:    make(map[string]int),
		nextPrefID: 1,
	}
}

// Mock is the mock API as an http.Handler, usable without a listener.
type Mock struct {
	state       *State
	accessToken string
	router      chi.Router
}

// NewMock builds the handler. An empty accessToken accepts any bearer token.
func NewMock(accessToken string) *Mock {
	m := &Mock{
		state:       NewState(),
		accessToken: accessToken,
	}

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(m.requireToken)
		r.Get("/v1/payments/{id}", m.handleGetPayment)
		r.Post("/checkout/preferences", m.handleCreatePreference)
	})
	r.Route("/admin", func(r chi.Router) {
		r.Post("/payments", m.handleAdminAddPayment)
		r.Get("/preferences", m.handleAdminPreferences)
		r.Post("/fail", m.handleAdminFail)
		r.Post("/notify", m.handleAdminNotify)
		r.Delete("/reset", m.handleAdminReset)
		r.Get("/state", m.handleAdminState)
	})
	m.router = r

	return m
}

// ServeHTTP implements http.Handler.
func (m *Mock) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.router.ServeHTTP(w, r)
}

// Server is a mock Mercado Pago API listening on a local port.
type Server struct {
	*httptest.Server
	*Mock
}

// New starts a mock server that requires accessToken as the bearer token.
func New(accessToken string) *Server {
	m := NewMock(accessToken)
	return &Server{
		Server: httptest.NewServer(m),
		Mock:   m,
	}
}
