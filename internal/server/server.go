// Package server is the HTTP entry point. It parses inbound requests, hands them to
// the gateway, and serializes the stable response envelope.
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/draiv/vehicle-gateway/internal/log"
	"github.com/draiv/vehicle-gateway/internal/metrics"
	"github.com/draiv/vehicle-gateway/pkg/apierr"
	"github.com/draiv/vehicle-gateway/pkg/gateway"
)

// MaxRequestBodyLength bounds command bodies. Nothing legitimate comes close.
const MaxRequestBodyLength = 1 << 20

type envelope struct {
	Success           bool            `json:"success"`
	Data              json.RawMessage `json:"data,omitempty"`
	ErrorCode         string          `json:"errorCode,omitempty"`
	ErrorMessage      string          `json:"errorMessage,omitempty"`
	RetryAfterSeconds int             `json:"retryAfterSeconds,omitempty"`
}

type commandBody struct {
	PIN       string                 `json:"pin"`
	Challenge string                 `json:"challenge"`
	Params    map[string]interface{} `json:"params"`
}

// Server routes HTTP traffic into the gateway.
type Server struct {
	gateway *gateway.Gateway
	metrics *metrics.Metrics
	router  chi.Router
}

// New builds the router. metrics may be nil (no /metrics endpoint, no HTTP counters).
func New(g *gateway.Gateway, m *metrics.Metrics) *Server {
	s := &Server{gateway: g, metrics: m}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	r.Route("/api/1", func(r chi.Router) {
		r.Get("/vehicles/{vin}/{action}", s.handleRead)
		r.Post("/vehicles/{vin}/command/{action}", s.handleCommand)
		r.Post("/logout", s.handleLogout)
	})
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	if !gateway.IsReadAction(action) {
		writeError(w, apierr.Newf(apierr.CodeValidation, "unknown read action %q", action))
		return
	}
	req, ok := s.baseRequest(w, r)
	if !ok {
		return
	}
	req.Action = action
	s.execute(w, r, req)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	req, ok := s.baseRequest(w, r)
	if !ok {
		return
	}
	req.Action = chi.URLParam(r, "action")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodyLength))
	if err != nil {
		writeError(w, apierr.Newf(apierr.CodeValidation, "could not read request body: %s", err))
		return
	}
	if len(body) > 0 {
		var cmd commandBody
		if err := json.Unmarshal(body, &cmd); err != nil {
			writeError(w, apierr.Newf(apierr.CodeValidation, "could not parse JSON body: %s", err))
			return
		}
		req.PIN = cmd.PIN
		req.Challenge = cmd.Challenge
		req.Params = cmd.Params
	}
	s.execute(w, r, req)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	req, ok := s.baseRequest(w, r)
	if !ok {
		return
	}
	s.gateway.Logout(req.OwnerID)
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type breakerHealth struct {
		Key   string `json:"key"`
		State string `json:"state"`
	}
	var breakers []breakerHealth
	for _, snap := range s.gateway.Breakers().Snapshots() {
		breakers = append(breakers, breakerHealth{Key: snap.Key, State: snap.State.String()})
	}
	data, err := json.Marshal(map[string]interface{}{"breakers": breakers})
	if err != nil {
		writeError(w, apierr.Wrap(apierr.CodeInternal, err))
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

// baseRequest extracts credentials and the vehicle identifier. Credentials arrive as
// HTTP basic auth; the owner identity defaults to the username unless X-Owner-ID
// overrides it (fleet accounts managing several owners).
func (s *Server) baseRequest(w http.ResponseWriter, r *http.Request) (gateway.Request, bool) {
	username, password, ok := r.BasicAuth()
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="vehicle-gateway"`)
		writeError(w, apierr.New(apierr.CodeAuthentication, "missing credentials"))
		return gateway.Request{}, false
	}
	owner := r.Header.Get("X-Owner-ID")
	if owner == "" {
		owner = username
	}
	return gateway.Request{
		OwnerID:    owner,
		Username:   username,
		Password:   password,
		ResourceID: chi.URLParam(r, "vin"),
	}, true
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request, req gateway.Request) {
	result, err := s.gateway.Execute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: result.Data})
}

func writeError(w http.ResponseWriter, err error) {
	apiErr := apierr.AsError(err)
	status := apierr.HTTPStatus(apiErr.Code)
	if secs := apiErr.RetryAfterSeconds(); secs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	if status >= http.StatusInternalServerError {
		log.Error("Request failed: %s", apiErr)
	}
	writeJSON(w, status, envelope{
		ErrorCode:         string(apiErr.Code),
		ErrorMessage:      apiErr.Message,
		RetryAfterSeconds: apiErr.RetryAfterSeconds(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("Failed to write response: %s", err)
	}
}

// observe emits per-request logs and metrics with the chi route pattern as the
// cardinality-safe label.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		route := chi.RouteContext(r.Context()).RoutePattern()
		log.Debug("%s %s -> %d (%s)", r.Method, r.URL.Path, ww.Status(), elapsed)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(r.Method, route, ww.Status(), elapsed)
		}
	})
}
