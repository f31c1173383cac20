package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"MarginVenue/internal/command"
	"MarginVenue/internal/engine"
	"MarginVenue/internal/observability"
	"MarginVenue/internal/router"
	"MarginVenue/internal/state"
)

// Sender submits a command and waits for its correlated response.
// Satisfied by *router.Router; stubbed in tests.
type Sender interface {
	Send(ctx context.Context, cmd command.Command) (*command.Response, error)
	NewCorrelationID() string
}

// Server exposes the venue's request/response commands over HTTP.
type Server struct {
	sender  Sender
	router  *mux.Router
	log     zerolog.Logger
	metrics *observability.Metrics
}

// NewServer creates the HTTP gateway.
func NewServer(sender Sender, log zerolog.Logger, metrics *observability.Metrics) *Server {
	s := &Server{
		sender:  sender,
		router:  mux.NewRouter(),
		log:     log,
		metrics: metrics,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/signup", s.instrument("signup", s.handleSignup)).Methods("POST")
	api.HandleFunc("/signin", s.instrument("signin", s.handleSignin)).Methods("POST")
	api.HandleFunc("/trade/create", s.instrument("trade_create", s.handleTradeCreate)).Methods("POST")
	api.HandleFunc("/trade/close", s.instrument("trade_close", s.handleTradeClose)).Methods("POST")
	api.HandleFunc("/balance", s.instrument("balance", s.handleBalance)).Methods("GET")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})
	return c.Handler(s.router)
}

// Start starts the gateway server.
func (s *Server) Start(addr string) error {
	s.log.Info().Str("addr", addr).Msg("gateway listening")
	return http.ListenAndServe(addr, s.Handler())
}

// instrument wraps a handler with request metrics.
func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		s.metrics.APIRequests.WithLabelValues(endpoint, strconv.Itoa(sw.status)).Inc()
		s.metrics.APIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// ==============================
// Request / response bodies
// ==============================

type signupRequest struct {
	Email string `json:"email"`
}

type tradeCreateRequest struct {
	Email    string `json:"email"`
	Asset    string `json:"asset"`
	Type     string `json:"type"`
	Margin   int64  `json:"margin"`
	Leverage int64  `json:"leverage"`
	Slippage int64  `json:"slippage"`
}

type tradeCloseRequest struct {
	Email   string `json:"email"`
	OrderID string `json:"orderId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ==============================
// Handlers
// ==============================

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, "missing email")
		return
	}

	cmd := &command.Signup{
		Email:         req.Email,
		CorrelationId: s.sender.NewCorrelationID(),
		IssuedAt:      time.Now().UTC(),
	}
	s.forward(w, r, cmd)
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, "missing email")
		return
	}

	cmd := &command.Signin{
		Email:         req.Email,
		CorrelationId: s.sender.NewCorrelationID(),
		IssuedAt:      time.Now().UTC(),
	}
	s.forward(w, r, cmd)
}

func (s *Server) handleTradeCreate(w http.ResponseWriter, r *http.Request) {
	var req tradeCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Asset == "" {
		respondError(w, http.StatusBadRequest, "missing email or asset")
		return
	}
	side, ok := state.ParseSide(req.Type)
	if !ok {
		respondError(w, http.StatusBadRequest, "type must be long or short")
		return
	}
	if req.Margin <= 0 || req.Leverage <= 0 {
		respondError(w, http.StatusBadRequest, "margin and leverage must be positive")
		return
	}

	cmd := &command.TradeCreate{
		Email:         req.Email,
		Asset:         req.Asset,
		Side:          side,
		Margin:        req.Margin,
		Leverage:      req.Leverage,
		Slippage:      req.Slippage,
		CorrelationId: s.sender.NewCorrelationID(),
		IssuedAt:      time.Now().UTC(),
	}
	s.forward(w, r, cmd)
}

func (s *Server) handleTradeClose(w http.ResponseWriter, r *http.Request) {
	var req tradeCloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, "missing email")
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid orderId")
		return
	}

	cmd := &command.TradeClose{
		Email:         req.Email,
		OrderID:       orderID,
		CorrelationId: s.sender.NewCorrelationID(),
		IssuedAt:      time.Now().UTC(),
	}
	s.forward(w, r, cmd)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		respondError(w, http.StatusBadRequest, "missing email")
		return
	}

	cmd := &command.GetBalanceUSD{
		Email:         email,
		CorrelationId: s.sender.NewCorrelationID(),
		IssuedAt:      time.Now().UTC(),
	}
	s.forward(w, r, cmd)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// forward sends the command through the router and translates the outcome
// to HTTP. Engine errors keep their wire strings; only the status code is
// the gateway's interpretation.
func (s *Server) forward(w http.ResponseWriter, r *http.Request, cmd command.Command) {
	resp, err := s.sender.Send(r.Context(), cmd)
	if err != nil {
		if errors.Is(err, router.ErrTimeout) {
			respondError(w, http.StatusGatewayTimeout, "engine did not respond in time")
			return
		}
		s.log.Error().Err(err).Str("type", string(cmd.CommandType())).Msg("send failed")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if resp.Status == command.StatusError {
		respondJSON(w, engineErrorStatus(resp.Error), errorResponse{Error: resp.Error})
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// engineErrorStatus maps engine error strings to HTTP status codes.
func engineErrorStatus(msg string) int {
	switch msg {
	case engine.ErrAlreadyExists.Error():
		return http.StatusConflict
	case engine.ErrUserNotFound.Error(), engine.ErrOrderNotFound.Error():
		return http.StatusNotFound
	case engine.ErrInsufficientBalance.Error(), engine.ErrPriceUnavailable.Error():
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ==============================
// Helpers
// ==============================

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}
