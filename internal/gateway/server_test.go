package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"MarginVenue/internal/command"
	"MarginVenue/internal/engine"
	"MarginVenue/internal/gateway"
	"MarginVenue/internal/observability"
	"MarginVenue/internal/router"
)

var testMetrics = observability.NewMetrics()

// stubSender answers every Send from a canned script.
type stubSender struct {
	lastCmd command.Command
	resp    *command.Response
	err     error
}

func (s *stubSender) Send(_ context.Context, cmd command.Command) (*command.Response, error) {
	s.lastCmd = cmd
	if s.err != nil {
		return nil, s.err
	}
	// Echo the command's correlation id like the real engine does.
	r := *s.resp
	r.CorrelationID = cmd.CorrelationID()
	return &r, nil
}

func (s *stubSender) NewCorrelationID() string { return uuid.NewString() }

func newServer(s *stubSender) *gateway.Server {
	return gateway.NewServer(s, zerolog.Nop(), testMetrics)
}

func doJSON(t *testing.T, srv *gateway.Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

// ============================================================================
// Test: happy paths
// ============================================================================

func TestSignup_Success(t *testing.T) {
	stub := &stubSender{resp: &command.Response{
		Status:      command.StatusSuccess,
		Type:        command.TypeSignup,
		UserBalance: "500000",
		Decimals:    "2",
	}}
	srv := newServer(stub)

	rec := doJSON(t, srv, "POST", "/api/v1/signup", `{"email":"alice@example.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}

	var resp command.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if resp.UserBalance != "500000" {
		t.Errorf("balance: got %q", resp.UserBalance)
	}

	sent, ok := stub.lastCmd.(*command.Signup)
	if !ok {
		t.Fatalf("sent %T, want *Signup", stub.lastCmd)
	}
	if sent.Email != "alice@example.com" {
		t.Errorf("email: got %q", sent.Email)
	}
	if sent.CorrelationId == "" {
		t.Error("command should carry a correlation id")
	}
}

func TestTradeCreate_BuildsCommand(t *testing.T) {
	stub := &stubSender{resp: &command.Response{
		Status:  command.StatusSuccess,
		Type:    command.TypeTradeCreate,
		Balance: "400000",
		OrderID: uuid.NewString(),
	}}
	srv := newServer(stub)

	rec := doJSON(t, srv, "POST", "/api/v1/trade/create",
		`{"email":"alice@example.com","asset":"BTC","type":"short","margin":1000,"leverage":5,"slippage":50}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}

	sent := stub.lastCmd.(*command.TradeCreate)
	if sent.Asset != "BTC" || sent.Side != 2 || sent.Margin != 1000 || sent.Leverage != 5 {
		t.Errorf("bad command: %+v", sent)
	}
}

func TestTradeClose_BuildsCommand(t *testing.T) {
	orderID := uuid.NewString()
	stub := &stubSender{resp: &command.Response{
		Status:  command.StatusSuccess,
		Type:    command.TypeTradeClose,
		Balance: "550000",
		PnL:     "50000",
	}}
	srv := newServer(stub)

	rec := doJSON(t, srv, "POST", "/api/v1/trade/close",
		`{"email":"alice@example.com","orderId":"`+orderID+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}

	sent := stub.lastCmd.(*command.TradeClose)
	if sent.OrderID.String() != orderID {
		t.Errorf("order id: got %s, want %s", sent.OrderID, orderID)
	}
}

func TestBalance_QueryParam(t *testing.T) {
	stub := &stubSender{resp: &command.Response{
		Status:  command.StatusSuccess,
		Type:    command.TypeGetBalanceUSD,
		Balance: "500000",
	}}
	srv := newServer(stub)

	rec := doJSON(t, srv, "GET", "/api/v1/balance?email=alice@example.com", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}

	sent := stub.lastCmd.(*command.GetBalanceUSD)
	if sent.Email != "alice@example.com" {
		t.Errorf("email: got %q", sent.Email)
	}
}

// ============================================================================
// Test: validation
// ============================================================================

func TestValidation_BadRequests(t *testing.T) {
	srv := newServer(&stubSender{resp: &command.Response{Status: command.StatusSuccess}})

	cases := []struct {
		name, method, path, body string
	}{
		{"signup missing email", "POST", "/api/v1/signup", `{}`},
		{"signup bad json", "POST", "/api/v1/signup", `{`},
		{"create bad side", "POST", "/api/v1/trade/create", `{"email":"a@b.c","asset":"BTC","type":"sideways","margin":1,"leverage":1}`},
		{"create zero margin", "POST", "/api/v1/trade/create", `{"email":"a@b.c","asset":"BTC","type":"long","margin":0,"leverage":1}`},
		{"close bad order id", "POST", "/api/v1/trade/close", `{"email":"a@b.c","orderId":"nope"}`},
		{"balance missing email", "GET", "/api/v1/balance", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, srv, tc.method, tc.path, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status %d, want 400", rec.Code)
			}
		})
	}
}

// ============================================================================
// Test: error mapping
// ============================================================================

func TestErrorMapping_EngineErrors(t *testing.T) {
	cases := []struct {
		engineErr string
		status    int
	}{
		{engine.ErrAlreadyExists.Error(), http.StatusConflict},
		{engine.ErrUserNotFound.Error(), http.StatusNotFound},
		{engine.ErrOrderNotFound.Error(), http.StatusNotFound},
		{engine.ErrInsufficientBalance.Error(), http.StatusUnprocessableEntity},
		{engine.ErrPriceUnavailable.Error(), http.StatusUnprocessableEntity},
		{"something novel", http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.engineErr, func(t *testing.T) {
			stub := &stubSender{resp: &command.Response{
				Status: command.StatusError,
				Type:   command.TypeSignup,
				Error:  tc.engineErr,
			}}
			srv := newServer(stub)

			rec := doJSON(t, srv, "POST", "/api/v1/signup", `{"email":"alice@example.com"}`)
			if rec.Code != tc.status {
				t.Errorf("status %d, want %d", rec.Code, tc.status)
			}
			if !strings.Contains(rec.Body.String(), tc.engineErr) {
				t.Errorf("engine error string should pass through: %s", rec.Body)
			}
		})
	}
}

func TestErrorMapping_Timeout(t *testing.T) {
	stub := &stubSender{err: router.ErrTimeout}
	srv := newServer(stub)

	rec := doJSON(t, srv, "POST", "/api/v1/signup", `{"email":"alice@example.com"}`)
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status %d, want 504", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv := newServer(&stubSender{})
	rec := doJSON(t, srv, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status %d, want 200", rec.Code)
	}
}
