package engine_test

import (
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"MarginVenue/internal/command"
	"MarginVenue/internal/engine"
)

func newEngine() *engine.Engine {
	return engine.New(zerolog.Nop(), nil)
}

func mustSignup(t *testing.T, e *engine.Engine, email string) *command.Response {
	t.Helper()
	resp := e.Apply(&command.Signup{Email: email, CorrelationId: uuid.NewString()})
	if resp.Status != command.StatusSuccess {
		t.Fatalf("signup %s failed: %s", email, resp.Error)
	}
	return resp
}

func applyPrice(e *engine.Engine, asset string, price int64, decimals int32) {
	e.Apply(&command.PriceUpdate{Updates: []command.PriceTick{
		{Asset: asset, Price: price, Decimal: decimals},
	}})
}

func mustOpen(t *testing.T, e *engine.Engine, email, asset string, side string, margin, leverage int64) (uuid.UUID, *command.Response) {
	t.Helper()
	cmd := &command.TradeCreate{
		Email:         email,
		Asset:         asset,
		Margin:        margin,
		Leverage:      leverage,
		CorrelationId: uuid.NewString(),
	}
	if side == "short" {
		cmd.Side = 2
	} else {
		cmd.Side = 1
	}
	resp := e.Apply(cmd)
	if resp.Status != command.StatusSuccess {
		t.Fatalf("trade_create failed: %s", resp.Error)
	}
	orderID, err := uuid.Parse(resp.OrderID)
	if err != nil {
		t.Fatalf("bad order id %q: %v", resp.OrderID, err)
	}
	return orderID, resp
}

func mustClose(t *testing.T, e *engine.Engine, email string, orderID uuid.UUID) *command.Response {
	t.Helper()
	resp := e.Apply(&command.TradeClose{
		Email:         email,
		OrderID:       orderID,
		CorrelationId: uuid.NewString(),
	})
	if resp.Status != command.StatusSuccess {
		t.Fatalf("trade_close failed: %s", resp.Error)
	}
	return resp
}

func balanceOf(t *testing.T, resp *command.Response) int64 {
	t.Helper()
	field := resp.Balance
	if field == "" {
		field = resp.UserBalance
	}
	v, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		t.Fatalf("bad balance %q: %v", field, err)
	}
	return v
}

// ============================================================================
// Test: signup / signin
// ============================================================================

func TestSignup_SeedsBalance(t *testing.T) {
	e := newEngine()
	resp := mustSignup(t, e, "alice@example.com")

	if got := balanceOf(t, resp); got != 500000 {
		t.Errorf("seed balance: got %d, want 500000", got)
	}
	if resp.Decimals != "2" {
		t.Errorf("decimals: got %q, want \"2\"", resp.Decimals)
	}
}

func TestSignup_DuplicateRejected(t *testing.T) {
	e := newEngine()
	mustSignup(t, e, "alice@example.com")

	resp := e.Apply(&command.Signup{Email: "alice@example.com", CorrelationId: uuid.NewString()})
	if resp.Status != command.StatusError {
		t.Fatal("duplicate signup should fail")
	}
	if resp.Error != engine.ErrAlreadyExists.Error() {
		t.Errorf("got error %q, want %q", resp.Error, engine.ErrAlreadyExists.Error())
	}

	// The existing account is untouched.
	signin := e.Apply(&command.Signin{Email: "alice@example.com", CorrelationId: uuid.NewString()})
	if got := balanceOf(t, signin); got != 500000 {
		t.Errorf("balance after duplicate signup: got %d, want 500000", got)
	}
}

func TestSignin_UnknownUser(t *testing.T) {
	e := newEngine()
	resp := e.Apply(&command.Signin{Email: "ghost@example.com", CorrelationId: uuid.NewString()})
	if resp.Status != command.StatusError || resp.Error != engine.ErrUserNotFound.Error() {
		t.Errorf("got (%s, %q), want user not found error", resp.Status, resp.Error)
	}
}

// ============================================================================
// Test: trade lifecycle
// ============================================================================

func TestTradeLifecycle_ProfitableLong(t *testing.T) {
	e := newEngine()
	mustSignup(t, e, "alice@example.com")
	applyPrice(e, "BTC", 5000000, 4) // 500.0000

	// 1000 USD margin at 5x buys 10.0000 BTC.
	orderID, openResp := mustOpen(t, e, "alice@example.com", "BTC", "long", 1000, 5)
	if got := balanceOf(t, openResp); got != 400000 {
		t.Errorf("balance after open: got %d, want 400000", got)
	}

	// Price moves 500 -> 550; PnL = 50 * 10 = 500 USD.
	applyPrice(e, "BTC", 5500000, 4)
	closeResp := mustClose(t, e, "alice@example.com", orderID)

	if closeResp.PnL != "50000" {
		t.Errorf("pnl: got %q, want \"50000\"", closeResp.PnL)
	}
	if got := balanceOf(t, closeResp); got != 550000 {
		t.Errorf("balance after close: got %d, want 550000", got)
	}
}

func TestTradeLifecycle_ShortProfitsOnDrop(t *testing.T) {
	e := newEngine()
	mustSignup(t, e, "bob@example.com")
	applyPrice(e, "ETH", 2000000, 4) // 200.0000

	orderID, _ := mustOpen(t, e, "bob@example.com", "ETH", "short", 500, 2)

	applyPrice(e, "ETH", 1900000, 4) // 190.0000
	closeResp := mustClose(t, e, "bob@example.com", orderID)

	// Size = 500*2/200 = 5.0000 ETH; PnL = 10 * 5 = 50 USD.
	if closeResp.PnL != "5000" {
		t.Errorf("pnl: got %q, want \"5000\"", closeResp.PnL)
	}
	if got := balanceOf(t, closeResp); got != 505000 {
		t.Errorf("balance: got %d, want 505000", got)
	}
}

func TestTradeClose_FlatPriceConservesBalance(t *testing.T) {
	e := newEngine()
	mustSignup(t, e, "alice@example.com")
	applyPrice(e, "BTC", 5000000, 4)

	orderID, _ := mustOpen(t, e, "alice@example.com", "BTC", "long", 1000, 5)
	closeResp := mustClose(t, e, "alice@example.com", orderID)

	if closeResp.PnL != "0" {
		t.Errorf("pnl: got %q, want \"0\"", closeResp.PnL)
	}
	if got := balanceOf(t, closeResp); got != 500000 {
		t.Errorf("balance: got %d, want 500000", got)
	}
}

func TestTradeClose_LossClampedAtMargin(t *testing.T) {
	e := newEngine()
	mustSignup(t, e, "alice@example.com")
	applyPrice(e, "BTC", 5000000, 4)

	orderID, _ := mustOpen(t, e, "alice@example.com", "BTC", "long", 1000, 5)

	// Price collapses; raw loss far exceeds posted margin.
	applyPrice(e, "BTC", 100, 4)
	closeResp := mustClose(t, e, "alice@example.com", orderID)

	if closeResp.PnL != "-100000" {
		t.Errorf("pnl: got %q, want \"-100000\"", closeResp.PnL)
	}
	// Loss stops at the margin: balance returns to 4000, never below.
	if got := balanceOf(t, closeResp); got != 400000 {
		t.Errorf("balance: got %d, want 400000", got)
	}
}

func TestTradeClose_SecondCloseRejected(t *testing.T) {
	e := newEngine()
	mustSignup(t, e, "alice@example.com")
	applyPrice(e, "BTC", 5000000, 4)

	orderID, _ := mustOpen(t, e, "alice@example.com", "BTC", "long", 1000, 5)
	mustClose(t, e, "alice@example.com", orderID)

	resp := e.Apply(&command.TradeClose{
		Email:         "alice@example.com",
		OrderID:       orderID,
		CorrelationId: uuid.NewString(),
	})
	if resp.Status != command.StatusError || resp.Error != engine.ErrOrderNotFound.Error() {
		t.Errorf("got (%s, %q), want order not found error", resp.Status, resp.Error)
	}

	// Balance unchanged by the rejected close.
	signin := e.Apply(&command.Signin{Email: "alice@example.com", CorrelationId: uuid.NewString()})
	if got := balanceOf(t, signin); got != 500000 {
		t.Errorf("balance: got %d, want 500000", got)
	}
}

func TestTradeCreate_InsufficientBalance(t *testing.T) {
	e := newEngine()
	mustSignup(t, e, "alice@example.com")
	applyPrice(e, "BTC", 5000000, 4)

	resp := e.Apply(&command.TradeCreate{
		Email:         "alice@example.com",
		Asset:         "BTC",
		Side:          1,
		Margin:        6000,
		Leverage:      2,
		CorrelationId: uuid.NewString(),
	})
	if resp.Status != command.StatusError || resp.Error != engine.ErrInsufficientBalance.Error() {
		t.Errorf("got (%s, %q), want insufficient balance error", resp.Status, resp.Error)
	}

	signin := e.Apply(&command.Signin{Email: "alice@example.com", CorrelationId: uuid.NewString()})
	if got := balanceOf(t, signin); got != 500000 {
		t.Errorf("balance mutated by rejected open: got %d, want 500000", got)
	}
}

func TestTradeCreate_PriceUnavailable(t *testing.T) {
	e := newEngine()
	mustSignup(t, e, "alice@example.com")

	resp := e.Apply(&command.TradeCreate{
		Email:         "alice@example.com",
		Asset:         "DOGE",
		Side:          1,
		Margin:        100,
		Leverage:      2,
		CorrelationId: uuid.NewString(),
	})
	if resp.Status != command.StatusError || resp.Error != engine.ErrPriceUnavailable.Error() {
		t.Errorf("got (%s, %q), want price unavailable error", resp.Status, resp.Error)
	}
}

func TestTradeClose_PriceUnavailableKeepsOrderOpen(t *testing.T) {
	e := newEngine()
	mustSignup(t, e, "alice@example.com")
	applyPrice(e, "BTC", 5000000, 4)
	orderID, _ := mustOpen(t, e, "alice@example.com", "BTC", "long", 1000, 5)

	// Zero price means the quote is unusable for settlement.
	applyPrice(e, "BTC", 0, 4)
	resp := e.Apply(&command.TradeClose{
		Email:         "alice@example.com",
		OrderID:       orderID,
		CorrelationId: uuid.NewString(),
	})
	if resp.Status != command.StatusError || resp.Error != engine.ErrPriceUnavailable.Error() {
		t.Errorf("got (%s, %q), want price unavailable error", resp.Status, resp.Error)
	}

	// The order survives and closes once a usable quote returns.
	applyPrice(e, "BTC", 5000000, 4)
	mustClose(t, e, "alice@example.com", orderID)
}

// ============================================================================
// Test: price updates
// ============================================================================

func TestPriceUpdate_NoResponse(t *testing.T) {
	e := newEngine()
	resp := e.Apply(&command.PriceUpdate{Updates: []command.PriceTick{
		{Asset: "BTC", Price: 5000000, Decimal: 4},
	}})
	if resp != nil {
		t.Errorf("price_update should produce no response, got %+v", resp)
	}
}

func TestPriceUpdate_LastWriteWins(t *testing.T) {
	e := newEngine()
	mustSignup(t, e, "alice@example.com")

	applyPrice(e, "BTC", 5000000, 4)
	applyPrice(e, "BTC", 6000000, 4)

	// Open at the later price: 600 * 10 = 6000 notional, size 1.6667 BTC
	// for 1000 margin at 1x. Easier check: flat close yields zero PnL.
	orderID, _ := mustOpen(t, e, "alice@example.com", "BTC", "long", 1000, 1)
	closeResp := mustClose(t, e, "alice@example.com", orderID)
	if closeResp.PnL != "0" {
		t.Errorf("pnl at unchanged price: got %q, want \"0\"", closeResp.PnL)
	}
}

// ============================================================================
// Test: determinism
// ============================================================================

func TestReplay_SameCommandsSameState(t *testing.T) {
	corrSignup := uuid.NewString()
	corrOpen := uuid.NewString()

	run := func() (string, int64) {
		e := newEngine()
		e.Apply(&command.Signup{Email: "alice@example.com", CorrelationId: corrSignup})
		applyPrice(e, "BTC", 5000000, 4)
		resp := e.Apply(&command.TradeCreate{
			Email:         "alice@example.com",
			Asset:         "BTC",
			Side:          1,
			Margin:        1000,
			Leverage:      5,
			CorrelationId: corrOpen,
		})
		if resp.Status != command.StatusSuccess {
			t.Fatalf("open failed: %s", resp.Error)
		}
		return resp.OrderID, balanceOf(t, resp)
	}

	id1, bal1 := run()
	id2, bal2 := run()

	if id1 != id2 {
		t.Errorf("order ids diverged across replays: %s vs %s", id1, id2)
	}
	if bal1 != bal2 {
		t.Errorf("balances diverged across replays: %d vs %d", bal1, bal2)
	}
}

// ============================================================================
// Test: snapshot capture / restore
// ============================================================================

func TestSnapshot_RoundTrip(t *testing.T) {
	e := newEngine()
	mustSignup(t, e, "alice@example.com")
	applyPrice(e, "BTC", 5000000, 4)
	orderID, _ := mustOpen(t, e, "alice@example.com", "BTC", "long", 1000, 5)

	snap := e.CaptureSnapshot()

	restored := newEngine()
	restored.RestoreSnapshot(snap)
	applyPrice(restored, "BTC", 5500000, 4)

	closeResp := mustClose(t, restored, "alice@example.com", orderID)
	if closeResp.PnL != "50000" {
		t.Errorf("pnl after restore: got %q, want \"50000\"", closeResp.PnL)
	}
}

func TestSnapshot_CopyIsIsolated(t *testing.T) {
	e := newEngine()
	mustSignup(t, e, "alice@example.com")

	snap := e.CaptureSnapshot()
	snap["alice@example.com"].Balance = 1

	signin := e.Apply(&command.Signin{Email: "alice@example.com", CorrelationId: uuid.NewString()})
	if got := balanceOf(t, signin); got != 500000 {
		t.Errorf("snapshot mutation leaked into engine: got %d", got)
	}
}
