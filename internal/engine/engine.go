package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"MarginVenue/internal/command"
	"MarginVenue/internal/decimal"
	"MarginVenue/internal/observability"
	"MarginVenue/internal/pricecache"
	"MarginVenue/internal/state"
)

const (
	// SeedBalanceUSD is credited to every new user, in whole USD.
	SeedBalanceUSD = 5000

	// BalanceDecimals is the fixed scale of user balances.
	BalanceDecimals int32 = 2

	// MarginDecimals is the fixed scale of posted margin.
	MarginDecimals int32 = 2
)

// orderNamespace seeds deterministic order ids: an order id is derived from
// the trade_create correlation id, so replaying the same command prefix
// reproduces identical ids.
var orderNamespace = uuid.MustParse("9d2c7f0a-41e3-4b8f-9a56-0c1d2e3f4a5b")

// Engine owns all user, order, and price state. It is a single-writer state
// machine: Apply is only ever called from the consumer loop, in log order,
// so the engine's state at any point is a pure function of the command
// prefix consumed so far.
type Engine struct {
	book    *state.Book
	prices  *pricecache.Cache
	log     zerolog.Logger
	metrics *observability.Metrics
}

func New(log zerolog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		book:    state.NewBook(),
		prices:  pricecache.New(),
		log:     log,
		metrics: metrics,
	}
}

// Apply executes one command and returns its response record, or nil for
// fire-and-forget commands (price updates). Failed commands yield error
// responses; Apply itself never fails.
func (e *Engine) Apply(cmd command.Command) *command.Response {
	start := time.Now()
	cmdType := cmd.CommandType()

	var resp *command.Response

	switch c := cmd.(type) {
	case *command.Signup:
		resp = e.handleSignup(c)
	case *command.Signin:
		resp = e.handleSignin(c)
	case *command.TradeCreate:
		resp = e.handleTradeCreate(c)
	case *command.TradeClose:
		resp = e.handleTradeClose(c)
	case *command.GetBalanceUSD:
		resp = e.handleGetBalanceUSD(c)
	case *command.PriceUpdate:
		e.handlePriceUpdate(c)
	default:
		e.log.Warn().Str("type", string(cmdType)).Msg("unhandled command type")
		if cmd.CorrelationID() != "" {
			resp = command.NewError(cmdType, cmd.CorrelationID(), ErrInternal.Error())
		}
	}

	if e.metrics != nil {
		outcome := "success"
		if resp != nil && resp.Status == command.StatusError {
			outcome = "error"
		}
		e.metrics.CommandsApplied.WithLabelValues(string(cmdType), outcome).Inc()
		e.metrics.CommandDuration.WithLabelValues(string(cmdType)).Observe(time.Since(start).Seconds())
	}

	return resp
}

func (e *Engine) handleSignup(c *command.Signup) *command.Response {
	if _, exists := e.book.Get(c.Email); exists {
		return command.NewError(command.TypeSignup, c.CorrelationId, ErrAlreadyExists.Error())
	}

	seed := decimal.ConvertDecimals(SeedBalanceUSD, 0, BalanceDecimals)
	user := state.NewUser(c.Email, seed, BalanceDecimals)
	e.book.Put(user)

	if e.metrics != nil {
		e.metrics.UsersTotal.Set(float64(e.book.Len()))
	}

	e.log.Info().Str("email", c.Email).Msg("user signed up")

	return &command.Response{
		Status:        command.StatusSuccess,
		Type:          command.TypeSignup,
		CorrelationID: c.CorrelationId,
		UserBalance:   command.FormatAmount(user.Balance),
		Decimals:      command.FormatDecimals(user.BalanceDecimals),
	}
}

func (e *Engine) handleSignin(c *command.Signin) *command.Response {
	user, ok := e.book.Get(c.Email)
	if !ok {
		return command.NewError(command.TypeSignin, c.CorrelationId, ErrUserNotFound.Error())
	}

	return &command.Response{
		Status:        command.StatusSuccess,
		Type:          command.TypeSignin,
		CorrelationID: c.CorrelationId,
		UserBalance:   command.FormatAmount(user.Balance),
		Decimals:      command.FormatDecimals(user.BalanceDecimals),
	}
}

func (e *Engine) handleTradeCreate(c *command.TradeCreate) *command.Response {
	user, ok := e.book.Get(c.Email)
	if !ok {
		return command.NewError(command.TypeTradeCreate, c.CorrelationId, ErrUserNotFound.Error())
	}

	// Command margin arrives in whole USD; balances are kept at BalanceDecimals.
	margin := decimal.ConvertDecimals(c.Margin, 0, BalanceDecimals)
	if margin > user.Balance {
		return command.NewError(command.TypeTradeCreate, c.CorrelationId, ErrInsufficientBalance.Error())
	}

	quote, ok := e.prices.Get(c.Asset)
	if !ok || quote.Price == 0 {
		return command.NewError(command.TypeTradeCreate, c.CorrelationId, ErrPriceUnavailable.Error())
	}

	size := decimal.PositionSize(margin, MarginDecimals, c.Leverage, quote.Price, quote.Decimals)

	order := &state.Order{
		ID:                   uuid.NewSHA1(orderNamespace, []byte(c.CorrelationId)),
		Asset:                c.Asset,
		Side:                 c.Side,
		Margin:               margin,
		MarginDecimals:       MarginDecimals,
		Leverage:             c.Leverage,
		Slippage:             c.Slippage,
		CreatedAt:            c.IssuedAt,
		EntryPrice:           quote.Price,
		EntryPriceDecimals:   quote.Decimals,
		PositionSize:         size,
		PositionSizeDecimals: quote.Decimals,
	}

	user.Balance -= margin
	user.OpenOrders[order.ID] = order

	if e.metrics != nil {
		e.metrics.OpenOrders.Inc()
	}

	e.log.Info().
		Str("email", c.Email).
		Str("order_id", order.ID.String()).
		Str("asset", c.Asset).
		Str("side", c.Side.String()).
		Int64("margin", margin).
		Int64("position_size", size).
		Msg("trade opened")

	return &command.Response{
		Status:        command.StatusSuccess,
		Type:          command.TypeTradeCreate,
		CorrelationID: c.CorrelationId,
		Balance:       command.FormatAmount(user.Balance),
		Decimals:      command.FormatDecimals(user.BalanceDecimals),
		OrderID:       order.ID.String(),
	}
}

func (e *Engine) handleTradeClose(c *command.TradeClose) *command.Response {
	user, ok := e.book.Get(c.Email)
	if !ok {
		return command.NewError(command.TypeTradeClose, c.CorrelationId, ErrUserNotFound.Error())
	}

	order, ok := user.OpenOrders[c.OrderID]
	if !ok {
		// Absent means closed or never existed; either way the close is
		// rejected without touching balance.
		return command.NewError(command.TypeTradeClose, c.CorrelationId, ErrOrderNotFound.Error())
	}

	quote, ok := e.prices.Get(order.Asset)
	if !ok || quote.Price == 0 {
		return command.NewError(command.TypeTradeClose, c.CorrelationId, ErrPriceUnavailable.Error())
	}

	// Raw price delta in the current quote's scale: favorable moves are
	// positive for the held side.
	var delta int64
	if order.Side == state.SideLong {
		delta = decimal.Subtract(quote.Price, quote.Decimals, order.EntryPrice, order.EntryPriceDecimals, quote.Decimals)
	} else {
		delta = decimal.Subtract(order.EntryPrice, order.EntryPriceDecimals, quote.Price, quote.Decimals, quote.Decimals)
	}

	// PnL in USD at margin scale, then at balance scale.
	pnl := decimal.Multiply(delta, quote.Decimals, order.PositionSize, order.PositionSizeDecimals, order.MarginDecimals)
	pnl = decimal.ConvertDecimals(pnl, order.MarginDecimals, user.BalanceDecimals)

	// Loss cannot exceed the posted margin.
	margin := decimal.ConvertDecimals(order.Margin, order.MarginDecimals, user.BalanceDecimals)
	if pnl < -margin {
		pnl = -margin
	}

	// Margin was debited at open; settlement re-credits it plus clamped PnL.
	user.Balance += margin + pnl
	delete(user.OpenOrders, c.OrderID)

	if e.metrics != nil {
		e.metrics.OpenOrders.Dec()
	}

	e.log.Info().
		Str("email", c.Email).
		Str("order_id", c.OrderID.String()).
		Int64("pnl", pnl).
		Int64("balance", user.Balance).
		Msg("trade closed")

	return &command.Response{
		Status:        command.StatusSuccess,
		Type:          command.TypeTradeClose,
		CorrelationID: c.CorrelationId,
		Balance:       command.FormatAmount(user.Balance),
		Decimals:      command.FormatDecimals(user.BalanceDecimals),
		PnL:           command.FormatAmount(pnl),
		OrderID:       c.OrderID.String(),
	}
}

func (e *Engine) handleGetBalanceUSD(c *command.GetBalanceUSD) *command.Response {
	user, ok := e.book.Get(c.Email)
	if !ok {
		return command.NewError(command.TypeGetBalanceUSD, c.CorrelationId, ErrUserNotFound.Error())
	}

	return &command.Response{
		Status:        command.StatusSuccess,
		Type:          command.TypeGetBalanceUSD,
		CorrelationID: c.CorrelationId,
		Balance:       command.FormatAmount(user.Balance),
		Decimals:      command.FormatDecimals(user.BalanceDecimals),
	}
}

func (e *Engine) handlePriceUpdate(c *command.PriceUpdate) {
	for _, tick := range c.Updates {
		e.prices.Put(pricecache.Quote{
			Asset:    tick.Asset,
			Price:    tick.Price,
			Decimals: tick.Decimal,
		})
	}

	if e.metrics != nil {
		e.metrics.PriceTicksApplied.Add(float64(len(c.Updates)))
	}

	e.log.Debug().Int("ticks", len(c.Updates)).Msg("price cache updated")
}

// --- Snapshot capture & restore ---

// CaptureSnapshot deep-copies the full user map. Called only from the
// consumer loop so the copy is consistent without locking.
func (e *Engine) CaptureSnapshot() map[string]*state.User {
	return e.book.Snapshot()
}

// RestoreSnapshot replaces engine state from a loaded snapshot. Quotes are
// not persisted; the cache refills from the live feed.
func (e *Engine) RestoreSnapshot(users map[string]*state.User) {
	e.book.Restore(users)
	e.log.Info().Int("users", len(users)).Msg("state restored from snapshot")
}

// UserCount reports the number of registered users.
func (e *Engine) UserCount() int {
	return e.book.Len()
}
