package command

import (
	"time"

	"github.com/google/uuid"

	"MarginVenue/internal/state"
)

// Type discriminates command records in the command log.
type Type string

const (
	TypeSignup        Type = "signup"
	TypeSignin        Type = "signin"
	TypeTradeCreate   Type = "trade_create"
	TypeTradeClose    Type = "trade_close"
	TypeGetBalanceUSD Type = "get_balance_usd"
	TypePriceUpdate   Type = "price_update"
)

// Command is the interface all command payloads implement. Each record is
// decoded once at the log boundary into exactly one of the concrete types
// below; the engine never touches raw payload bytes.
type Command interface {
	// CommandType returns the discriminator.
	CommandType() Type

	// CorrelationID pairs the command with its eventual response record.
	// Price updates are fire-and-forget and return "".
	CorrelationID() string
}

// Signup registers a new user.
type Signup struct {
	Email         string
	CorrelationId string
	IssuedAt      time.Time
}

func (c *Signup) CommandType() Type { return TypeSignup }
func (c *Signup) CorrelationID() string { return c.CorrelationId }

// Signin looks up an existing user.
type Signin struct {
	Email         string
	CorrelationId string
	IssuedAt      time.Time
}

func (c *Signin) CommandType() Type { return TypeSignin }
func (c *Signin) CorrelationID() string { return c.CorrelationId }

// TradeCreate opens a leveraged position. Margin is expressed in whole USD
// (zero decimals); the engine converts it to balance scale at open.
type TradeCreate struct {
	Email         string
	Asset         string
	Side          state.Side
	Margin        int64
	Leverage      int64
	Slippage      int64
	CorrelationId string
	IssuedAt      time.Time
}

func (c *TradeCreate) CommandType() Type { return TypeTradeCreate }
func (c *TradeCreate) CorrelationID() string { return c.CorrelationId }

// TradeClose closes an open position by order id.
type TradeClose struct {
	Email         string
	OrderID       uuid.UUID
	CorrelationId string
	IssuedAt      time.Time
}

func (c *TradeClose) CommandType() Type { return TypeTradeClose }
func (c *TradeClose) CorrelationID() string { return c.CorrelationId }

// GetBalanceUSD reads a user's balance.
type GetBalanceUSD struct {
	Email         string
	CorrelationId string
	IssuedAt      time.Time
}

func (c *GetBalanceUSD) CommandType() Type { return TypeGetBalanceUSD }
func (c *GetBalanceUSD) CorrelationID() string { return c.CorrelationId }

// PriceTick is one entry of a price-update batch. Price is an integer
// scaled by 10^Decimal.
type PriceTick struct {
	Asset   string
	Price   int64
	Decimal int32
}

// PriceUpdate overwrites price-cache entries. It carries no correlation id
// and produces no response record.
type PriceUpdate struct {
	Updates []PriceTick
}

func (c *PriceUpdate) CommandType() Type { return TypePriceUpdate }
func (c *PriceUpdate) CorrelationID() string { return "" }
