package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"MarginVenue/internal/state"
)

// --- JSON wire formats ---
// One flat record per command; "type" is the discriminator. Price ticks use
// the field name "decimal" to match the upstream feed producer.

type headerJSON struct {
	Type string `json:"type"`
}

type userCommandJSON struct {
	Type          string `json:"type"`
	Email         string `json:"email"`
	Asset         string `json:"asset,omitempty"`
	TradeType     string `json:"tradeType,omitempty"`
	Margin        int64  `json:"margin,omitempty"`
	Leverage      int64  `json:"leverage,omitempty"`
	Slippage      int64  `json:"slippage,omitempty"`
	OrderID       string `json:"orderId,omitempty"`
	CorrelationID string `json:"correlationId"`
	SentAtUs      int64  `json:"sent_at_us"`
}

type priceUpdateJSON struct {
	Type string        `json:"type"`
	Data priceDataJSON `json:"data"`
}

type priceDataJSON struct {
	PriceUpdates []priceTickJSON `json:"price_updates"`
}

type priceTickJSON struct {
	Asset   string `json:"asset"`
	Price   int64  `json:"price"`
	Decimal int32  `json:"decimal"`
}

// Parse decodes a command-log record into its typed command. Malformed
// records return an error; the consumer logs and skips them.
func Parse(data []byte) (Command, error) {
	var h headerJSON
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parse command header: %w", err)
	}

	switch Type(h.Type) {
	case TypeSignup, TypeSignin, TypeGetBalanceUSD, TypeTradeCreate, TypeTradeClose:
		return parseUserCommand(data)
	case TypePriceUpdate:
		return parsePriceUpdate(data)
	default:
		return nil, fmt.Errorf("unknown command type: %q", h.Type)
	}
}

func parseUserCommand(data []byte) (Command, error) {
	var j userCommandJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse %s: %w", j.Type, err)
	}
	if j.Email == "" {
		return nil, fmt.Errorf("parse %s: missing email", j.Type)
	}
	if j.CorrelationID == "" {
		return nil, fmt.Errorf("parse %s: missing correlationId", j.Type)
	}

	issuedAt := time.UnixMicro(j.SentAtUs)

	switch Type(j.Type) {
	case TypeSignup:
		return &Signup{Email: j.Email, CorrelationId: j.CorrelationID, IssuedAt: issuedAt}, nil

	case TypeSignin:
		return &Signin{Email: j.Email, CorrelationId: j.CorrelationID, IssuedAt: issuedAt}, nil

	case TypeGetBalanceUSD:
		return &GetBalanceUSD{Email: j.Email, CorrelationId: j.CorrelationID, IssuedAt: issuedAt}, nil

	case TypeTradeCreate:
		side, ok := state.ParseSide(j.TradeType)
		if !ok {
			return nil, fmt.Errorf("parse trade_create: bad tradeType %q", j.TradeType)
		}
		if j.Asset == "" {
			return nil, fmt.Errorf("parse trade_create: missing asset")
		}
		if j.Margin <= 0 || j.Leverage <= 0 {
			return nil, fmt.Errorf("parse trade_create: margin and leverage must be positive")
		}
		return &TradeCreate{
			Email:         j.Email,
			Asset:         j.Asset,
			Side:          side,
			Margin:        j.Margin,
			Leverage:      j.Leverage,
			Slippage:      j.Slippage,
			CorrelationId: j.CorrelationID,
			IssuedAt:      issuedAt,
		}, nil

	case TypeTradeClose:
		orderID, err := uuid.Parse(j.OrderID)
		if err != nil {
			return nil, fmt.Errorf("parse trade_close orderId: %w", err)
		}
		return &TradeClose{
			Email:         j.Email,
			OrderID:       orderID,
			CorrelationId: j.CorrelationID,
			IssuedAt:      issuedAt,
		}, nil
	}

	return nil, fmt.Errorf("unknown user command type: %q", j.Type)
}

func parsePriceUpdate(data []byte) (*PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse price_update: %w", err)
	}

	updates := make([]PriceTick, 0, len(j.Data.PriceUpdates))
	for _, t := range j.Data.PriceUpdates {
		if t.Asset == "" {
			return nil, fmt.Errorf("parse price_update: tick missing asset")
		}
		updates = append(updates, PriceTick{
			Asset:   t.Asset,
			Price:   t.Price,
			Decimal: t.Decimal,
		})
	}

	return &PriceUpdate{Updates: updates}, nil
}

// Marshal encodes a typed command into its command-log record.
func Marshal(cmd Command) ([]byte, error) {
	switch c := cmd.(type) {
	case *Signup:
		return json.Marshal(userCommandJSON{
			Type:          string(TypeSignup),
			Email:         c.Email,
			CorrelationID: c.CorrelationId,
			SentAtUs:      c.IssuedAt.UnixMicro(),
		})

	case *Signin:
		return json.Marshal(userCommandJSON{
			Type:          string(TypeSignin),
			Email:         c.Email,
			CorrelationID: c.CorrelationId,
			SentAtUs:      c.IssuedAt.UnixMicro(),
		})

	case *GetBalanceUSD:
		return json.Marshal(userCommandJSON{
			Type:          string(TypeGetBalanceUSD),
			Email:         c.Email,
			CorrelationID: c.CorrelationId,
			SentAtUs:      c.IssuedAt.UnixMicro(),
		})

	case *TradeCreate:
		return json.Marshal(userCommandJSON{
			Type:          string(TypeTradeCreate),
			Email:         c.Email,
			Asset:         c.Asset,
			TradeType:     c.Side.String(),
			Margin:        c.Margin,
			Leverage:      c.Leverage,
			Slippage:      c.Slippage,
			CorrelationID: c.CorrelationId,
			SentAtUs:      c.IssuedAt.UnixMicro(),
		})

	case *TradeClose:
		return json.Marshal(userCommandJSON{
			Type:          string(TypeTradeClose),
			Email:         c.Email,
			OrderID:       c.OrderID.String(),
			CorrelationID: c.CorrelationId,
			SentAtUs:      c.IssuedAt.UnixMicro(),
		})

	case *PriceUpdate:
		ticks := make([]priceTickJSON, 0, len(c.Updates))
		for _, t := range c.Updates {
			ticks = append(ticks, priceTickJSON{
				Asset:   t.Asset,
				Price:   t.Price,
				Decimal: t.Decimal,
			})
		}
		return json.Marshal(priceUpdateJSON{
			Type: string(TypePriceUpdate),
			Data: priceDataJSON{PriceUpdates: ticks},
		})

	default:
		return nil, fmt.Errorf("marshal: unknown command type %T", cmd)
	}
}
