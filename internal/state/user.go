package state

import (
	"time"

	"github.com/google/uuid"
)

// Side represents position direction.
type Side int32

const (
	SideLong Side = iota + 1
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "unknown"
	}
}

// ParseSide maps the wire strings "long"/"short" to a Side.
func ParseSide(s string) (Side, bool) {
	switch s {
	case "long":
		return SideLong, true
	case "short":
		return SideShort, true
	default:
		return 0, false
	}
}

// Order is an open leveraged position. It is owned exclusively by its User
// and referenced only through the OpenOrders map key; there is no
// back-reference from Order to User.
//
// All monetary fields are fixed-point integers paired with an explicit
// decimal scale. An amount is never interpreted without its scale.
type Order struct {
	ID                   uuid.UUID `json:"id"`
	Asset                string    `json:"asset"`
	Side                 Side      `json:"side"`
	Margin               int64     `json:"margin"`
	MarginDecimals       int32     `json:"margin_decimals"`
	Leverage             int64     `json:"leverage"`
	Slippage             int64     `json:"slippage"`
	CreatedAt            time.Time `json:"created_at"`
	EntryPrice           int64     `json:"entry_price"`
	EntryPriceDecimals   int32     `json:"entry_price_decimals"`
	PositionSize         int64     `json:"position_size"`
	PositionSizeDecimals int32     `json:"position_size_decimals"`
}

// User holds a trader's balance and open positions. Balance is reduced by an
// order's margin at open and credited with margin plus clamped PnL at close;
// reserved margin is implicitly represented by having been subtracted.
type User struct {
	Email           string               `json:"email"`
	Balance         int64                `json:"balance"`
	BalanceDecimals int32                `json:"balance_decimals"`
	OpenOrders      map[uuid.UUID]*Order `json:"open_orders"`
}

func NewUser(email string, balance int64, balanceDecimals int32) *User {
	return &User{
		Email:           email,
		Balance:         balance,
		BalanceDecimals: balanceDecimals,
		OpenOrders:      make(map[uuid.UUID]*Order),
	}
}

// Clone deep-copies the user, including orders, for snapshot capture.
func (u *User) Clone() *User {
	cp := &User{
		Email:           u.Email,
		Balance:         u.Balance,
		BalanceDecimals: u.BalanceDecimals,
		OpenOrders:      make(map[uuid.UUID]*Order, len(u.OpenOrders)),
	}
	for id, o := range u.OpenOrders {
		oc := *o
		cp.OpenOrders[id] = &oc
	}
	return cp
}
