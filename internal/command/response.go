package command

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Status of a response record.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Response is a response-log record, keyed by correlation id. Numeric
// fields are serialized as strings so front-end consumers never see
// precision-lossy JSON numbers.
type Response struct {
	Status        Status `json:"status"`
	Type          Type   `json:"type"`
	CorrelationID string `json:"correlationId"`

	Error string `json:"error,omitempty"`

	UserBalance string `json:"userBalance,omitempty"`
	Balance     string `json:"balance,omitempty"`
	Decimals    string `json:"decimals,omitempty"`
	OrderID     string `json:"orderId,omitempty"`
	PnL         string `json:"pnl,omitempty"`
}

// NewError builds an error response echoing the request's type and
// correlation id.
func NewError(t Type, correlationID, message string) *Response {
	return &Response{
		Status:        StatusError,
		Type:          t,
		CorrelationID: correlationID,
		Error:         message,
	}
}

// FormatAmount renders a fixed-point integer for the wire.
func FormatAmount(v int64) string {
	return strconv.FormatInt(v, 10)
}

// FormatDecimals renders a decimal scale for the wire.
func FormatDecimals(d int32) string {
	return strconv.FormatInt(int64(d), 10)
}

// MarshalResponse encodes a response-log record.
func MarshalResponse(r *Response) ([]byte, error) {
	return json.Marshal(r)
}

// ParseResponse decodes a response-log record.
func ParseResponse(data []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if r.CorrelationID == "" {
		return nil, fmt.Errorf("parse response: missing correlationId")
	}
	return &r, nil
}
