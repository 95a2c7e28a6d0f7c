// Package broker is the live order adapter. It speaks a small REST
// protocol: POST /v1/orders and GET /v1/positions/{symbol}.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/soochol/tradeflow/internal/tradeflow/ports"
)

var _ ports.Broker = (*Client)(nil)

// Client places orders for the account named by the credential. The
// credential's Host overrides BaseURL when set.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{Timeout: timeout}}
}

type orderRequest struct {
	ClientOrderID string           `json:"client_order_id"`
	Symbol        string           `json:"symbol"`
	Side          tradeflow.Side   `json:"side"`
	Type          string           `json:"type"`
	Quantity      decimal.Decimal  `json:"quantity"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
}

type orderResponse struct {
	OrderID    string          `json:"order_id"`
	Status     string          `json:"status"`
	FilledQty  decimal.Decimal `json:"filled_qty"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	Commission decimal.Decimal `json:"commission"`
	FilledAt   time.Time       `json:"filled_at"`
}

type positionResponse struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PlaceOrder submits o. A resting order that has not filled yet returns a
// nil fill.
func (c *Client) PlaceOrder(ctx context.Context, o tradeflow.Order, creds *tradeflow.Credential) (*tradeflow.Fill, error) {
	body := orderRequest{
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Type:          strings.ToLower(string(o.Type)),
		Quantity:      o.Quantity,
	}
	if o.Type == tradeflow.OrderLimit {
		lp := o.LimitPrice
		body.LimitPrice = &lp
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/v1/orders", creds, body, &resp); err != nil {
		return nil, err
	}
	switch strings.ToLower(resp.Status) {
	case "filled", "partially_filled":
	case "new", "accepted", "pending":
		return nil, nil
	default:
		return nil, &tradeflow.BrokerError{Kind: tradeflow.BrokerAPI, Msg: "unexpected order status " + resp.Status}
	}
	filledAt := resp.FilledAt
	if filledAt.IsZero() {
		filledAt = time.Now()
	}
	return &tradeflow.Fill{
		OrderID:    resp.OrderID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   resp.FilledQty,
		Price:      resp.AvgPrice,
		Commission: resp.Commission,
		FilledAt:   filledAt,
	}, nil
}

// Position returns the signed position in symbol.
func (c *Client) Position(ctx context.Context, symbol string, creds *tradeflow.Credential) (decimal.Decimal, error) {
	var resp positionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/positions/"+url.PathEscape(symbol), creds, nil, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Quantity, nil
}

func (c *Client) do(ctx context.Context, method, path string, creds *tradeflow.Credential, in, out any) error {
	base := c.BaseURL
	if creds != nil && creds.Host != "" {
		base = strings.TrimRight(creds.Host, "/")
	}
	if base == "" {
		return &tradeflow.BrokerError{Kind: tradeflow.BrokerValidation, Msg: "no broker endpoint configured"}
	}

	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &tradeflow.BrokerError{Kind: tradeflow.BrokerValidation, Msg: "encode request", Err: err}
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return &tradeflow.BrokerError{Kind: tradeflow.BrokerValidation, Msg: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	authorize(req, creds)

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return &tradeflow.BrokerError{Kind: tradeflow.BrokerNetwork, Msg: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &tradeflow.BrokerError{Kind: tradeflow.BrokerAPI, Msg: "decode response", Err: err}
	}
	return nil
}

func authorize(req *http.Request, creds *tradeflow.Credential) {
	if creds == nil {
		return
	}
	switch {
	case creds.Token != "":
		req.Header.Set("Authorization", "Bearer "+creds.Token)
	case creds.Login != "":
		req.SetBasicAuth(creds.Login, creds.Password)
	}
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body errorResponse
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		msg = body.Message
	}
	msg = fmt.Sprintf("status %d: %s", resp.StatusCode, msg)

	kind := tradeflow.BrokerAPI
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = tradeflow.BrokerAuth
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusNotFound:
		kind = tradeflow.BrokerValidation
	}
	return &tradeflow.BrokerError{Kind: kind, Msg: msg}
}
