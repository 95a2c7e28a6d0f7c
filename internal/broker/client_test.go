package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

func brokerServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, time.Second)
}

func TestPlaceOrderFilled(t *testing.T) {
	var got orderRequest
	var auth string
	c := brokerServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/orders" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"order_id":"b-1","status":"FILLED","filled_qty":"0.5","avg_price":"42000.10","commission":"0.02"}`))
	})

	order := tradeflow.Order{
		ClientOrderID: "run-1:buy",
		Symbol:        "BTCUSDT",
		Side:          tradeflow.SideBuy,
		Type:          tradeflow.OrderLimit,
		Quantity:      decimal.RequireFromString("0.5"),
		LimitPrice:    decimal.NewFromInt(42001),
	}
	fill, err := c.PlaceOrder(context.Background(), order, &tradeflow.Credential{Token: "secret"})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if auth != "Bearer secret" {
		t.Errorf("authorization = %q", auth)
	}
	if got.ClientOrderID != "run-1:buy" || got.Type != "limit" || got.LimitPrice == nil || !got.LimitPrice.Equal(decimal.NewFromInt(42001)) {
		t.Errorf("request = %+v", got)
	}
	if fill == nil || fill.OrderID != "b-1" || !fill.Price.Equal(decimal.RequireFromString("42000.1")) {
		t.Fatalf("fill = %+v", fill)
	}
	if fill.FilledAt.IsZero() {
		t.Error("fill has no timestamp")
	}
}

func TestPlaceOrderResting(t *testing.T) {
	c := brokerServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"order_id":"b-2","status":"NEW"}`))
	})
	fill, err := c.PlaceOrder(context.Background(), tradeflow.Order{Symbol: "X", Side: tradeflow.SideSell, Type: tradeflow.OrderMarket}, nil)
	if err != nil || fill != nil {
		t.Fatalf("fill = %+v, err = %v; want nil, nil", fill, err)
	}
}

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		status int
		body   string
		kind   tradeflow.BrokerErrorKind
	}{
		{http.StatusUnauthorized, `{"message":"bad key"}`, tradeflow.BrokerAuth},
		{http.StatusForbidden, ``, tradeflow.BrokerAuth},
		{http.StatusUnprocessableEntity, `{"message":"insufficient balance"}`, tradeflow.BrokerValidation},
		{http.StatusBadGateway, `upstream`, tradeflow.BrokerAPI},
	}
	for _, tc := range cases {
		c := brokerServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(tc.body))
		})
		_, err := c.PlaceOrder(context.Background(), tradeflow.Order{Symbol: "X", Side: tradeflow.SideBuy, Type: tradeflow.OrderMarket}, nil)
		var be *tradeflow.BrokerError
		if !errors.As(err, &be) {
			t.Fatalf("status %d: err = %v, want BrokerError", tc.status, err)
		}
		if be.Kind != tc.kind {
			t.Errorf("status %d: kind = %s, want %s", tc.status, be.Kind, tc.kind)
		}
	}
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second).Position(context.Background(), "X", nil)
	var be *tradeflow.BrokerError
	if !errors.As(err, &be) || be.Kind != tradeflow.BrokerNetwork {
		t.Fatalf("err = %v, want network BrokerError", err)
	}
}

func TestPositionUsesCredentialHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/positions/ETH-USD" {
			t.Errorf("path = %s", r.URL.Path)
		}
		user, pass, _ := r.BasicAuth()
		if user != "acct" || pass != "pw" {
			t.Errorf("basic auth = %s:%s", user, pass)
		}
		w.Write([]byte(`{"symbol":"ETH-USD","quantity":"-1.25"}`))
	}))
	defer srv.Close()

	c := NewClient("", time.Second)
	qty, err := c.Position(context.Background(), "ETH-USD", &tradeflow.Credential{Host: srv.URL, Login: "acct", Password: "pw"})
	if err != nil {
		t.Fatal(err)
	}
	if !qty.Equal(decimal.RequireFromString("-1.25")) {
		t.Fatalf("qty = %s", qty)
	}

	if _, err := c.Position(context.Background(), "ETH-USD", nil); err == nil {
		t.Fatal("expected error without an endpoint")
	}
}
