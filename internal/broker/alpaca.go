// Alpaca HTTP implementation of Broker. Adapted from the teacher's
// trader/alpaca_trader.go (doRequest/header-auth pattern, GetBalance /
// GetPositions field mapping) generalized from map[string]interface{} to
// the full decimal Order/Position/Fill contract.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"tradecore/internal/clock"
	"tradecore/internal/model"
)

type AlpacaBroker struct {
	apiKey    string
	apiSecret string
	baseURL   string
	dataURL   string
	client    *http.Client
	limiter   *rate.Limiter
}

func NewAlpacaBroker(apiKey, apiSecret string, isPaper bool) *AlpacaBroker {
	baseURL := "https://api.alpaca.markets"
	if isPaper {
		baseURL = "https://paper-api.alpaca.markets"
	}
	return &AlpacaBroker{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		dataURL:   "https://data.alpaca.markets",
		client:    &http.Client{Timeout: 30 * time.Second},
		// Alpaca's REST limit is 200 req/min per account; stay well under it.
		limiter: rate.NewLimiter(rate.Limit(3), 5),
	}
}

func (a *AlpacaBroker) doRequest(method, path string, body interface{}) ([]byte, error) {
	if err := a.limiter.Wait(context.Background()); err != nil {
		return nil, fmt.Errorf("broker: rate limiter: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("broker: marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, a.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("broker: build request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", a.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", a.apiSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("broker: request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("broker: read response: %w", err)}
	}

	if resp.StatusCode >= 500 {
		return nil, &TransientError{Err: fmt.Errorf("broker: status %d: %s", resp.StatusCode, respBody)}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("broker: permanent error (status %d): %s", resp.StatusCode, respBody)
	}
	return respBody, nil
}

func (a *AlpacaBroker) GetAccount() (Account, error) {
	resp, err := a.doRequest("GET", "/v2/account", nil)
	if err != nil {
		return Account{}, err
	}
	var raw map[string]string
	if err := json.Unmarshal(resp, &raw); err != nil {
		return Account{}, fmt.Errorf("broker: parse account: %w", err)
	}
	return Account{
		PortfolioValue: safeDecimal(raw["equity"]),
		BuyingPower:    safeDecimal(raw["buying_power"]),
		Cash:           safeDecimal(raw["cash"]),
	}, nil
}

// safeDecimal degrades to zero on parse failure rather than aborting the
// cycle, per spec §4.1 step 2.
func safeDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a *AlpacaBroker) GetPositions() ([]BrokerPosition, error) {
	resp, err := a.doRequest("GET", "/v2/positions", nil)
	if err != nil {
		return nil, err
	}
	var raw []map[string]string
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("broker: parse positions: %w", err)
	}
	out := make([]BrokerPosition, 0, len(raw))
	for _, p := range raw {
		out = append(out, BrokerPosition{
			Symbol:     p["symbol"],
			Quantity:   safeDecimal(p["qty"]),
			EntryPrice: safeDecimal(p["avg_entry_price"]),
		})
	}
	return out, nil
}

func (a *AlpacaBroker) GetOpenOrders() ([]OpenOrder, error) {
	resp, err := a.doRequest("GET", "/v2/orders?status=open", nil)
	if err != nil {
		return nil, err
	}
	var raw []map[string]interface{}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("broker: parse open orders: %w", err)
	}
	out := make([]OpenOrder, 0, len(raw))
	for _, o := range raw {
		out = append(out, mapOpenOrder(o))
	}
	return out, nil
}

func mapOpenOrder(o map[string]interface{}) OpenOrder {
	str := func(k string) string {
		v, _ := o[k].(string)
		return v
	}
	side := model.SideBuy
	if str("side") == "sell" {
		side = model.SideSell
	}
	ot := model.OrderTypeMarket
	switch str("type") {
	case "limit":
		ot = model.OrderTypeLimit
	case "stop":
		ot = model.OrderTypeStop
	}
	return OpenOrder{
		BrokerOrderID: str("id"),
		Symbol:        str("symbol"),
		Side:          side,
		OrderType:     ot,
		Status:        str("status"),
		Qty:           safeDecimal(str("qty")),
		FilledQty:     safeDecimal(str("filled_qty")),
		AvgFillPrice:  safeDecimal(str("filled_avg_price")),
	}
}

func (a *AlpacaBroker) GetSymbolProperties(symbol string) (SymbolProperties, error) {
	resp, err := a.doRequest("GET", "/v2/assets/"+symbol, nil)
	if err != nil {
		return SymbolProperties{}, err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return SymbolProperties{}, fmt.Errorf("broker: parse asset: %w", err)
	}
	tradable, _ := raw["tradable"].(bool)
	shortable, _ := raw["shortable"].(bool)
	return SymbolProperties{
		Tradable:       tradable,
		Shortable:      shortable,
		LotSize:        decimal.NewFromInt(1),
		MinQty:         decimal.NewFromFloat(0.000000001),
		MaxQty:         decimal.NewFromInt(1_000_000),
		PriceIncrement: decimal.NewFromFloat(0.01),
	}, nil
}

type orderRequest struct {
	Symbol      string `json:"symbol"`
	Qty         string `json:"qty"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
	LimitPrice  string `json:"limit_price,omitempty"`
	StopPrice   string `json:"stop_price,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

func (a *AlpacaBroker) submit(req orderRequest) (string, error) {
	resp, err := a.doRequest("POST", "/v2/orders", req)
	if err != nil {
		return "", err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", fmt.Errorf("broker: parse order response: %w", err)
	}
	id, _ := out["id"].(string)
	if id == "" {
		return "", fmt.Errorf("broker: order response missing id")
	}
	return id, nil
}

func (a *AlpacaBroker) SubmitMarketOrder(clientOrderID, symbol string, side model.Side, qty decimal.Decimal) (string, error) {
	return a.submit(orderRequest{
		Symbol: symbol, Qty: qty.String(), Side: sideStr(side), Type: "market",
		TimeInForce: "day", ClientOrderID: clientOrderID,
	})
}

func (a *AlpacaBroker) SubmitLimitOrder(clientOrderID, symbol string, side model.Side, qty, limitPrice decimal.Decimal) (string, error) {
	return a.submit(orderRequest{
		Symbol: symbol, Qty: qty.String(), Side: sideStr(side), Type: "limit",
		TimeInForce: "day", LimitPrice: limitPrice.String(), ClientOrderID: clientOrderID,
	})
}

func (a *AlpacaBroker) SubmitStopOrder(clientOrderID, symbol string, side model.Side, qty, stopPrice decimal.Decimal) (string, error) {
	return a.submit(orderRequest{
		Symbol: symbol, Qty: qty.String(), Side: sideStr(side), Type: "stop",
		TimeInForce: "gtc", StopPrice: stopPrice.String(), ClientOrderID: clientOrderID,
	})
}

func sideStr(s model.Side) string {
	if s == model.SideSell {
		return "sell"
	}
	return "buy"
}

func (a *AlpacaBroker) GetOrderStatus(brokerOrderID string) (OpenOrder, error) {
	resp, err := a.doRequest("GET", "/v2/orders/"+brokerOrderID, nil)
	if err != nil {
		return OpenOrder{}, err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return OpenOrder{}, fmt.Errorf("broker: parse order status: %w", err)
	}
	return mapOpenOrder(raw), nil
}

func (a *AlpacaBroker) CancelOrder(brokerOrderID string) error {
	_, err := a.doRequest("DELETE", "/v2/orders/"+brokerOrderID, nil)
	return err
}

func (a *AlpacaBroker) GetMarketStatus() (clock.MarketStatus, error) {
	resp, err := a.doRequest("GET", "/v2/clock", nil)
	if err != nil {
		return clock.MarketStatus{}, err
	}
	var raw struct {
		IsOpen    bool   `json:"is_open"`
		NextOpen  string `json:"next_open"`
		NextClose string `json:"next_close"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return clock.MarketStatus{}, fmt.Errorf("broker: parse clock: %w", err)
	}
	nextOpen, _ := time.Parse(time.RFC3339, raw.NextOpen)
	nextClose, _ := time.Parse(time.RFC3339, raw.NextClose)
	return clock.MarketStatus{IsOpen: raw.IsOpen, NextOpen: nextOpen, NextClose: nextClose}, nil
}
