// Package bitfinex is the concrete core.IExchangeClient implementation:
// it maps the domain-level order/ticker/candle operations onto Bitfinex
// v2 REST paths and WS channels, routing every call through the shared
// signed/unsigned transport and the WS subscription manager so rate
// limiting, circuit breaking, and nonce management stay centralized
// rather than duplicated per adapter.
package bitfinex

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"bitfinex-trader/internal/core"
	"bitfinex-trader/internal/marketdata"
	"bitfinex-trader/internal/restclient"
	"bitfinex-trader/internal/wsclient"

	"github.com/shopspring/decimal"
)

// Adapter implements core.IExchangeClient against the Bitfinex v2 REST
// and WS APIs.
type Adapter struct {
	rest *restclient.Client
	ws   *wsclient.Manager
	md   *marketdata.Facade
	log  core.ILogger
}

// New builds an Adapter. md is optional; when set, GetTicker, and
// GetCandles for a limit of at most one bar, go through its WS-fed cache
// instead of a direct REST call. Longer candle requests always use REST.
func New(rest *restclient.Client, ws *wsclient.Manager, md *marketdata.Facade, logger core.ILogger) *Adapter {
	return &Adapter{rest: rest, ws: ws, md: md, log: logger.WithField("component", "bitfinex_adapter")}
}

// Name identifies the exchange this adapter talks to.
func (a *Adapter) Name() string { return "bitfinex" }

// EndpointClass classifies a logical operation into its rate-limit /
// circuit-breaker bucket.
func (a *Adapter) EndpointClass(operation string) string {
	switch operation {
	case "place_order", "submit_order":
		return "order_submit"
	case "cancel_order":
		return "order_cancel"
	case "wallet", "equity", "positions":
		return "account"
	default:
		return "public"
	}
}

// PlaceOrder submits intent as a Bitfinex order/submit request.
func (a *Adapter) PlaceOrder(ctx context.Context, intent core.OrderIntent) (core.Order, error) {
	amount := intent.Amount
	if intent.Side == core.OrderSideSell {
		amount = amount.Neg()
	}

	body := map[string]interface{}{
		"type":   string(intent.Type),
		"symbol": intent.Symbol,
		"amount": amount.String(),
		"cid":    clientOrderIDToInt(intent.ClientOrderID),
	}
	if intent.Price.IsPositive() {
		body["price"] = intent.Price.String()
	}
	if intent.StopPrice.IsPositive() {
		body["price_aux_limit"] = intent.StopPrice.String()
	}

	flags := 0
	if intent.PostOnly {
		flags |= 4096
	}
	if intent.ReduceOnly {
		flags |= 1024
	}
	if flags != 0 {
		body["flags"] = flags
	}

	respBody, err := a.rest.Signed(ctx, a.EndpointClass("place_order"), "v2/auth/w/order/submit", body)
	if err != nil {
		return core.Order{}, err
	}
	return parseOrderSubmitResponse(respBody, intent)
}

// CancelOrder cancels a live order by its exchange-assigned id.
func (a *Adapter) CancelOrder(ctx context.Context, exchangeOrderID int64) error {
	_, err := a.rest.Signed(ctx, a.EndpointClass("cancel_order"), "v2/auth/w/order/cancel", map[string]interface{}{
		"id": exchangeOrderID,
	})
	return err
}

// CancelOrderByClientID cancels a live order by its client_order_id,
// for the case where the submit acknowledgement was lost before the
// exchange order id could be recorded.
func (a *Adapter) CancelOrderByClientID(ctx context.Context, clientOrderID string) error {
	_, err := a.rest.Signed(ctx, a.EndpointClass("cancel_order"), "v2/auth/w/order/cancel", map[string]interface{}{
		"cid":     clientOrderIDToInt(clientOrderID),
		"cid_date": time.Now().UTC().Format("2006-01-02"),
	})
	return err
}

// GetOrder fetches the current state of one order by its exchange id.
func (a *Adapter) GetOrder(ctx context.Context, exchangeOrderID int64) (core.Order, error) {
	respBody, err := a.rest.Signed(ctx, a.EndpointClass("wallet"), "v2/auth/r/orders", map[string]interface{}{
		"id": []int64{exchangeOrderID},
	})
	if err != nil {
		return core.Order{}, err
	}
	orders, err := parseOrdersResponse(respBody)
	if err != nil || len(orders) == 0 {
		return core.Order{}, fmt.Errorf("bitfinex: order %d not found", exchangeOrderID)
	}
	return orders[0], nil
}

// GetOpenOrders lists every live order for symbol.
func (a *Adapter) GetOpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	respBody, err := a.rest.Signed(ctx, a.EndpointClass("wallet"), fmt.Sprintf("v2/auth/r/orders/%s", symbol), map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	return parseOrdersResponse(respBody)
}

// GetWalletBalance returns the available balance of currency in the
// exchange wallet.
func (a *Adapter) GetWalletBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	respBody, err := a.rest.Signed(ctx, a.EndpointClass("wallet"), "v2/auth/r/wallets", map[string]interface{}{})
	if err != nil {
		return decimal.Zero, err
	}
	return parseWalletBalance(respBody, currency)
}

// GetEquity sums every exchange-wallet balance as a rough equity figure;
// the risk engine uses this as its daily baseline.
func (a *Adapter) GetEquity(ctx context.Context) (decimal.Decimal, error) {
	respBody, err := a.rest.Signed(ctx, a.EndpointClass("equity"), "v2/auth/r/wallets", map[string]interface{}{})
	if err != nil {
		return decimal.Zero, err
	}
	return sumWalletBalances(respBody)
}

// GetTicker returns the latest ticker for symbol, preferring the WS-fed
// cache when a market data facade is wired.
func (a *Adapter) GetTicker(ctx context.Context, symbol string) (core.Ticker, error) {
	if a.md != nil {
		return a.md.Ticker(ctx, symbol)
	}
	respBody, err := a.rest.Public(ctx, a.EndpointClass("ticker"), fmt.Sprintf("v2/ticker/%s", symbol))
	if err != nil {
		return core.Ticker{}, err
	}
	return parseTickerRESTResponse(symbol, respBody)
}

// GetCandles returns up to limit candles for symbol/timeframe.
func (a *Adapter) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]core.Candle, error) {
	if a.md != nil && limit <= 1 {
		return a.md.Candles(ctx, symbol, timeframe, limit)
	}
	path := fmt.Sprintf("v2/candles/trade:%s:%s/hist?limit=%d", timeframe, symbol, limit)
	respBody, err := a.rest.Public(ctx, a.EndpointClass("candles"), path)
	if err != nil {
		return nil, err
	}
	return parseCandlesRESTResponse(symbol, timeframe, respBody)
}

// GetSymbols lists every exchange-traded symbol.
func (a *Adapter) GetSymbols(ctx context.Context) ([]string, error) {
	respBody, err := a.rest.Public(ctx, a.EndpointClass("symbols"), "v2/conf/pub:list:pair:exchange")
	if err != nil {
		return nil, err
	}
	var outer [][]string
	if err := json.Unmarshal(respBody, &outer); err != nil || len(outer) == 0 {
		return nil, fmt.Errorf("bitfinex: unexpected symbols response: %w", err)
	}
	symbols := make([]string, len(outer[0]))
	for i, s := range outer[0] {
		symbols[i] = "t" + s
	}
	return symbols, nil
}

func clientOrderIDToInt(clientOrderID string) int64 {
	n, err := strconv.ParseInt(clientOrderID, 10, 64)
	if err != nil {
		return time.Now().UnixNano() % 1_000_000_000
	}
	return n
}

var _ core.IExchangeClient = (*Adapter)(nil)
