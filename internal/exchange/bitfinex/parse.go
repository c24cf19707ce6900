package bitfinex

import (
	"encoding/json"
	"fmt"
	"time"

	"bitfinex-trader/internal/core"

	"github.com/shopspring/decimal"
)

// parseOrderSubmitResponse decodes the notification envelope order/submit
// returns: [MTS, TYPE, MESSAGE_ID, null, [ORDER], CODE, STATUS, TEXT].
func parseOrderSubmitResponse(body []byte, intent core.OrderIntent) (core.Order, error) {
	var envelope []json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope) < 7 {
		return core.Order{}, fmt.Errorf("bitfinex: unexpected order submit response: %s", body)
	}

	var status string
	_ = json.Unmarshal(envelope[6], &status)
	if status != "SUCCESS" {
		var text string
		if len(envelope) > 7 {
			_ = json.Unmarshal(envelope[7], &text)
		}
		return core.Order{}, &orderRejected{status: status, text: text}
	}

	var ordersRaw [][]json.RawMessage
	if err := json.Unmarshal(envelope[4], &ordersRaw); err != nil || len(ordersRaw) == 0 {
		return core.Order{}, fmt.Errorf("bitfinex: order submit response missing order payload")
	}

	order, err := orderFromFields(ordersRaw[0])
	if err != nil {
		return core.Order{}, err
	}
	order.ClientOrderID = intent.ClientOrderID
	order.CreatedAt = time.Now()
	return order, nil
}

type orderRejected struct {
	status string
	text   string
}

func (e *orderRejected) Error() string {
	return fmt.Sprintf("bitfinex: order submit %s: %s", e.status, e.text)
}

// parseOrdersResponse decodes a bare array of order field-arrays, the
// shape both the active-orders and order-by-id endpoints return.
func parseOrdersResponse(body []byte) ([]core.Order, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("bitfinex: unexpected orders response: %w", err)
	}
	orders := make([]core.Order, 0, len(rows))
	for _, row := range rows {
		o, err := orderFromFields(row)
		if err != nil {
			continue
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// orderFromFields decodes one order field-array:
// [ID, GID, CID, SYMBOL, MTS_CREATE, MTS_UPDATE, AMOUNT, AMOUNT_ORIG,
// TYPE, ..., STATUS, ..., PRICE, ...].
func orderFromFields(fields []json.RawMessage) (core.Order, error) {
	if len(fields) < 17 {
		return core.Order{}, fmt.Errorf("bitfinex: order field array too short (%d)", len(fields))
	}

	var id int64
	var symbol, orderType, status string
	var mtsCreate int64
	var amount, amountOrig, price float64

	_ = json.Unmarshal(fields[0], &id)
	_ = json.Unmarshal(fields[3], &symbol)
	_ = json.Unmarshal(fields[4], &mtsCreate)
	_ = json.Unmarshal(fields[6], &amount)
	_ = json.Unmarshal(fields[7], &amountOrig)
	_ = json.Unmarshal(fields[8], &orderType)
	_ = json.Unmarshal(fields[13], &status)
	_ = json.Unmarshal(fields[16], &price)

	side := core.OrderSideBuy
	if amountOrig < 0 {
		side = core.OrderSideSell
	}

	return core.Order{
		ExchangeOrderID: id,
		Symbol:          symbol,
		Side:            side,
		Type:            core.OrderType(orderType),
		Amount:          decimal.NewFromFloat(amountOrig).Abs(),
		Price:           decimal.NewFromFloat(price),
		FilledAmount:    decimal.NewFromFloat(amountOrig - amount).Abs(),
		Status:          mapOrderStatus(status),
		CreatedAt:       time.UnixMilli(mtsCreate),
		UpdatedAt:       time.Now(),
	}, nil
}

func mapOrderStatus(raw string) core.OrderStatus {
	switch {
	case raw == "ACTIVE":
		return core.OrderStatusActive
	case raw == "EXECUTED":
		return core.OrderStatusFilled
	case raw == "CANCELED":
		return core.OrderStatusCanceled
	case len(raw) >= 16 && raw[:16] == "PARTIALLY FILLED":
		return core.OrderStatusPartiallyFilled
	default:
		return core.OrderStatusRejected
	}
}

// parseWalletBalance decodes the wallets response
// [[TYPE, CURRENCY, BALANCE, UNSETTLED_INTEREST, AVAILABLE_BALANCE], ...]
// and returns the available balance of the requested currency.
func parseWalletBalance(body []byte, currency string) (decimal.Decimal, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return decimal.Zero, fmt.Errorf("bitfinex: unexpected wallets response: %w", err)
	}
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		var cur string
		_ = json.Unmarshal(row[1], &cur)
		if cur != currency {
			continue
		}
		var available float64
		_ = json.Unmarshal(row[4], &available)
		return decimal.NewFromFloat(available), nil
	}
	return decimal.Zero, nil
}

// sumWalletBalances adds every wallet's available balance together as a
// rough total-equity figure.
func sumWalletBalances(body []byte) (decimal.Decimal, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return decimal.Zero, fmt.Errorf("bitfinex: unexpected wallets response: %w", err)
	}
	total := decimal.Zero
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		var available float64
		_ = json.Unmarshal(row[4], &available)
		total = total.Add(decimal.NewFromFloat(available))
	}
	return total, nil
}

// parseTickerRESTResponse decodes the public ticker REST response, the
// same field layout as the WS ticker channel.
func parseTickerRESTResponse(symbol string, body []byte) (core.Ticker, error) {
	var fields []float64
	if err := json.Unmarshal(body, &fields); err != nil || len(fields) < 10 {
		return core.Ticker{}, fmt.Errorf("bitfinex: unexpected ticker response: %s", body)
	}
	return core.Ticker{
		Symbol:    symbol,
		Bid:       decimal.NewFromFloat(fields[0]),
		Ask:       decimal.NewFromFloat(fields[2]),
		Last:      decimal.NewFromFloat(fields[6]),
		Volume24h: decimal.NewFromFloat(fields[7]),
		Source:    core.DataSourceREST,
		Timestamp: time.Now(),
	}, nil
}

// parseCandlesRESTResponse decodes the public candles REST response:
// an array of [MTS, OPEN, CLOSE, HIGH, LOW, VOLUME] rows, newest first.
// The candles are returned in reverse row order, oldest first, so the
// last element is the most recent candle.
func parseCandlesRESTResponse(symbol, timeframe string, body []byte) ([]core.Candle, error) {
	var rows [][]float64
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("bitfinex: unexpected candles response: %w", err)
	}
	candles := make([]core.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			continue
		}
		candles = append(candles, core.Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			Open:      decimal.NewFromFloat(row[1]),
			Close:     decimal.NewFromFloat(row[2]),
			High:      decimal.NewFromFloat(row[3]),
			Low:       decimal.NewFromFloat(row[4]),
			Volume:    decimal.NewFromFloat(row[5]),
			Source:    core.DataSourceREST,
			Timestamp: time.UnixMilli(int64(row[0])),
		})
	}
	return candles, nil
}
