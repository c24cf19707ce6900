package wsclient

import (
	"encoding/json"
	"time"

	"bitfinex-trader/internal/core"

	"github.com/shopspring/decimal"
)

// parseTickerPayload decodes a Bitfinex ticker data frame:
// [chanId, [BID, BID_SIZE, ASK, ASK_SIZE, DAILY_CHANGE, DAILY_CHANGE_REL,
// LAST_PRICE, VOLUME, HIGH, LOW]].
func parseTickerPayload(symbol string, raw json.RawMessage) (core.Ticker, bool) {
	var frame [2]json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		return core.Ticker{}, false
	}

	var fields []float64
	if err := json.Unmarshal(frame[1], &fields); err != nil || len(fields) < 10 {
		return core.Ticker{}, false
	}

	return core.Ticker{
		Symbol:    symbol,
		Bid:       decimal.NewFromFloat(fields[0]),
		Ask:       decimal.NewFromFloat(fields[2]),
		Last:      decimal.NewFromFloat(fields[6]),
		Volume24h: decimal.NewFromFloat(fields[7]),
		Source:    core.DataSourceWS,
		Timestamp: time.Now(),
	}, true
}

// parseCandlesPayload decodes either a snapshot (array of candle rows) or
// a single candle update: [MTS, OPEN, CLOSE, HIGH, LOW, VOLUME].
func parseCandlesPayload(symbol, timeframe string, raw json.RawMessage) []core.Candle {
	var frame [2]json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil
	}

	var rows [][]float64
	if err := json.Unmarshal(frame[1], &rows); err == nil {
		out := make([]core.Candle, 0, len(rows))
		for _, row := range rows {
			if c, ok := candleFromRow(symbol, timeframe, row); ok {
				out = append(out, c)
			}
		}
		return out
	}

	var single []float64
	if err := json.Unmarshal(frame[1], &single); err == nil {
		if c, ok := candleFromRow(symbol, timeframe, single); ok {
			return []core.Candle{c}
		}
	}
	return nil
}

func candleFromRow(symbol, timeframe string, row []float64) (core.Candle, bool) {
	if len(row) < 6 {
		return core.Candle{}, false
	}
	return core.Candle{
		Symbol:    symbol,
		Timeframe: timeframe,
		Open:      decimal.NewFromFloat(row[1]),
		Close:     decimal.NewFromFloat(row[2]),
		High:      decimal.NewFromFloat(row[3]),
		Low:       decimal.NewFromFloat(row[4]),
		Volume:    decimal.NewFromFloat(row[5]),
		Source:    core.DataSourceWS,
		Timestamp: time.UnixMilli(int64(row[0])),
	}, true
}

// parseOrderUpdate decodes an authenticated order-channel event:
// [0, "on"|"ou"|"oc", [ORDER_ID, GID, CID, SYMBOL, MTS_CREATE, MTS_UPDATE,
// AMOUNT, AMOUNT_ORIG, TYPE, ...]].
func parseOrderUpdate(raw json.RawMessage) (core.Order, bool) {
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil || len(frame) < 3 {
		return core.Order{}, false
	}

	var eventType string
	if err := json.Unmarshal(frame[1], &eventType); err != nil {
		return core.Order{}, false
	}
	if eventType != "on" && eventType != "ou" && eventType != "oc" {
		return core.Order{}, false
	}

	var fields []json.RawMessage
	if err := json.Unmarshal(frame[2], &fields); err != nil || len(fields) < 8 {
		return core.Order{}, false
	}

	var orderID int64
	var symbol string
	var amount, amountOrig float64
	_ = json.Unmarshal(fields[0], &orderID)
	_ = json.Unmarshal(fields[3], &symbol)
	_ = json.Unmarshal(fields[6], &amount)
	_ = json.Unmarshal(fields[7], &amountOrig)

	status := core.OrderStatusActive
	switch eventType {
	case "oc":
		status = core.OrderStatusCanceled
	}
	if amount != amountOrig && amount != 0 {
		status = core.OrderStatusPartiallyFilled
	}

	side := core.OrderSideBuy
	if amountOrig < 0 {
		side = core.OrderSideSell
	}

	return core.Order{
		ExchangeOrderID: orderID,
		Symbol:          symbol,
		Side:            side,
		Amount:          decimal.NewFromFloat(amountOrig).Abs(),
		FilledAmount:    decimal.NewFromFloat(amountOrig - amount).Abs(),
		Status:          status,
		UpdatedAt:       time.Now(),
	}, true
}
