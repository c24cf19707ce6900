package persistence

import (
	"encoding/json"

	"bitfinex-trader/internal/core"

	"github.com/shopspring/decimal"
)

type intentJSON struct {
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	Price         string `json:"price"`
	StopPrice     string `json:"stop_price"`
	PostOnly      bool   `json:"post_only"`
	ReduceOnly    bool   `json:"reduce_only"`
	BracketGroup  string `json:"bracket_group"`
}

func encodeIntent(intent core.OrderIntent) (string, error) {
	data, err := json.Marshal(intentJSON{
		ClientOrderID: intent.ClientOrderID,
		Symbol:        intent.Symbol,
		Side:          string(intent.Side),
		Type:          string(intent.Type),
		Amount:        intent.Amount.String(),
		Price:         intent.Price.String(),
		StopPrice:     intent.StopPrice.String(),
		PostOnly:      intent.PostOnly,
		ReduceOnly:    intent.ReduceOnly,
		BracketGroup:  intent.BracketGroup,
	})
	return string(data), err
}

func decodeIntent(raw string) (core.OrderIntent, error) {
	var j intentJSON
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return core.OrderIntent{}, err
	}

	amount, err := parseDecimalOrZero(j.Amount)
	if err != nil {
		return core.OrderIntent{}, err
	}
	price, err := parseDecimalOrZero(j.Price)
	if err != nil {
		return core.OrderIntent{}, err
	}
	stopPrice, err := parseDecimalOrZero(j.StopPrice)
	if err != nil {
		return core.OrderIntent{}, err
	}

	return core.OrderIntent{
		ClientOrderID: j.ClientOrderID,
		Symbol:        j.Symbol,
		Side:          core.OrderSide(j.Side),
		Type:          core.OrderType(j.Type),
		Amount:        amount,
		Price:         price,
		StopPrice:     stopPrice,
		PostOnly:      j.PostOnly,
		ReduceOnly:    j.ReduceOnly,
		BracketGroup:  j.BracketGroup,
	}, nil
}

func parseDecimalOrZero(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
