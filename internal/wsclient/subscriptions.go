// Package wsclient layers the Bitfinex v2 public and authenticated
// channel protocol on top of the resilient transport in pkg/websocket:
// channel subscription (there is no unsubscribe), channel-id routing,
// authentication, and
// resubscribing every channel after a reconnect.
package wsclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"bitfinex-trader/internal/core"
	wstransport "bitfinex-trader/pkg/websocket"
)

// TickerHandler is invoked for every ticker update on a subscribed symbol.
type TickerHandler func(core.Ticker)

// CandleHandler is invoked for every candle update on a subscribed
// symbol/timeframe pair.
type CandleHandler func(core.Candle)

// OrderUpdateHandler is invoked for every order-channel event on the
// authenticated socket.
type OrderUpdateHandler func(core.Order)

type subscription struct {
	channel   string // "ticker" or "candles"
	symbol    string
	timeframe string
}

// Manager owns one public and (optionally) one authenticated connection,
// tracking the exchange-assigned channel id for every active subscription
// so incoming frames route to the right handler, and replaying every
// subscription after each reconnect.
type Manager struct {
	public *wstransport.Client
	auth   *wstransport.Client

	apiKey    string
	apiSecret string

	mu            sync.RWMutex
	channelByID   map[int64]subscription
	pendingSubs   []subscription
	tickerHandler TickerHandler
	candleHandler CandleHandler
	orderHandler  OrderUpdateHandler

	logger core.ILogger
}

// New builds a Manager. publicURL and authURL are typically the same
// Bitfinex WS endpoint with the socket distinguished by whether an auth
// payload is sent immediately after connect.
func New(publicURL, authURL, apiKey, apiSecret string, logger core.ILogger) *Manager {
	m := &Manager{
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		channelByID: make(map[int64]subscription),
		logger:      logger,
	}

	m.public = wstransport.NewClient(publicURL, m.handlePublicMessage, logger)
	m.public.SetOnConnected(m.resubscribePublic)

	if authURL != "" {
		m.auth = wstransport.NewClient(authURL, m.handleAuthMessage, logger)
		m.auth.SetOnConnected(m.authenticate)
	}

	return m
}

// OnTicker registers the callback invoked for ticker updates.
func (m *Manager) OnTicker(fn TickerHandler) { m.tickerHandler = fn }

// OnCandle registers the callback invoked for candle updates.
func (m *Manager) OnCandle(fn CandleHandler) { m.candleHandler = fn }

// OnOrderUpdate registers the callback invoked for authenticated order
// events.
func (m *Manager) OnOrderUpdate(fn OrderUpdateHandler) { m.orderHandler = fn }

// Start connects the public socket (and the authenticated one, if
// configured) and begins the reconnect loop.
func (m *Manager) Start(ctx context.Context) error {
	m.public.Start()
	if m.auth != nil {
		m.auth.Start()
	}
	<-ctx.Done()
	m.Stop()
	return ctx.Err()
}

// Stop tears down both sockets.
func (m *Manager) Stop() {
	m.public.Stop()
	if m.auth != nil {
		m.auth.Stop()
	}
}

// SubscribeTicker subscribes to the ticker channel for symbol, replaying
// the subscription automatically on every future reconnect.
func (m *Manager) SubscribeTicker(symbol string) error {
	sub := subscription{channel: "ticker", symbol: symbol}
	m.mu.Lock()
	m.pendingSubs = append(m.pendingSubs, sub)
	m.mu.Unlock()
	return m.public.Send(map[string]interface{}{
		"event":   "subscribe",
		"channel": "ticker",
		"symbol":  symbol,
	})
}

// SubscribeCandles subscribes to the candles channel for symbol/timeframe.
func (m *Manager) SubscribeCandles(symbol, timeframe string) error {
	sub := subscription{channel: "candles", symbol: symbol, timeframe: timeframe}
	m.mu.Lock()
	m.pendingSubs = append(m.pendingSubs, sub)
	m.mu.Unlock()
	key := fmt.Sprintf("trade:%s:%s", timeframe, symbol)
	return m.public.Send(map[string]interface{}{
		"event":   "subscribe",
		"channel": "candles",
		"key":     key,
	})
}

func (m *Manager) resubscribePublic() {
	m.mu.RLock()
	subs := append([]subscription(nil), m.pendingSubs...)
	m.mu.RUnlock()

	for _, sub := range subs {
		switch sub.channel {
		case "ticker":
			_ = m.public.Send(map[string]interface{}{"event": "subscribe", "channel": "ticker", "symbol": sub.symbol})
		case "candles":
			key := fmt.Sprintf("trade:%s:%s", sub.timeframe, sub.symbol)
			_ = m.public.Send(map[string]interface{}{"event": "subscribe", "channel": "candles", "key": key})
		}
	}
}

func (m *Manager) authenticate() {
	nonceStr := strconv.FormatInt(time.Now().UnixMicro(), 10)
	payload := "AUTH" + nonceStr

	mac := hmac.New(sha512.New384, []byte(m.apiSecret))
	mac.Write([]byte(payload))
	signature := hex.EncodeToString(mac.Sum(nil))

	_ = m.auth.Send(map[string]interface{}{
		"event":       "auth",
		"apiKey":      m.apiKey,
		"authSig":     signature,
		"authPayload": payload,
		"authNonce":   nonceStr,
	})
}

// handlePublicMessage parses a public-channel frame. Bitfinex frames are
// either an event object (subscribed/unsubscribed/info/error) or a
// [channelID, payload] array carrying channel data.
func (m *Manager) handlePublicMessage(raw []byte) {
	if event, channelID, ok := parseSubscribedEvent(raw); ok {
		m.mu.Lock()
		m.channelByID[channelID] = event
		m.mu.Unlock()
		return
	}

	channelID, payload, ok := parseChannelFrame(raw)
	if !ok {
		return
	}

	m.mu.RLock()
	sub, known := m.channelByID[channelID]
	m.mu.RUnlock()
	if !known {
		return
	}

	switch sub.channel {
	case "ticker":
		if m.tickerHandler != nil {
			if t, ok := parseTickerPayload(sub.symbol, payload); ok {
				m.tickerHandler(t)
			}
		}
	case "candles":
		if m.candleHandler != nil {
			for _, c := range parseCandlesPayload(sub.symbol, sub.timeframe, payload) {
				m.candleHandler(c)
			}
		}
	}
}

func (m *Manager) handleAuthMessage(raw []byte) {
	orderUpdate, ok := parseOrderUpdate(raw)
	if !ok {
		return
	}
	if m.orderHandler != nil {
		m.orderHandler(orderUpdate)
	}
}

// parseSubscribedEvent recognizes a {"event":"subscribed","chanId":N,...}
// frame and returns the subscription it confirms.
func parseSubscribedEvent(raw []byte) (subscription, int64, bool) {
	var evt struct {
		Event   string `json:"event"`
		ChanID  int64  `json:"chanId"`
		Channel string `json:"channel"`
		Symbol  string `json:"symbol"`
		Key     string `json:"key"`
	}
	if err := json.Unmarshal(raw, &evt); err != nil || evt.Event != "subscribed" {
		return subscription{}, 0, false
	}
	sub := subscription{channel: evt.Channel, symbol: evt.Symbol}
	if evt.Channel == "candles" {
		// The candles channel confirms with key "trade:<timeframe>:<symbol>".
		if parts := strings.SplitN(evt.Key, ":", 3); len(parts) == 3 {
			sub.timeframe, sub.symbol = parts[1], parts[2]
		}
	}
	return sub, evt.ChanID, true
}

// parseChannelFrame recognizes the [channelID, ...payload] array shape
// every data frame uses.
func parseChannelFrame(raw []byte) (int64, json.RawMessage, bool) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil || len(arr) < 2 {
		return 0, nil, false
	}
	var chanID int64
	if err := json.Unmarshal(arr[0], &chanID); err != nil {
		return 0, nil, false
	}
	return chanID, raw, true
}
