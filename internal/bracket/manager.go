// Package bracket owns entry/stop-loss/take-profit order groups: it
// submits the entry leg, and once it fills, arms the stop-loss and
// take-profit legs together so that whichever fills first cancels the
// other (one-cancels-other). Bracket state is snapshotted to disk after
// every transition so a restart can reconcile against what the exchange
// actually has open rather than trusting stale in-memory state.
package bracket

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"bitfinex-trader/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LegRole identifies which leg of a bracket an order belongs to.
type LegRole string

const (
	LegEntry      LegRole = "entry"
	LegStopLoss   LegRole = "stop_loss"
	LegTakeProfit LegRole = "take_profit"
)

// legState is the lifecycle of one leg within a bracket.
type legState string

const (
	legPending legState = "pending" // not yet submitted
	legOpen    legState = "open"    // live on the exchange
	legFilled  legState = "filled"
	legClosed  legState = "closed" // canceled because a sibling leg filled
)

// leg is one order within a bracket group. OriginalAmount is the size
// requested at Open and never mutated; Intent.Amount is resized down
// from it as the entry leg fills partially.
type leg struct {
	Role            LegRole          `json:"role"`
	Intent          core.OrderIntent `json:"intent"`
	OriginalAmount  decimal.Decimal  `json:"original_amount"`
	ExchangeOrderID int64            `json:"exchange_order_id"`
	State           legState         `json:"state"`
}

// minAmountStep is the order-size increment protective legs are rounded
// to after a proportional resize, matching Bitfinex's 8-decimal amount
// precision.
var minAmountStep = decimal.NewFromFloat(0.00000001)

// Group is one entry/SL/TP bracket.
type Group struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Legs      []*leg    `json:"legs"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager implements core.IBracketManager.
type Manager struct {
	pipeline core.IOrderPipeline
	exchange core.IExchangeClient
	logger   core.ILogger

	snapshotPath string

	mu     sync.Mutex
	groups map[string]*Group
}

// New builds a Manager, loading any bracket groups persisted from a
// previous run.
func New(pipeline core.IOrderPipeline, exchange core.IExchangeClient, snapshotPath string, logger core.ILogger) (*Manager, error) {
	m := &Manager{
		pipeline:     pipeline,
		exchange:     exchange,
		logger:       logger.WithField("component", "bracket_manager"),
		snapshotPath: snapshotPath,
		groups:       make(map[string]*Group),
	}

	groups, err := loadSnapshot(snapshotPath)
	if err != nil {
		return nil, fmt.Errorf("bracket: loading snapshot: %w", err)
	}
	for _, g := range groups {
		m.groups[g.ID] = g
	}
	return m, nil
}

// Open submits entry and registers stopLoss/takeProfit as pending legs
// that arm once entry fills.
func (m *Manager) Open(ctx context.Context, entry, stopLoss, takeProfit core.OrderIntent) (string, error) {
	groupID := uuid.NewString()
	entry.BracketGroup = groupID
	stopLoss.BracketGroup = groupID
	takeProfit.BracketGroup = groupID

	order, err := m.pipeline.Submit(ctx, entry)
	if err != nil {
		return "", fmt.Errorf("bracket: submit entry leg: %w", err)
	}

	group := &Group{
		ID:     groupID,
		Symbol: entry.Symbol,
		Legs: []*leg{
			{Role: LegEntry, Intent: entry, OriginalAmount: entry.Amount, ExchangeOrderID: order.ExchangeOrderID, State: legOpen},
			{Role: LegStopLoss, Intent: stopLoss, OriginalAmount: stopLoss.Amount, State: legPending},
			{Role: LegTakeProfit, Intent: takeProfit, OriginalAmount: takeProfit.Amount, State: legPending},
		},
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.groups[groupID] = group
	m.mu.Unlock()

	m.persist()
	return groupID, nil
}

// OnFill handles an exchange fill notification for exchangeOrderID. A
// partial entry fill resizes the pending protective legs proportionally
// and leaves the entry open for further fills; a full entry fill arms
// the (possibly resized) protective legs. A protective leg fill cancels
// its sibling.
func (m *Manager) OnFill(ctx context.Context, exchangeOrderID int64, filledAmount decimal.Decimal) error {
	m.mu.Lock()
	group, l := m.findLeg(exchangeOrderID)
	if group == nil || l == nil {
		m.mu.Unlock()
		return nil // fill belongs to an order this manager doesn't own
	}

	if l.Role != LegEntry {
		l.State = legFilled
		m.mu.Unlock()
		switch l.Role {
		case LegStopLoss:
			return m.closeSibling(ctx, group, LegTakeProfit)
		case LegTakeProfit:
			return m.closeSibling(ctx, group, LegStopLoss)
		}
		return nil
	}

	ratio := decimal.NewFromInt(1)
	if l.OriginalAmount.IsPositive() {
		ratio = core.Clamp(filledAmount.Div(l.OriginalAmount), decimal.Zero, decimal.NewFromInt(1))
	}
	m.resizeProtectiveLegs(group, ratio)

	fullyFilled := ratio.GreaterThanOrEqual(decimal.NewFromInt(1))
	if fullyFilled {
		l.State = legFilled
	}
	m.mu.Unlock()

	if !fullyFilled {
		m.persist()
		return nil
	}
	return m.armProtectiveLegs(ctx, group)
}

// resizeProtectiveLegs scales every pending stop-loss/take-profit leg's
// order size to ratio of its originally requested amount, rounding down
// to minAmountStep. Must be called with m.mu held.
func (m *Manager) resizeProtectiveLegs(group *Group, ratio decimal.Decimal) {
	for _, pl := range group.legs() {
		if pl.Role == LegEntry || pl.State != legPending {
			continue
		}
		pl.Intent.Amount = core.RoundToStep(pl.OriginalAmount.Mul(ratio), minAmountStep)
	}
}

func (m *Manager) armProtectiveLegs(ctx context.Context, group *Group) error {
	for _, l := range group.legs() {
		if l.Role == LegEntry || l.State != legPending {
			continue
		}
		order, err := m.pipeline.Submit(ctx, l.Intent)
		if err != nil {
			m.logger.Error("bracket: failed to arm protective leg", "group", group.ID, "role", l.Role, "error", err)
			continue
		}
		m.mu.Lock()
		l.ExchangeOrderID = order.ExchangeOrderID
		l.State = legOpen
		m.mu.Unlock()
	}
	m.persist()
	return nil
}

func (m *Manager) closeSibling(ctx context.Context, group *Group, role LegRole) error {
	var sibling *leg
	for _, l := range group.legs() {
		if l.Role == role {
			sibling = l
		}
	}
	if sibling == nil || sibling.State != legOpen {
		return nil
	}

	err := m.pipeline.Cancel(ctx, sibling.ExchangeOrderID)
	m.mu.Lock()
	sibling.State = legClosed
	m.mu.Unlock()
	m.persist()
	if err != nil {
		m.logger.Warn("bracket: failed to cancel sibling leg, exchange may reconcile it later", "group", group.ID, "role", role, "error", err)
	}
	return nil
}

// Reconcile compares every open leg against the exchange's live order
// list, clearing legs the exchange no longer reports (filled elsewhere,
// or canceled out of band) so the manager's state never drifts
// indefinitely from reality after a reconnect.
func (m *Manager) Reconcile(ctx context.Context) error {
	m.mu.Lock()
	symbols := make(map[string]bool)
	for _, g := range m.groups {
		symbols[g.Symbol] = true
	}
	m.mu.Unlock()

	live := make(map[int64]bool)
	for symbol := range symbols {
		orders, err := m.exchange.GetOpenOrders(ctx, symbol)
		if err != nil {
			return fmt.Errorf("bracket: reconcile %s: %w", symbol, err)
		}
		for _, o := range orders {
			live[o.ExchangeOrderID] = true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, group := range m.groups {
		for _, l := range group.legs() {
			if l.State != legOpen {
				continue
			}
			if !live[l.ExchangeOrderID] {
				m.logger.Warn("bracket: leg no longer open on exchange, assuming filled or externally canceled", "group", group.ID, "role", l.Role, "exchange_order_id", l.ExchangeOrderID)
				l.State = legFilled
			}
		}
	}
	m.persist()
	return nil
}

func (m *Manager) findLeg(exchangeOrderID int64) (*Group, *leg) {
	for _, g := range m.groups {
		for _, l := range g.legs() {
			if l.ExchangeOrderID == exchangeOrderID {
				return g, l
			}
		}
	}
	return nil, nil
}

func (g *Group) legs() []*leg { return g.Legs }

func (m *Manager) persist() {
	m.mu.Lock()
	groups := make([]*Group, 0, len(m.groups))
	for _, g := range m.groups {
		groups = append(groups, g)
	}
	m.mu.Unlock()

	if err := saveSnapshot(m.snapshotPath, groups); err != nil {
		m.logger.Warn("bracket: failed to persist snapshot", "error", err)
	}
}

func loadSnapshot(path string) ([]*Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var groups []*Group
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("corrupt bracket snapshot at %s: %w", path, err)
	}
	return groups, nil
}

func saveSnapshot(path string, groups []*Group) error {
	data, err := json.Marshal(groups)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".brackets-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

var _ core.IBracketManager = (*Manager)(nil)
