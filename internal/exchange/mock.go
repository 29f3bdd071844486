package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"regime-trading-bot/internal/filters"
)

// MockClient is the dry-run in-memory exchange. It accepts valid orders,
// tracks them as open, and serves configurable balances and filters. Used
// for dry-run mode and in tests.
type MockClient struct {
	mu sync.Mutex

	nextID    int64
	orders    map[string]Order // order id -> order
	positions map[string]Position
	balances  map[string]decimal.Decimal
	filters   map[string]filters.SymbolFilters

	// PlaceErr, when set, fails the next PlaceOrder calls.
	PlaceErr error
	// FailAfter fails PlaceOrder once placed calls exceed this count
	// (0 disables). Used to simulate partial bracket placement.
	FailAfter int
	placed    int
}

var _ Client = (*MockClient)(nil)

// NewMockClient creates a dry-run client with defaults suitable for tests:
// 10000 USDT free balance and permissive filters for any symbol.
func NewMockClient() *MockClient {
	return &MockClient{
		nextID:    1,
		orders:    make(map[string]Order),
		positions: make(map[string]Position),
		balances:  map[string]decimal.Decimal{"USDT": decimal.NewFromInt(10000)},
		filters:   make(map[string]filters.SymbolFilters),
	}
}

// SetBalance sets the free balance for an asset.
func (m *MockClient) SetBalance(asset string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[asset] = amount
}

// SetFilters installs filters for a symbol.
func (m *MockClient) SetFilters(f filters.SymbolFilters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters[f.Symbol] = f
}

// SetPosition installs a position for a symbol.
func (m *MockClient) SetPosition(p Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.Symbol] = p
}

// PlacedCount reports how many orders were accepted.
func (m *MockClient) PlacedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placed
}

func (m *MockClient) PlaceOrder(ctx context.Context, params OrderParams) (*OrderAck, error) {
	if err := ValidateOrderParams(params); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PlaceErr != nil {
		return nil, m.PlaceErr
	}
	if m.FailAfter > 0 && m.placed >= m.FailAfter {
		return nil, fmt.Errorf("mock: place order rejected after %d orders", m.FailAfter)
	}

	id := fmt.Sprintf("%d", m.nextID)
	m.nextID++
	m.placed++
	m.orders[id] = Order{
		OrderID:   id,
		Symbol:    params.Symbol,
		Side:      params.Side,
		Type:      params.Type,
		Status:    OrderStatusNew,
		Price:     params.Price,
		StopPrice: params.StopPrice,
		OrigQty:   params.Quantity,
	}
	return &OrderAck{OrderID: id, Status: OrderStatusNew}, nil
}

func (m *MockClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderID]; !ok {
		return ErrOrderNotFound
	}
	delete(m.orders, orderID)
	return nil
}

func (m *MockClient) OpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MockClient) Positions(ctx context.Context, symbol string) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Position
	for _, p := range m.positions {
		if symbol == "" || p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MockClient) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[asset], nil
}

func (m *MockClient) SymbolFilters(ctx context.Context, symbol string) (filters.SymbolFilters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.filters[symbol]; ok {
		return f, nil
	}
	return filters.SymbolFilters{
		Symbol:      symbol,
		QuoteAsset:  "USDT",
		TickSize:    decimal.RequireFromString("0.01"),
		StepSize:    decimal.RequireFromString("0.001"),
		MinQty:      decimal.RequireFromString("0.001"),
		MinNotional: decimal.RequireFromString("5"),
	}, nil
}
