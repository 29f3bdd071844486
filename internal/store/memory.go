package store

import (
	"context"
	"sync"
)

// MemoryStore is the in-memory Store used for dry runs and tests. It
// mirrors RedisStore's semantics, including the MarkProcessed first-writer
// gate.
type MemoryStore struct {
	mu        sync.Mutex
	configs   map[string]BotConfig
	states    map[string]BotState
	orders    map[string]map[string]struct{}
	processed map[string]map[string]struct{}
	symbols   map[string]map[string]struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:   make(map[string]BotConfig),
		states:    make(map[string]BotState),
		orders:    make(map[string]map[string]struct{}),
		processed: make(map[string]map[string]struct{}),
		symbols:   make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) BotConfig(ctx context.Context, botID string) (*BotConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[botID]
	if !ok {
		return nil, ErrBotNotFound
	}
	out := cfg
	return &out, nil
}

func (s *MemoryStore) SaveBotConfig(ctx context.Context, cfg *BotConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.BotID] = *cfg
	if s.symbols[cfg.Symbol] == nil {
		s.symbols[cfg.Symbol] = make(map[string]struct{})
	}
	s.symbols[cfg.Symbol][cfg.BotID] = struct{}{}
	return nil
}

func (s *MemoryStore) BotState(ctx context.Context, botID string) (*BotState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[botID]
	if !ok {
		return NewBotState(), nil
	}
	out := state
	out.BracketIDs = append([]string(nil), state.BracketIDs...)
	return &out, nil
}

func (s *MemoryStore) SaveBotState(ctx context.Context, botID string, state *BotState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	cp.BracketIDs = append([]string(nil), state.BracketIDs...)
	s.states[botID] = cp
	return nil
}

func (s *MemoryStore) BotsForSymbol(ctx context.Context, symbol string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.symbols[symbol] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) MarkProcessed(ctx context.Context, botID, signalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processed[botID] == nil {
		s.processed[botID] = make(map[string]struct{})
	}
	if _, seen := s.processed[botID][signalID]; seen {
		return false, nil
	}
	s.processed[botID][signalID] = struct{}{}
	return true, nil
}

func (s *MemoryStore) AlreadyProcessed(ctx context.Context, botID, signalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, seen := s.processed[botID][signalID]
	return seen, nil
}

func (s *MemoryStore) TrackOrder(ctx context.Context, botID, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orders[botID] == nil {
		s.orders[botID] = make(map[string]struct{})
	}
	s.orders[botID][orderID] = struct{}{}
	return nil
}

func (s *MemoryStore) UntrackOrder(ctx context.Context, botID, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders[botID], orderID)
	return nil
}

func (s *MemoryStore) TrackedOrders(ctx context.Context, botID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.orders[botID] {
		ids = append(ids, id)
	}
	return ids, nil
}
