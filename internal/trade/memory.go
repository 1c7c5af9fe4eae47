package trade

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps positions and trades in process memory. Positions and
// the trade log are guarded by separate locks.
type MemoryStore struct {
	posMu     sync.RWMutex
	positions map[string]Position

	logMu  sync.RWMutex
	trades []CompletedTrade
	seq    int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{positions: make(map[string]Position)}
}

func (s *MemoryStore) GetPosition(_ context.Context, strategyID string) (Position, error) {
	s.posMu.RLock()
	defer s.posMu.RUnlock()
	p, ok := s.positions[strategyID]
	if !ok {
		return Position{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) PutPosition(_ context.Context, p Position) error {
	s.posMu.Lock()
	s.positions[p.StrategyID] = p
	s.posMu.Unlock()
	return nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, strategyID string) error {
	s.posMu.Lock()
	delete(s.positions, strategyID)
	s.posMu.Unlock()
	return nil
}

func (s *MemoryStore) ListPositions(_ context.Context) ([]Position, error) {
	s.posMu.RLock()
	out := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	s.posMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out, nil
}

func (s *MemoryStore) AppendTrade(_ context.Context, t *CompletedTrade) error {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	s.seq++
	t.Seq = s.seq
	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, f TradeFilter) ([]CompletedTrade, error) {
	s.logMu.RLock()
	defer s.logMu.RUnlock()
	out := make([]CompletedTrade, 0, len(s.trades))
	for _, t := range s.trades {
		if f.StrategyID != "" && t.StrategyID != f.StrategyID {
			continue
		}
		out = append(out, t)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

// Flip takes the log lock before the position lock; nothing else holds both.
func (s *MemoryStore) Flip(_ context.Context, closed *CompletedTrade, next *Position) error {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	s.posMu.Lock()
	defer s.posMu.Unlock()

	if closed != nil {
		s.seq++
		closed.Seq = s.seq
		s.trades = append(s.trades, *closed)
		if next == nil {
			delete(s.positions, closed.StrategyID)
		}
	}
	if next != nil {
		s.positions[next.StrategyID] = *next
	}
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	s.posMu.Lock()
	defer s.posMu.Unlock()
	s.positions = make(map[string]Position)
	s.trades = nil
	s.seq = 0
	return nil
}
