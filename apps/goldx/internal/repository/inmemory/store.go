// Package inmemory implements the repository interfaces on process memory.
// It backs STORAGE=memory and the service tests.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"goldexchange/apps/goldx/internal/model"
	"goldexchange/apps/goldx/internal/repository"
)

// Store keeps quotes, transactions, outbox events and reconciliation cases
// behind a single mutex so multi-table writes stay atomic.
type Store struct {
	mu           sync.Mutex
	now          func() time.Time
	quotes       map[string]model.Quote
	transactions map[int64]model.ExchangeTransaction
	byQuote      map[string]int64
	bySignature  map[string]int64
	events       []model.OutboxEvent
	cases        map[int64]model.ReconciliationCase
	nextID       int64
}

var (
	_ repository.QuoteStore          = (*Store)(nil)
	_ repository.TransactionStore    = (*Store)(nil)
	_ repository.OutboxStore         = (*Store)(nil)
	_ repository.ReconciliationStore = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		now:          time.Now,
		quotes:       make(map[string]model.Quote),
		transactions: make(map[int64]model.ExchangeTransaction),
		byQuote:      make(map[string]int64),
		bySignature:  make(map[string]int64),
		cases:        make(map[int64]model.ReconciliationCase),
	}
}

// WithClock sets the clock used for created/updated timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) CreateQuote(_ context.Context, q model.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.QuoteID] = q
	return nil
}

func (s *Store) GetQuote(_ context.Context, quoteID string) (*model.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[quoteID]
	if !ok {
		return nil, nil
	}
	return &q, nil
}

func (s *Store) BindWallet(_ context.Context, quoteID, walletAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[quoteID]
	if !ok {
		return repository.ErrQuoteMissing
	}
	if q.WalletAddress != "" && q.WalletAddress != walletAddress {
		return repository.ErrQuoteBound
	}
	q.WalletAddress = walletAddress
	s.quotes[quoteID] = q
	return nil
}

func (s *Store) CreateTransaction(_ context.Context, t *model.ExchangeTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byQuote[t.QuoteID]; exists {
		return repository.ErrDuplicateQuote
	}
	s.nextID++
	t.ID = s.nextID
	t.CreatedAt = s.now()
	t.UpdatedAt = t.CreatedAt
	s.transactions[t.ID] = *t
	s.byQuote[t.QuoteID] = t.ID
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id int64) (*model.ExchangeTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *Store) GetTransactionByQuoteID(_ context.Context, quoteID string) (*model.ExchangeTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byQuote[quoteID]
	if !ok {
		return nil, nil
	}
	t := s.transactions[id]
	return &t, nil
}

func (s *Store) Transition(_ context.Context, id int64, decide repository.Decide) (*model.ExchangeTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.transactions[id]
	if !ok {
		return nil, nil
	}

	change, decideErr := decide(current)
	if change == nil {
		return &current, decideErr
	}

	if change.TxSignature != nil {
		if owner, taken := s.bySignature[*change.TxSignature]; taken && owner != id {
			return nil, repository.ErrDuplicateSignature
		}
		s.bySignature[*change.TxSignature] = id
		current.TxSignature = change.TxSignature
	}
	current.Status = change.Status
	current.StatusMessage = change.Message
	current.UpdatedAt = s.now()
	s.transactions[id] = current
	s.appendEvent(change.Event)

	return &current, decideErr
}

func (s *Store) Settle(_ context.Context, id int64, from model.Status, settlement repository.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.transactions[id]
	if !ok || current.Status != from {
		return repository.ErrStatusConflict
	}

	now := s.now()
	current.Status = settlement.Status
	current.StatusMessage = settlement.Message
	if settlement.SecondLegSignature != nil {
		current.SecondLegSignature = settlement.SecondLegSignature
	}
	if settlement.CounterpartyAccount != "" {
		current.CounterpartyAccount = settlement.CounterpartyAccount
	}
	current.NeedsReconciliation = settlement.NeedsReconciliation
	current.UpdatedAt = now
	if settlement.Status == model.StatusCompleted {
		current.CompletedAt = &now
	}
	s.transactions[id] = current

	if settlement.MarkQuoteUsed {
		if q, ok := s.quotes[current.QuoteID]; ok {
			q.Used = true
			s.quotes[current.QuoteID] = q
		}
	}
	s.appendEvent(settlement.Event)
	return nil
}

func (s *Store) appendEvent(event *model.OutboxEvent) {
	if event == nil {
		return
	}
	e := *event
	e.Status = model.OutboxUnsent
	e.CreatedAt = s.now()
	s.events = append(s.events, e)
}

func (s *Store) ListByWallet(_ context.Context, walletAddress string, limit int) ([]model.ExchangeTransaction, error) {
	return s.filter(limit, newestFirst, func(t model.ExchangeTransaction) bool {
		return t.WalletAddress == walletAddress
	}), nil
}

func (s *Store) ListRecent(_ context.Context, limit int) ([]model.ExchangeTransaction, error) {
	return s.filter(limit, newestFirst, func(model.ExchangeTransaction) bool { return true }), nil
}

func (s *Store) ListStuckProcessing(_ context.Context, updatedBefore time.Time, limit int) ([]model.ExchangeTransaction, error) {
	return s.filter(limit, oldestFirst, func(t model.ExchangeTransaction) bool {
		return t.Status == model.StatusProcessing && t.UpdatedAt.Before(updatedBefore)
	}), nil
}

func (s *Store) ListAbandonedPending(_ context.Context, quoteExpiredBefore time.Time, limit int) ([]model.ExchangeTransaction, error) {
	return s.filter(limit, oldestFirst, func(t model.ExchangeTransaction) bool {
		return t.Status == model.StatusPending && t.QuoteExpiresAt.Before(quoteExpiredBefore)
	}), nil
}

func newestFirst(a, b model.ExchangeTransaction) bool { return a.ID > b.ID }
func oldestFirst(a, b model.ExchangeTransaction) bool { return a.ID < b.ID }

func (s *Store) filter(limit int, less func(a, b model.ExchangeTransaction) bool, keep func(model.ExchangeTransaction) bool) []model.ExchangeTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.ExchangeTransaction
	for _, t := range s.transactions {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) Stats(_ context.Context) (*model.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &model.Stats{CountsByStatus: make(map[model.Status]int64)}
	for _, t := range s.transactions {
		stats.CountsByStatus[t.Status]++
		if t.NeedsReconciliation {
			stats.Flagged++
		}
		if t.Status != model.StatusCompleted {
			continue
		}
		switch t.Type {
		case model.ActionBuy:
			stats.SettlementIn = stats.SettlementIn.Add(t.SettlementAmount)
			stats.TokensMinted = stats.TokensMinted.Add(t.TokenAmount)
			stats.FeesCollected = stats.FeesCollected.Add(t.Fees.Treasury).Add(t.Fees.Profit).Add(t.Fees.Transaction)
		case model.ActionSell:
			stats.SettlementOut = stats.SettlementOut.Add(t.SettlementAmount)
			stats.TokensBurned = stats.TokensBurned.Add(t.TokenAmount)
		}
	}
	return stats, nil
}

func (s *Store) ClaimUnsentEvents(_ context.Context, limit int, lease time.Duration) ([]model.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var claimed []model.OutboxEvent
	for i := range s.events {
		if limit > 0 && len(claimed) == limit {
			break
		}
		e := &s.events[i]
		stale := e.Status == model.OutboxProcessing && now.Sub(e.ClaimedAt) > lease
		if e.Status == model.OutboxUnsent || stale {
			e.Status = model.OutboxProcessing
			e.ClaimedAt = now
			claimed = append(claimed, *e)
		}
	}
	return claimed, nil
}

func (s *Store) MarkEventSent(_ context.Context, eventID string) error {
	s.setEventStatus(eventID, "", model.OutboxSent)
	return nil
}

func (s *Store) MarkEventUnsent(_ context.Context, eventID string) error {
	s.setEventStatus(eventID, model.OutboxProcessing, model.OutboxUnsent)
	return nil
}

func (s *Store) setEventStatus(eventID, from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].EventID == eventID && (from == "" || s.events[i].Status == from) {
			s.events[i].Status = to
		}
	}
}

// Events returns a copy of every outbox event recorded so far.
func (s *Store) Events() []model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.OutboxEvent(nil), s.events...)
}

func (s *Store) UpsertCase(_ context.Context, c model.ReconciliationCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.cases[c.TransactionID]; ok && existing.Status != model.CaseOpen {
		return nil
	}
	c.Status = model.CaseOpen
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.cases[c.TransactionID] = c
	return nil
}

func (s *Store) ListCases(_ context.Context, status string, limit int) ([]model.ReconciliationCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ReconciliationCase
	for _, c := range s.cases {
		if c.Status == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ResolveCase(_ context.Context, transactionID int64, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[transactionID]
	if !ok || c.Status != model.CaseOpen {
		return repository.ErrCaseNotOpen
	}
	now := s.now()
	c.Status = model.CaseResolved
	c.ResolutionNote = note
	c.ResolvedAt = &now
	s.cases[transactionID] = c
	return nil
}
