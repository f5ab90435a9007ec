package wallet

import (
	"context"
	"sync"
)

// Mock is an in-process wallet for local runs and tests. Balances are
// seeded per rider; unknown riders get the default balance.
type Mock struct {
	mu             sync.Mutex
	balances       map[string]int64
	defaultBalance int64
	debits         map[string]int64 // idempotency key -> amount
}

var _ Service = (*Mock)(nil)

// NewMock creates a Mock wallet where every rider starts with
// defaultBalance.
func NewMock(defaultBalance int64) *Mock {
	return &Mock{
		balances:       make(map[string]int64),
		defaultBalance: defaultBalance,
		debits:         make(map[string]int64),
	}
}

// SetBalance seeds a rider's balance.
func (m *Mock) SetBalance(riderID string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[riderID] = amount
}

// Balance returns the rider's current balance.
func (m *Mock) Balance(riderID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance(riderID)
}

func (m *Mock) balance(riderID string) int64 {
	if bal, ok := m.balances[riderID]; ok {
		return bal
	}
	return m.defaultBalance
}

// CheckBalance implements Service. The mock treats any positive balance
// as sufficient; fare sufficiency against the estimate is enforced at
// debit time.
func (m *Mock) CheckBalance(ctx context.Context, riderID, serviceClass string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balance(riderID) <= 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// Debit implements Service. Repeated calls with the same idempotency
// key deduct at most once.
func (m *Mock) Debit(ctx context.Context, riderID string, amount int64, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.debits[idempotencyKey]; done {
		return nil
	}
	bal := m.balance(riderID)
	if bal < amount {
		return ErrInsufficientBalance
	}
	m.balances[riderID] = bal - amount
	m.debits[idempotencyKey] = amount
	return nil
}

// Refund implements Service.
func (m *Mock) Refund(ctx context.Context, riderID string, amount int64, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.debits[idempotencyKey]; !done {
		return nil
	}
	delete(m.debits, idempotencyKey)
	m.balances[riderID] = m.balance(riderID) + amount
	return nil
}
