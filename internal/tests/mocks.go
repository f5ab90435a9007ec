package tests

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/internal/repository"
	"dispatch/internal/wallet"
)

// ──────────────────────────────────────────────
// MOCK GEO SEARCHER
// ──────────────────────────────────────────────

// MockSearcher is a mock implementation of the matching engine's
// candidate search.
type MockSearcher struct {
	mu         sync.RWMutex
	candidates []geo.DriverLocation

	// Counters for verification
	SearchCallCount int32

	// Error injection
	SearchError error
}

// NewMockSearcher creates a new mock searcher.
func NewMockSearcher() *MockSearcher {
	return &MockSearcher{}
}

// SetCandidates replaces the candidate list returned by Search.
func (m *MockSearcher) SetCandidates(candidates []geo.DriverLocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = candidates
}

func (m *MockSearcher) Search(lat, lng, radiusMeters float64, limit int, now time.Time) ([]geo.DriverLocation, error) {
	atomic.AddInt32(&m.SearchCallCount, 1)
	if m.SearchError != nil {
		return nil, m.SearchError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]geo.DriverLocation, len(m.candidates))
	copy(out, m.candidates)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ──────────────────────────────────────────────
// MOCK ADMISSION CONTROLLER
// ──────────────────────────────────────────────

// MockLimiter is a mock admission controller with a fixed verdict.
type MockLimiter struct {
	Allow bool

	// Counters for verification
	AcquireCallCount int32
}

// NewMockLimiter creates a mock limiter that admits everything.
func NewMockLimiter() *MockLimiter {
	return &MockLimiter{Allow: true}
}

func (m *MockLimiter) TryAcquire(identity string, now time.Time) bool {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	return m.Allow
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is an in-memory stand-in for the Redis offer locks.
type MockLockStore struct {
	mu    sync.Mutex
	locks map[string]bool

	// Counters for verification
	AcquireCallCount int32
	ReleaseCallCount int32

	// Error injection
	AcquireError error
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{locks: make(map[string]bool)}
}

// HoldLock pre-locks a driver, simulating a concurrent offer.
func (m *MockLockStore) HoldLock(driverID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[driverID] = true
}

func (m *MockLockStore) AcquireDriverLock(ctx context.Context, driverID string, ttl time.Duration) (bool, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	if m.AcquireError != nil {
		return false, m.AcquireError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[driverID] {
		return false, nil
	}
	m.locks[driverID] = true
	return true, nil
}

func (m *MockLockStore) ReleaseDriverLock(ctx context.Context, driverID string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, driverID)
	return nil
}

// ──────────────────────────────────────────────
// MOCK WALLET SERVICE
// ──────────────────────────────────────────────

// MockWallet is a mock wallet with call counters and error injection.
type MockWallet struct {
	mu      sync.Mutex
	debits  map[string]int64 // idempotency key -> amount
	refunds map[string]int64

	// Counters for verification
	CheckBalanceCallCount int32
	DebitCallCount        int32
	RefundCallCount       int32

	// Error injection
	CheckBalanceError error
	DebitError        error
	RefundError       error
}

// NewMockWallet creates a new mock wallet that approves everything.
func NewMockWallet() *MockWallet {
	return &MockWallet{
		debits:  make(map[string]int64),
		refunds: make(map[string]int64),
	}
}

func (m *MockWallet) CheckBalance(ctx context.Context, riderID, serviceClass string) error {
	atomic.AddInt32(&m.CheckBalanceCallCount, 1)
	return m.CheckBalanceError
}

func (m *MockWallet) Debit(ctx context.Context, riderID string, amount int64, idempotencyKey string) error {
	atomic.AddInt32(&m.DebitCallCount, 1)
	if m.DebitError != nil {
		return m.DebitError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debits[idempotencyKey] = amount
	return nil
}

func (m *MockWallet) Refund(ctx context.Context, riderID string, amount int64, idempotencyKey string) error {
	atomic.AddInt32(&m.RefundCallCount, 1)
	if m.RefundError != nil {
		return m.RefundError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds[idempotencyKey] = amount
	return nil
}

// RefundedKeys returns the idempotency keys refunded so far.
func (m *MockWallet) RefundedKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.refunds))
	for k := range m.refunds {
		keys = append(keys, k)
	}
	return keys
}

// ──────────────────────────────────────────────
// MOCK AUDIT REPOSITORY
// ──────────────────────────────────────────────

// MockAuditRepository is an in-memory stand-in for the transition
// archive.
type MockAuditRepository struct {
	mu          sync.Mutex
	transitions map[string][]domain.Transition

	// Counters for verification
	RecordCallCount int32
	ReadCallCount   int32

	// Error injection
	RecordError error
	ReadError   error
}

// NewMockAuditRepository creates a new mock audit repository.
func NewMockAuditRepository() *MockAuditRepository {
	return &MockAuditRepository{transitions: make(map[string][]domain.Transition)}
}

func (m *MockAuditRepository) RecordTransition(ctx context.Context, tripID string, tr domain.Transition) error {
	atomic.AddInt32(&m.RecordCallCount, 1)
	if m.RecordError != nil {
		return m.RecordError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[tripID] = append(m.transitions[tripID], tr)
	return nil
}

func (m *MockAuditRepository) Transitions(ctx context.Context, tripID string) ([]domain.Transition, error) {
	atomic.AddInt32(&m.ReadCallCount, 1)
	if m.ReadError != nil {
		return nil, m.ReadError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.transitions[tripID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := make([]domain.Transition, len(stored))
	copy(out, stored)
	return out, nil
}

// ArchivedCount returns how many transitions are stored for a trip.
func (m *MockAuditRepository) ArchivedCount(tripID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transitions[tripID])
}

// Interface checks.
var (
	_ wallet.Service             = (*MockWallet)(nil)
	_ repository.AuditRepository = (*MockAuditRepository)(nil)
)
