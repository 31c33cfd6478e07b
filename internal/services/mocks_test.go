package services

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/caremesh/telecare/internal/media"
	"github.com/caremesh/telecare/internal/models"
)

// MockProvider is a mock implementation of media.ProviderGateway.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) CreateRoom(ctx context.Context, cfg media.RoomConfig) (media.RoomRef, error) {
	args := m.Called(ctx, cfg)
	return args.Get(0).(media.RoomRef), args.Error(1)
}

func (m *MockProvider) DestroyRoom(ctx context.Context, ref media.RoomRef) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

func (m *MockProvider) FetchStats(ctx context.Context, ref media.RoomRef) (media.RawStats, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(media.RawStats), args.Error(1)
}

func (m *MockProvider) RequestRecovery(ctx context.Context, ref media.RoomRef) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

// MockVerifier is a mock implementation of EncryptionVerifier.
type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) VerifyEncryption(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	args := m.Called(ctx, sessionID)
	return args.Bool(0), args.Error(1)
}

// MockPersistence is a mock implementation of PersistenceGateway.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) Save(ctx context.Context, session *models.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockPersistence) Update(ctx context.Context, session *models.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockPersistence) AppendAudit(ctx context.Context, sessionID uuid.UUID, entry models.AuditEntry) error {
	args := m.Called(ctx, sessionID, entry)
	return args.Error(0)
}

func (m *MockPersistence) Load(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	args := m.Called(ctx, sessionID)
	if s := args.Get(0); s != nil {
		return s.(*models.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockMonitor is a mock implementation of SessionMonitor.
type MockMonitor struct {
	mock.Mock
}

func (m *MockMonitor) Start(sessionID uuid.UUID) {
	m.Called(sessionID)
}

func (m *MockMonitor) Stop(sessionID uuid.UUID) {
	m.Called(sessionID)
}

// recordingBus captures published events and room closures in order.
type recordingBus struct {
	mu     sync.Mutex
	events []busEvent
	closed []uuid.UUID
}

type busEvent struct {
	SessionID uuid.UUID
	Type      string
	Payload   any
}

func (b *recordingBus) Publish(sessionID uuid.UUID, eventType string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, busEvent{SessionID: sessionID, Type: eventType, Payload: payload})
}

func (b *recordingBus) CloseSession(sessionID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = append(b.closed, sessionID)
}

func (b *recordingBus) ClosedCount(sessionID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, id := range b.closed {
		if id == sessionID {
			n++
		}
	}
	return n
}

func (b *recordingBus) Count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// noopPersistence discards everything; for tests that do not assert on
// the persistence gateway.
type noopPersistence struct{}

func (noopPersistence) Save(context.Context, *models.Session) error   { return nil }
func (noopPersistence) Update(context.Context, *models.Session) error { return nil }
func (noopPersistence) AppendAudit(context.Context, uuid.UUID, models.AuditEntry) error {
	return nil
}
func (noopPersistence) Load(context.Context, uuid.UUID) (*models.Session, error) {
	return nil, nil
}
