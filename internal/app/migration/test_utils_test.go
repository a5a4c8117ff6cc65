package migration

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	domain "github.com/fieldsafe/fieldsafe/internal/domain/migration"
)

// mockUserStore implements domain.UserStore for testing.
type mockUserStore struct{ mock.Mock }

func (m *mockUserStore) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockUserStore) FetchPage(ctx context.Context, limit, offset int) ([]domain.UserRow, error) {
	args := m.Called(ctx, limit, offset)
	if rows := args.Get(0); rows != nil {
		return rows.([]domain.UserRow), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockUserStore) ApplyFieldChanges(ctx context.Context, id uuid.UUID, changes domain.FieldChanges) (bool, error) {
	args := m.Called(ctx, id, changes)
	return args.Bool(0), args.Error(1)
}

func (m *mockUserStore) WidenIdentityColumns(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockUserStore) EnsureEmailIndex(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// mockKeyRepository implements domain.KeyRepository for testing.
type mockKeyRepository struct{ mock.Mock }

func (m *mockKeyRepository) DeletePreviousProfile(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockKeyRepository) CurrentKeyLocation() string {
	args := m.Called()
	return args.String(0)
}

// mockScheduler implements domain.Scheduler for testing.
type mockScheduler struct{ mock.Mock }

func (m *mockScheduler) Schedule(ctx context.Context, job *domain.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

// capturingNotifier records every status message it is handed.
type capturingNotifier struct {
	mu   sync.Mutex
	msgs []domain.StatusMessage
}

func (n *capturingNotifier) Notify(_ context.Context, msg domain.StatusMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *capturingNotifier) messages() []domain.StatusMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.StatusMessage(nil), n.msgs...)
}

// stubCrypto is a deterministic domain.CryptoService: encryption prefixes the
// value, decryption strips the prefix. Values carrying failToken error out,
// exercising the per-field fail-open path.
type stubCrypto struct{ failToken string }

const encPrefix = "enc:"

func (s *stubCrypto) Encrypt(_ context.Context, plaintext string, _ domain.KeyRef) (string, error) {
	if s.failToken != "" && strings.Contains(plaintext, s.failToken) {
		return "", errStubCrypto
	}
	if strings.HasPrefix(plaintext, encPrefix) {
		return plaintext, nil
	}
	return encPrefix + plaintext, nil
}

func (s *stubCrypto) Decrypt(_ context.Context, ciphertext string, _ domain.KeyRef) (string, error) {
	if s.failToken != "" && strings.Contains(ciphertext, s.failToken) {
		return "", errStubCrypto
	}
	return strings.TrimPrefix(ciphertext, encPrefix), nil
}

var errStubCrypto = errors.New("simulated crypto failure")

// rowFixtures builds n deterministic user rows.
func rowFixtures(n int) []domain.UserRow {
	rows := make([]domain.UserRow, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, domain.NewUserRow(uuid.New(), "user@example.com", "+15550100"))
	}
	return rows
}
