package postgres

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	domain "github.com/fieldsafe/fieldsafe/internal/domain/migration"
	"github.com/fieldsafe/fieldsafe/internal/infra/storage"
)

func setupUserStoreTest(t *testing.T) (context.Context, *pgxpool.Pool, *userStore, func()) {
	t.Helper()
	pool, cleanup := storage.SetupTestContainer(t)
	store := NewUserStore(pool, storage.NoOpTracer())
	return context.Background(), pool, store, cleanup
}

func seedUsers(t *testing.T, ctx context.Context, pool *pgxpool.Pool, n int) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		id := uuid.New()
		_, err := pool.Exec(ctx,
			`INSERT INTO users (id, email, phone) VALUES ($1, $2, $3)`,
			id, fmt.Sprintf("user%d@example.com", i), fmt.Sprintf("+1555010%04d", i),
		)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestUserStoreCountAndFetchPage(t *testing.T) {
	ctx, pool, store, cleanup := setupUserStoreTest(t)
	defer cleanup()

	seedUsers(t, ctx, pool, 20)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 20, count)

	first, err := store.FetchPage(ctx, 15, 0)
	require.NoError(t, err)
	require.Len(t, first, 15)

	second, err := store.FetchPage(ctx, 15, 15)
	require.NoError(t, err)
	require.Len(t, second, 5)

	empty, err := store.FetchPage(ctx, 15, 20)
	require.NoError(t, err)
	require.Empty(t, empty)

	// Pages together cover every row exactly once in a stable order.
	all := append(first, second...)
	seen := make(map[uuid.UUID]struct{}, len(all))
	for _, row := range all {
		seen[row.ID()] = struct{}{}
	}
	require.Len(t, seen, 20)
	require.True(t, sort.SliceIsSorted(all, func(i, j int) bool {
		return all[i].ID().String() < all[j].ID().String()
	}))
}

func TestUserStoreApplyFieldChanges(t *testing.T) {
	ctx, pool, store, cleanup := setupUserStoreTest(t)
	defer cleanup()

	ids := seedUsers(t, ctx, pool, 1)
	id := ids[0]

	newEmail := "fsv1:c29tZWNpcGhlcnRleHQ="
	didWrite, err := store.ApplyFieldChanges(ctx, id, domain.FieldChanges{Email: &newEmail})
	require.NoError(t, err)
	require.True(t, didWrite)

	rows, err := store.FetchPage(ctx, 1, 0)
	require.NoError(t, err)
	require.Equal(t, newEmail, rows[0].Email())
	// The untouched field kept its stored value.
	require.Equal(t, "+15550100000", rows[0].Phone())
}

func TestUserStoreApplyFieldChangesEmptyIsNoOp(t *testing.T) {
	ctx, pool, store, cleanup := setupUserStoreTest(t)
	defer cleanup()

	ids := seedUsers(t, ctx, pool, 1)

	didWrite, err := store.ApplyFieldChanges(ctx, ids[0], domain.FieldChanges{})
	require.NoError(t, err)
	require.False(t, didWrite)
}

func TestUserStoreApplyFieldChangesUnknownUser(t *testing.T) {
	ctx, _, store, cleanup := setupUserStoreTest(t)
	defer cleanup()

	value := "anything"
	_, err := store.ApplyFieldChanges(ctx, uuid.New(), domain.FieldChanges{Email: &value})
	require.Error(t, err)
}

func TestUserStoreApplyFieldChangesIsIdempotent(t *testing.T) {
	ctx, pool, store, cleanup := setupUserStoreTest(t)
	defer cleanup()

	ids := seedUsers(t, ctx, pool, 1)
	value := "fsv1:Zmlyc3Q="

	for i := 0; i < 2; i++ {
		didWrite, err := store.ApplyFieldChanges(ctx, ids[0], domain.FieldChanges{Phone: &value})
		require.NoError(t, err)
		require.True(t, didWrite)
	}

	rows, err := store.FetchPage(ctx, 1, 0)
	require.NoError(t, err)
	require.Equal(t, value, rows[0].Phone())
}

func TestUserStoreAdminOperations(t *testing.T) {
	ctx, _, store, cleanup := setupUserStoreTest(t)
	defer cleanup()

	require.NoError(t, store.WidenIdentityColumns(ctx))

	// Both operations are safe to repeat.
	require.NoError(t, store.EnsureEmailIndex(ctx))
	require.NoError(t, store.EnsureEmailIndex(ctx))
}
