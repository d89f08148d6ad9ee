package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-payments/internal/order-service/adapters/sqlite"
	"github.com/jcmexdev/storefront-payments/internal/order-service/ports"
	"github.com/jcmexdev/storefront-payments/internal/order-service/ports/storetest"
)

func newTestRepo(t *testing.T) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.Open(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.Repository {
		return newTestRepo(t)
	})
}

func TestReopenKeepsOrders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.db")
	ctx := context.Background()

	repo, err := sqlite.Open(path)
	require.NoError(t, err)
	_, _, err = repo.Create(ctx, storetest.NewOrder("persisted", 0))
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	repo, err = sqlite.Open(path)
	require.NoError(t, err)
	defer repo.Close()

	got, err := repo.Get(ctx, "persisted")
	require.NoError(t, err)
	assert.Equal(t, "asha@example.com", got.Customer.Email)
}
