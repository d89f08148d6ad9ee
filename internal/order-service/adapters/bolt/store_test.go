package bolt_test

import (
	"path/filepath"
	"testing"

	"github.com/jcmexdev/storefront-payments/internal/order-service/adapters/bolt"
	"github.com/jcmexdev/storefront-payments/internal/order-service/ports"
	"github.com/jcmexdev/storefront-payments/internal/order-service/ports/storetest"
)

func newTestStore(t *testing.T) *bolt.Store {
	t.Helper()
	s, err := bolt.Open(filepath.Join(t.TempDir(), "orders.bolt"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.Repository {
		return newTestStore(t)
	})
}
