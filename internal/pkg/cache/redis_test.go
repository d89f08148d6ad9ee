package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jcmexdev/storefront-payments/internal/pkg/cache"
)

func TestGenerateKey(t *testing.T) {
	c := cache.NewRedisCache("localhost:0", "storefront")
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, "storefront:create-order:abc", c.GenerateKey("create-order", "abc"))
}

func TestPingUnreachable(t *testing.T) {
	c := cache.NewRedisCache("127.0.0.1:1", "storefront")
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, c.Ping(ctx))
}
