package httpx_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-payments/internal/api-gateway/infra/httpx"
	"github.com/jcmexdev/storefront-payments/internal/pkg/events"
)

func TestStreamEvents(t *testing.T) {
	hub := events.NewHub(8)
	t.Cleanup(hub.Close)

	srv := httptest.NewServer(httpx.NewRouter(httpx.NewHandler(newFakeOrders(), fakeAdmin{}, httpx.WithEvents(hub)), httpx.RouterConfig{}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/orders/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer admin-token")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	sent := events.Event{Type: events.OrderPaid, OrderID: "o-1", Status: "PAID", At: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	hub.Broadcast(sent)

	sc := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.NotEmpty(t, dataLine, "no event received: %v", sc.Err())
	assert.Equal(t, "order.paid", eventLine)

	var got events.Event
	require.NoError(t, json.Unmarshal([]byte(dataLine), &got))
	assert.Equal(t, sent.OrderID, got.OrderID)
	assert.Equal(t, sent.Status, got.Status)

	cancel()
	require.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
