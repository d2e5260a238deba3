package relay

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/fastchecker/internal/logger"
	"github.com/vrsandeep/fastchecker/internal/websocket"
)

func TestLocalBroker_StoppedHub(t *testing.T) {
	hub := websocket.NewHub()
	go hub.Run()
	b := NewLocalBroker(hub)

	assert.NoError(t, b.Publish(context.Background(), []byte("x")))

	hub.Stop()
	assert.Error(t, b.Publish(context.Background(), []byte("x")))
	assert.NoError(t, b.Close())
}

// Needs a reachable Redis; set FASTCHECKER_TEST_REDIS_ADDR to run it.
func TestRedisBroker_PublishReachesHub(t *testing.T) {
	addr := os.Getenv("FASTCHECKER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FASTCHECKER_TEST_REDIS_ADDR not set")
	}

	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := NewRedisBroker(ctx, RedisOptions{Addr: addr, Channel: "fastchecker:test"}, hub, logger.Nop())
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Publish(ctx, []byte(`{"type":"new-item","item_id":"A"}`)))
}
