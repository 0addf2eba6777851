package redisnotify_test

import (
	"context"
	"os"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-auth-session/notify/redisnotify"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_Channel(t *testing.T) {
	n := redisnotify.New(nil)
	assert.Equal(t, "auth:profile:provisioned:user-1", n.Channel("user-1"))

	n = redisnotify.New(nil, redisnotify.WithChannelPrefix("portal:"))
	assert.Equal(t, "portal:user-1", n.Channel(" user-1 "))
}

func TestNotifier_RequiresClient(t *testing.T) {
	n := redisnotify.New(nil)

	_, _, err := n.Subscribe(context.Background(), "user-1")
	require.Error(t, err)

	err = n.Publish(context.Background(), "user-1", auth.RoleReader)
	require.Error(t, err)
}

func TestNotifier_PublishSubscribe(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())

	n := redisnotify.New(client, redisnotify.WithChannelPrefix("test:"+time.Now().Format("150405.000")+":"))

	ch, unsubscribe, err := n.Subscribe(ctx, "user-42")
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, n.Publish(ctx, "user-42", auth.RoleContributor))

	select {
	case role := <-ch:
		assert.Equal(t, string(auth.RoleContributor), role)
	case <-ctx.Done():
		t.Fatal("timed out waiting for notification")
	}
}
