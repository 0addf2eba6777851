// Package redisnotify signals profile provisioning over Redis pub/sub so
// waiting sign in flows wake up as soon as the profile row exists.
package redisnotify

import (
	"context"
	"errors"
	"strings"
	"sync"

	auth "github.com/goliatone/go-auth-session"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix namespaces the per user channels.
const DefaultChannelPrefix = "auth:profile:provisioned:"

// Notifier implements auth.ProfileNotifier on top of Redis pub/sub.
type Notifier struct {
	client goredis.UniversalClient
	prefix string
	logger auth.Logger
}

var _ auth.ProfileNotifier = (*Notifier)(nil)

// Option customizes the notifier.
type Option func(*Notifier)

// WithChannelPrefix overrides DefaultChannelPrefix.
func WithChannelPrefix(prefix string) Option {
	return func(n *Notifier) {
		if prefix != "" {
			n.prefix = prefix
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l auth.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// New returns a notifier using client.
func New(client goredis.UniversalClient, opts ...Option) *Notifier {
	n := &Notifier{
		client: client,
		prefix: DefaultChannelPrefix,
		logger: auth.NopLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// Channel returns the channel name for userID.
func (n *Notifier) Channel(userID string) string {
	return n.prefix + strings.TrimSpace(userID)
}

// Publish announces that the profile of userID was provisioned with role.
func (n *Notifier) Publish(ctx context.Context, userID string, role auth.Role) error {
	if n.client == nil {
		return errors.New("redis client should be initialized")
	}
	return n.client.Publish(ctx, n.Channel(userID), string(role)).Err()
}

// Subscribe implements auth.ProfileNotifier. The returned channel carries
// the published role and is closed once cancel runs or ctx is done.
func (n *Notifier) Subscribe(ctx context.Context, userID string) (<-chan string, func(), error) {
	if n.client == nil {
		return nil, nil, errors.New("redis client should be initialized")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, nil, errors.New("user id should not be empty")
	}

	ps := n.client.Subscribe(ctx, n.Channel(userID))
	// wait for the subscription confirmation so no publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}

	out := make(chan string, 1)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			if err := ps.Close(); err != nil {
				n.logger.Debug("redis pubsub close", "user_id", userID, "error", err)
			}
		})
	}

	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				cancel()
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				default:
				}
			}
		}
	}()

	return out, cancel, nil
}
