package bus

import (
	"context"
	"errors"
	"sync"

	goredis "github.com/redis/go-redis/v9"
)

var ErrNilClient = errors.New("bus: nil redis client")

// Redis is a Bus over Redis pub/sub. Redis delivers to connected
// subscribers only and never retries, which matches the best-effort
// contract exactly.
type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ Bus = (*Redis)(nil)

type RedisConfig struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this bus exclusively owns the client
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

func (b *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.rdb.Publish(ctx, topic, payload).Err()
}

func (b *Redis) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, topic)
	// confirm the SUBSCRIBE before returning so a dead server surfaces here
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	sub := &redisSub{ps: ps, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for msg := range ps.Channel() {
			h([]byte(msg.Payload))
		}
	}()
	return sub, nil
}

func (b *Redis) Close(context.Context) error {
	if b.closeClient {
		if err := b.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

type redisSub struct {
	ps   *goredis.PubSub
	done chan struct{}
	once sync.Once
	err  error
}

func (s *redisSub) Close() error {
	s.once.Do(func() {
		s.err = s.ps.Close()
		<-s.done // wait for the delivery goroutine to drain
	})
	return s.err
}
